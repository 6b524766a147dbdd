package main

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// runValueCommand executes a shell command and captures its stdout. The
// command must print the value (and only the value).
func runValueCommand(command string) (string, error) {
	cmd := exec.Command("/bin/sh", "-c", command)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("exit code %d: %s", exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}
	return strings.TrimRight(string(output), "\n"), nil
}
