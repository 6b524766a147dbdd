package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath  string
	serviceName string
	accessGroup string
)

var rootCmd = &cobra.Command{
	Use:           "keystash",
	Short:         "Typed secret storage scoped by service and access group",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.keystash/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serviceName, "service", "", "service name (default derived from the binary)")
	rootCmd.PersistentFlags().StringVar(&accessGroup, "access-group", "", "access group shared between applications")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
