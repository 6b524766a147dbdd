package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/benaskins/keystash/internal/keychain"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	setType          string
	setAccessibility string
	setExec          string
	getType          string
	filterAccess     string
	wipeConfirmed    bool
)

var setCmd = &cobra.Command{
	Use:   "set <key> [value]",
	Short: "Store a value",
	Long:  "Store a value. If value is omitted, reads from stdin (useful for piping). With --exec, stores the stdout of a shell command.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := accessibilityOptions(setAccessibility)
		if err != nil {
			return err
		}

		key := args[0]
		value, err := readValue(cmd, args)
		if err != nil {
			return err
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ok, err := setTyped(s.wrapper, key, setType, value, opts...)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("storing %q failed", key)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Value %q stored\n", key)
		return nil
	},
}

func readValue(cmd *cobra.Command, args []string) (string, error) {
	switch {
	case setExec != "" && len(args) == 2:
		return "", errors.New("value and --exec are mutually exclusive")
	case setExec != "":
		v, err := runValueCommand(setExec)
		if err != nil {
			return "", fmt.Errorf("running %q: %w", setExec, err)
		}
		return v, nil
	case len(args) == 2:
		return args[1], nil
	}

	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Enter value: ")
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", fmt.Errorf("reading value: %w", err)
		}
		fmt.Fprintln(cmd.ErrOrStderr())
		return string(b), nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimRight(string(b), "\n"), nil
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a stored value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := accessibilityOptions(filterAccess)
		if err != nil {
			return err
		}
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		v, ok, err := getTyped(s.wrapper, args[0], getType, opts...)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no %s value for %q", typeOrDefault(getType), args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	},
}

func typeOrDefault(t string) string {
	if t == "" {
		return typeString
	}
	return t
}

var hasCmd = &cobra.Command{
	Use:   "has <key>",
	Short: "Report whether a key has a value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := accessibilityOptions(filterAccess)
		if err != nil {
			return err
		}
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		fmt.Fprintln(cmd.OutOrStdout(), s.wrapper.HasValue(args[0], opts...))
		return nil
	},
}

var accessibilityCmd = &cobra.Command{
	Use:   "accessibility <key>",
	Short: "Print the accessibility class of a stored value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		a, ok := s.wrapper.Accessibility(args[0])
		if !ok {
			return fmt.Errorf("no accessibility for %q", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), a)
		return nil
	},
}

var refCmd = &cobra.Command{
	Use:   "ref <key>",
	Short: "Print the persistent reference of a stored value (base64)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := accessibilityOptions(filterAccess)
		if err != nil {
			return err
		}
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ref, ok := s.wrapper.DataRef(args[0], opts...)
		if !ok {
			return fmt.Errorf("no reference for %q", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(ref))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List keys in scope",
	Aliases: []string{"ls"},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		keys, ok := s.wrapper.Keys()
		if !ok {
			return errors.New("listing keys failed")
		}
		if len(keys) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No keys stored")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tACCESSIBILITY")
		for _, k := range keys {
			a, _ := s.wrapper.Accessibility(k)
			fmt.Fprintf(w, "%s\t%s\n", k, a)
		}
		w.Flush()
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <key>",
	Short:   "Remove a stored value",
	Aliases: []string{"rm"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := accessibilityOptions(filterAccess)
		if err != nil {
			return err
		}
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if !s.wrapper.RemoveObject(args[0], opts...) {
			return fmt.Errorf("deleting %q failed", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Value %q deleted\n", args[0])
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every value in the service and access group",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if !s.wrapper.RemoveAllKeys() {
			return errors.New("clearing keys failed")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", s.wrapper.Service())
		return nil
	},
}

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Remove every entry of every class the backend can reach",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !wipeConfirmed {
			return errors.New("wipe removes entries outside this service; pass --yes to confirm")
		}
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if !keychain.WipeKeychain(s.backend) {
			return errors.New("wipe failed")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Keychain wiped")
		return nil
	},
}

func init() {
	setCmd.Flags().StringVar(&setType, "type", typeString, "value type: string, int, float, bool, data (base64)")
	setCmd.Flags().StringVar(&setAccessibility, "accessibility", "", "accessibility class, e.g. when-unlocked")
	setCmd.Flags().StringVar(&setExec, "exec", "", "shell command whose stdout is the value")
	getCmd.Flags().StringVar(&getType, "type", typeString, "value type: string, int, float, bool, data (base64)")
	for _, c := range []*cobra.Command{getCmd, hasCmd, refCmd, deleteCmd} {
		c.Flags().StringVar(&filterAccess, "accessibility", "", "only match entries stored with this accessibility class")
	}
	wipeCmd.Flags().BoolVar(&wipeConfirmed, "yes", false, "confirm the wipe")

	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(hasCmd)
	rootCmd.AddCommand(accessibilityCmd)
	rootCmd.AddCommand(refCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(wipeCmd)
}
