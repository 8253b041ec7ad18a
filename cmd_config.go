package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (a *app) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and change the configuration file",
		Long: `Inspect and change the configuration file. Keys are dotted paths such as
display.refresh_interval or storage.backend. Values are parsed as YAML, so
lists are written as [a, b].

Environment variables (SYSMON_DISPLAY_REFRESH_INTERVAL, ...) and flags
override the file for a single run and are never written back.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the configuration file contents with defaults filled in",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := a.configStore().Marshal()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the configuration file location",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), a.configStore().Path())
			},
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print one configuration value",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := a.configStore().Get(args[0])
				if err != nil {
					return err
				}
				s, err := formatValue(v)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), s)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Change one configuration value and save the file",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				store := a.configStore()
				if err := store.Set(args[0], args[1]); err != nil {
					return err
				}
				v, err := store.Get(args[0])
				if err != nil {
					return err
				}
				s, _ := formatValue(v)
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], s)
				return nil
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Overwrite the configuration file with the defaults",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				store := a.configStore()
				if err := store.Reset(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored defaults in %s\n", store.Path())
				return nil
			},
		},
	)
	return cmd
}

// formatValue renders a config value the way it would appear in the file.
func formatValue(v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("format value: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
