package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"gitlab.com/tinyland/lab/sysmon/storage"
)

// withBackend loads the configuration and opens the configured store for
// the duration of fn.
func (a *app) withBackend(cmd *cobra.Command, fn func(storage.Backend) error) error {
	if err := a.setup(cmd); err != nil {
		return err
	}
	backend, err := storage.Open(a.cfg.Storage, a.logger)
	if err != nil {
		return err
	}
	defer backend.Close()
	return fn(backend)
}

func (a *app) newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write every stored snapshot to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(cmd, func(b storage.Backend) error {
				ctx := cmd.Context()
				if err := b.Export(ctx, args[0]); err != nil {
					return err
				}
				n, err := b.Count(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d snapshots to %s\n", n, args[0])
				return nil
			})
		},
	}
}

func (a *app) newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Append snapshots from a JSON export to the store",
		Long: `Append snapshots from a JSON export to the store. Retention still applies,
so importing more than storage.max_records keeps only the newest.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(cmd, func(b storage.Backend) error {
				n, err := storage.Import(cmd.Context(), b, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d snapshots from %s\n", n, args[0])
				return nil
			})
		},
	}
}

func (a *app) newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(cmd, func(b storage.Backend) error {
				ctx := cmd.Context()
				n, err := b.Count(ctx)
				if err != nil {
					return err
				}
				if err := b.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d snapshots\n", n)
				return nil
			})
		},
	}
}
