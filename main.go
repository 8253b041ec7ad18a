// sysmon is a terminal system monitor.
//
// It samples CPU, memory, disk, network and process metrics on a fixed
// interval, keeps a short in-memory history for trend sparklines, and can
// persist snapshots to a JSON file or SQLite database with bounded
// retention.
//
// Usage:
//
//	sysmon monitor [-i seconds] [--per-cpu] [--no-processes] [--json] [--no-store] [--metrics-addr addr]
//	sysmon snapshot [--json] [--per-cpu]
//	sysmon history [-n count] [--since dur] [--json]
//	sysmon config show|path|get <key>|set <key> <value>|reset
//	sysmon export <file> | import <file> | clear
//	sysmon diagnose
//	sysmon man
//	sysmon version
//
// Global flags:
//
//	--config string   Path to the configuration file (default: $XDG_CONFIG_HOME/sysmon/config.yaml)
//	--verbose         Enable debug logging
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gitlab.com/tinyland/lab/sysmon/config"

	// Storage backends register themselves with storage.Open.
	_ "gitlab.com/tinyland/lab/sysmon/storage/jsonfile"
	_ "gitlab.com/tinyland/lab/sysmon/storage/sqlite"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	a := newApp()
	root := a.newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	a.close()
	if err != nil {
		fmt.Fprintln(stderr, formatError(err))
		return 1
	}
	return 0
}

// app carries the state shared by every subcommand: global flags, the
// override layer and, once setup has run, the loaded configuration.
type app struct {
	configPath string
	verbose    bool
	v          *viper.Viper

	store   *config.Store
	cfg     *config.Config
	logger  *slog.Logger
	closers []io.Closer
}

func newApp() *app {
	return &app{
		v:      config.NewViper(),
		logger: discardLogger(),
	}
}

func (a *app) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sysmon",
		Short: "Terminal system monitor",
		Long: `sysmon samples CPU, memory, disk, network and process metrics and shows
them as a live terminal dashboard, with optional snapshot persistence.

Examples:
  sysmon monitor
  sysmon monitor -i 1 --per-cpu
  sysmon monitor --json --no-store | jq .cpu.percent
  SYSMON_STORAGE_ENABLED=true sysmon monitor
  sysmon history -n 10 --since 1h`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to the configuration file")
	root.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "Enable debug logging")

	root.AddCommand(
		a.newMonitorCmd(),
		a.newSnapshotCmd(),
		a.newHistoryCmd(),
		a.newConfigCmd(),
		a.newExportCmd(),
		a.newImportCmd(),
		a.newClearCmd(),
		a.newDiagnoseCmd(),
		a.newManCmd(),
		a.newVersionCmd(),
	)
	return root
}

// configStore returns the store for --config or the default path.
func (a *app) configStore() *config.Store {
	if a.store == nil {
		path := a.configPath
		if path == "" {
			path = config.DefaultPath()
		}
		a.store = config.NewStore(path)
	}
	return a.store
}

// setup loads the configuration, applies environment and flag overrides,
// and opens the log file.
func (a *app) setup(cmd *cobra.Command) error {
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := a.v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind --%s: %w", name, err)
			}
		}
	}

	cfg, err := a.configStore().Load()
	if err != nil {
		return err
	}
	if err := config.ApplyOverrides(cfg, a.v); err != nil {
		return err
	}
	a.cfg = cfg

	logger, closer, err := newLogger(cfg.Logging, a.verbose)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: logging disabled: %v\n", err)
		return nil
	}
	a.logger = logger.With("pid", os.Getpid())
	a.closers = append(a.closers, closer)
	a.logger.Debug("configuration loaded", "path", a.store.Path(), "command", cmd.Name())
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
	a.closers = nil
}

// formatError renders an error for the terminal.
func formatError(err error) string {
	var ce *config.ConfigError
	if errors.As(err, &ce) {
		return fmt.Sprintf("config error: %s (run \"sysmon config reset\" to restore defaults)", ce.Error())
	}
	return "sysmon: " + err.Error()
}
