package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rumor-ml/commons.systems/finimport/internal/config"
	"github.com/rumor-ml/commons.systems/finimport/internal/logging"
	"github.com/rumor-ml/commons.systems/finimport/internal/ui"
)

var version = "0.2.0"

// app carries what every subcommand needs once flags and config are read.
type app struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
	logger  *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "finimport",
		Short: "Import and deduplicate financial statement exports",
		Long: `finimport detects the format of bank and card exports (BofA and Amex CSV,
saved custom CSV layouts, QIF, OFX/QFX), normalizes them into one transaction
shape and flags duplicates within a file, across a batch and against what is
already stored.

Examples:
  # Preview a directory of statements
  finimport import ~/statements

  # Commit, forwarding duplicates as well
  finimport import --commit --override ~/statements/2025-01

  # Undo a committed file
  finimport sessions rollback 7f3c...`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: $HOME/.config/finimport/finimport.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console, json)")
	flags.String("backend", "", "storage backend (sqlite, firestore, state)")
	flags.String("db", "", "SQLite database path")
	flags.String("state-file", "", "hash state file for the state backend")
	flags.String("formats-file", "", "custom formats YAML file")

	root.AddCommand(
		newDetectCmd(a),
		newImportCmd(a),
		newSessionsCmd(a),
		newFormatsCmd(a),
		newVersionCmd(),
	)
	return root
}

var flagKeys = map[string]string{
	"log-level":    "logging.level",
	"log-format":   "logging.format",
	"backend":      "storage.backend",
	"db":           "storage.path",
	"state-file":   "storage.state_file",
	"formats-file": "import.formats_file",
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	ui.Out = cmd.ErrOrStderr()

	a.v = config.New(a.cfgFile)
	for flag, key := range flagKeys {
		if err := a.v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", flag, err)
		}
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := logging.Setup(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	a.logger = logger
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// Skips config loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "finimport version %s\n", version)
		},
	}
}
