// Command spooltag manages a library of Bambu Lab filament tag dumps: it keeps
// the raw, JSON and Flipper NFC representations of each tag in sync, repairs
// placeholder keys and exports tags as OpenPrintTag payloads.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/SimplyPrint/spooltag/internal/api"
	"github.com/SimplyPrint/spooltag/internal/backup"
	"github.com/SimplyPrint/spooltag/internal/config"
	"github.com/SimplyPrint/spooltag/internal/logging"
	"github.com/SimplyPrint/spooltag/internal/settings"
	"github.com/spf13/cobra"
)

// errReported is returned by commands that already printed their failures; it
// only sets the exit status.
var errReported = errors.New("completed with errors")

// app carries the state shared by all subcommands.
type app struct {
	configPath string
	envFile    string
	logLevel   string
	verbose    bool

	cfg *config.Config
}

func main() {
	root := newRootCmd()
	err := root.Execute()
	logging.FlushSentry(2 * time.Second)
	if err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "spooltag",
		Short: "Filament tag dump toolkit",
		Long: "Convert, verify and repair MIFARE Classic 1K filament tag dumps, and keep\n" +
			"a directory of tag files consistent across the raw, JSON and Flipper NFC formats.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("SPOOLTAG_CONFIG"), "YAML configuration file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "dotenv file with SPOOLTAG_* variables")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "debug|info|warn|error")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "echo log entries to stderr")

	root.AddCommand(
		a.syncCmd(),
		a.repairCmd(),
		a.convertCmd(),
		a.keysCmd(),
		a.infoCmd(),
		a.exportOPTCmd(),
		a.serveCmd(),
		versionCmd(),
	)
	return root
}

// setup loads configuration and initializes logging and crash reporting.
func (a *app) setup() error {
	level, ok := logging.ParseLevel(a.logLevel)
	if !ok {
		return fmt.Errorf("invalid --log-level %q", a.logLevel)
	}
	logging.Init(1000, level)
	logging.Get().SetLevel(level)
	logging.Get().SetEcho(a.verbose)

	if a.envFile != "" {
		if err := config.LoadEnvFile(a.envFile); err != nil {
			return err
		}
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if _, err := settings.Load(); err != nil {
		logging.Warn(logging.CatSystem, "Failed to load settings, using defaults", map[string]any{
			"error": err.Error(),
		})
	}
	logging.InitSentry(api.Version, settings.IsCrashReportingEnabled())
	return nil
}

// backupDir returns where repair snapshots go, or "" when disabled.
func (a *app) backupDir(disabled bool) string {
	if disabled || !a.cfg.BackupsEnabled() {
		return ""
	}
	if a.cfg.Backup.Dir != "" {
		return a.cfg.Backup.Dir
	}
	return backup.DefaultDir()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "spooltag %s\n", api.Version)
			fmt.Fprintf(out, "Build time: %s\n", api.BuildTime)
			fmt.Fprintf(out, "Git commit: %s\n", api.GitCommit)
			return nil
		},
	}
}
