package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/logindex/internal/config"
)

// Execute builds and runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	var (
		cfgFile  string
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:   "logindex",
		Short: "Index web server access logs into SQLite and search them",
		Long: `logindex parses combined format access logs (with optional virtual host
and key="value" extras) from files, syslog, the systemd journal or stdin,
and stores them in a SQLite index that can be searched with a small
keyword query language:

  logindex search status 404 date yesterday
  logindex search ip 10.% not status 200 301

Each ingestor has its dedicated processor chain. All processed lines are
fan-out to every configured emitter (stdout, rotating file, elasticsearch,
index).

Hot-reload: When a config file is specified, changes are automatically applied
without requiring a restart.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		NewRunCmd(&cfgFile, &logLevel),
		NewImportCmd(&cfgFile, &logLevel),
		NewSearchCmd(&cfgFile, &logLevel),
		NewCountCmd(&cfgFile),
		NewReverseCmd(&cfgFile),
		NewExportCmd(),
		NewCompileCmd(&cfgFile),
		NewParseCmd(&logLevel),
		NewValidateCmd(&cfgFile),
		NewVersionCmd(),
	)

	return rootCmd
}

func loadConfig(cfgFile string) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
