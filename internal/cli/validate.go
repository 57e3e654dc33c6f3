package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/logindex/internal/config"
	"github.com/GabrielNunesIT/logindex/internal/pipeline"
	"github.com/GabrielNunesIT/logindex/internal/search"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgFile)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}

			compiler, names, err := checkSearchConfig(cfg)
			if err != nil {
				return fmt.Errorf("search configuration error: %w", err)
			}

			// Create a silent logger for validation (discards output)
			log := logger.NewConsoleLogger(io.Discard)

			p, err := pipeline.New(cfg, log)
			if err != nil {
				return fmt.Errorf("pipeline configuration error: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration valid:\n")
			fmt.Fprintf(out, "  Ingestors: %d enabled\n", p.IngestorCount())
			fmt.Fprintf(out, "  Emitters:  %d enabled\n", p.EmitterCount())
			fmt.Fprintf(out, "  Alerts:    %d\n", len(names))
			fmt.Fprintf(out, "  Timezone:  %s\n", compiler.Location())
			return nil
		},
	}
}

// checkSearchConfig verifies the search timezone and that every alert
// query compiles to a filter. It returns the compiler and the sorted alert
// names.
func checkSearchConfig(cfg *config.Config) (*search.Compiler, []string, error) {
	compiler, err := search.NewInZone(cfg.Search.Timezone)
	if err != nil {
		return nil, nil, err
	}

	names := make([]string, 0, len(cfg.Emitters.Index.Alerts))
	for name := range cfg.Emitters.Index.Alerts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if compiler.Compile(cfg.Emitters.Index.Alerts[name]) == "" {
			return nil, nil, fmt.Errorf("alert %q has no searchable terms", name)
		}
	}
	return compiler, names, nil
}
