package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/logindex/internal/config"
	"github.com/GabrielNunesIT/logindex/internal/index"
	"github.com/GabrielNunesIT/logindex/internal/ingestor"
	"github.com/GabrielNunesIT/logindex/internal/pipeline"
)

// NewImportCmd creates the import command.
func NewImportCmd(cfgFile, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [file...]",
		Short: "Index log files (or stdin) once and exit",
		Long: `Import reads every given file to its end and stores the parsed lines in
the index. Lines already present are skipped. With --checkpoint, a later
import of the same files only reads what was appended since.

Without file arguments, lines are read from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args, cfgFile, logLevel)
		},
	}

	cmd.Flags().String("db", "", "SQLite index path (default: emitters.index.path)")
	cmd.Flags().String("checkpoint", "", "file storing read offsets to resume later imports")
	cmd.Flags().String("geo-db", "", "GeoIP2/GeoLite2 City database used to fill missing locations")
	cmd.Flags().Bool("unwrap-json", false, "read the log line from a JSON message field")

	return cmd
}

func runImport(cmd *cobra.Command, args []string, cfgFile, logLevel *string) error {
	cfg, err := loadConfig(*cfgFile)
	if err != nil {
		return err
	}
	log := commandLogger(cmd, *logLevel, cfg)

	importCfg := importConfig(cmd, cfg, args)

	var opts []pipeline.Option
	if len(args) == 0 {
		stdin := ingestor.NewStdinIngestorWithReader(cfg.Ingestors.Stdin, cmd.InOrStdin(), log)
		opts = append(opts, pipeline.WithIngestor(stdin, importCfg.Ingestors.Stdin.Processor))
	}
	opts = append(opts, pipeline.WithStopWhenIdle())

	p, err := pipeline.New(importCfg, log, opts...)
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := p.Run(ctx); err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	idx, err := index.Open(ctx, importCfg.Emitters.Index.Path)
	if err != nil {
		return err
	}
	defer idx.Close()

	total, err := idx.Count(ctx, "")
	if err != nil {
		return err
	}
	log.Infof("import finished: index=%s, rows=%d", importCfg.Emitters.Index.Path, total)
	return nil
}

// importConfig derives a one-shot configuration: files are read once from
// the start and the index is the only emitter.
func importConfig(cmd *cobra.Command, cfg *config.Config, files []string) *config.Config {
	flags := cmd.Flags()
	out := *cfg

	out.Ingestors = config.IngestorConfig{}
	if len(files) > 0 {
		out.Ingestors.File = cfg.Ingestors.File
		out.Ingestors.File.Enabled = true
		out.Ingestors.File.Paths = files
		out.Ingestors.File.Exclude = nil
		out.Ingestors.File.FromBeginning = true
		out.Ingestors.File.Once = true
		out.Ingestors.File.Checkpoint, _ = flags.GetString("checkpoint")
	}
	out.Ingestors.Stdin.Processor = cfg.Ingestors.Stdin.Processor

	if path, _ := flags.GetString("geo-db"); path != "" {
		setGeoDatabase(&out, path)
	}
	if v, _ := flags.GetBool("unwrap-json"); v {
		out.Ingestors.File.Processor.Parser.UnwrapJSON = true
		out.Ingestors.Stdin.Processor.Parser.UnwrapJSON = true
	}

	out.Emitters = config.EmitterConfig{Index: cfg.Emitters.Index}
	out.Emitters.Index.Enabled = true
	out.Emitters.Index.FlushInterval = 0
	if path, _ := flags.GetString("db"); path != "" {
		out.Emitters.Index.Path = path
	}

	return &out
}

// indexPath resolves the --db flag against the configuration.
func indexPath(cmd *cobra.Command, cfg *config.Config) (string, error) {
	path, _ := cmd.Flags().GetString("db")
	if path == "" {
		path = cfg.Emitters.Index.Path
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("index not found: %w", err)
	}
	return path, nil
}
