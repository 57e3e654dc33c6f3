package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/logindex/internal/config"
	"github.com/GabrielNunesIT/logindex/internal/index"
	"github.com/GabrielNunesIT/logindex/internal/metrics"
	"github.com/GabrielNunesIT/logindex/internal/pipeline"
	"github.com/GabrielNunesIT/logindex/internal/server"
)

// NewRunCmd creates the run command.
func NewRunCmd(cfgFile, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the indexing pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, cfgFile, logLevel)
		},
	}

	// Ingestor flags
	cmd.Flags().Bool("stdin", false, "enable stdin ingestor")
	cmd.Flags().StringSlice("file", nil, "file paths to tail (enables file ingestor)")
	cmd.Flags().Bool("from-beginning", false, "read tailed files without a checkpoint from the start")
	cmd.Flags().String("checkpoint", "", "file storing read offsets of tailed files")
	cmd.Flags().String("syslog-address", "", "syslog listen address (enables syslog ingestor)")
	cmd.Flags().Bool("journal", false, "enable systemd journal ingestor")
	cmd.Flags().String("geo-db", "", "GeoIP2/GeoLite2 City database used to fill missing locations")

	// Emitter flags
	cmd.Flags().Bool("stdout", false, "enable stdout emitter")
	cmd.Flags().String("stdout-format", "", "stdout output format (json, text)")
	cmd.Flags().String("index", "", "SQLite index path (enables index emitter)")
	cmd.Flags().StringToString("alert", nil, "alert queries run against every indexed batch, as name=query")

	// Server flags
	cmd.Flags().String("listen", "", "HTTP address for search, health and metrics (enables server)")

	// Hot-reload flag
	cmd.Flags().Bool("hot-reload", true, "enable hot-reload of config file")

	return cmd
}

func runPipeline(cmd *cobra.Command, cfgFile, logLevel *string) error {
	cfg, err := loadConfig(*cfgFile)
	if err != nil {
		return err
	}
	log := commandLogger(cmd, *logLevel, cfg)

	applyCLIOverrides(cmd, cfg)

	collector := metrics.New()
	p, err := pipeline.New(cfg, log, pipeline.WithMetrics(collector))
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	log.Infof("starting logindex: ingestors=%d, emitters=%d",
		p.IngestorCount(), p.EmitterCount())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, closeServer, err := buildServer(ctx, cfg, collector, log)
	if err != nil {
		return err
	}
	defer closeServer()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	hotReloadEnabled, _ := cmd.Flags().GetBool("hot-reload")
	if *cfgFile != "" && hotReloadEnabled {
		startConfigWatcher(ctx, cmd, cfgFile, p, log)
	}

	go handleSignals(ctx, cancel, sigChan, cmd, cfgFile, p, log)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Run(gCtx)
	})
	if srv != nil {
		g.Go(func() error {
			return srv.Run(gCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("pipeline error: %w", err)
	}

	log.Info("logindex stopped")
	return nil
}

// buildServer returns nil when the server is disabled. Search is served from
// a separate read handle on the index when the index emitter is enabled.
func buildServer(ctx context.Context, cfg *config.Config, collector *metrics.Collector, log logger.ILogger) (*server.Server, func(), error) {
	if !cfg.Server.Enabled {
		return nil, func() {}, nil
	}

	opts := []server.Option{server.WithMetrics(collector)}
	closeIndex := func() {}

	if cfg.Emitters.Index.Enabled {
		idx, err := index.Open(ctx, cfg.Emitters.Index.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening index for search: %w", err)
		}
		opts = append(opts, server.WithSearcher(idx))
		closeIndex = func() {
			if err := idx.Close(); err != nil {
				log.Warningf("closing search index: %v", err)
			}
		}
	}

	return server.New(cfg.Server, cfg.Search, log, opts...), closeIndex, nil
}

func startConfigWatcher(ctx context.Context, cmd *cobra.Command, cfgFile *string, p *pipeline.Pipeline, log logger.ILogger) {
	watcher := config.NewConfigWatcher(*cfgFile, log, config.WithValidator(func(cfg *config.Config) error {
		_, _, err := checkSearchConfig(cfg)
		return err
	}))
	if err := watcher.Start(ctx); err != nil {
		log.Warningf("failed to start config watcher: %v", err)
		return
	}

	log.Infof("hot-reload enabled: config=%s", *cfgFile)

	go func() {
		for {
			select {
			case newCfg := <-watcher.Changes():
				applyCLIOverrides(cmd, newCfg)
				if err := p.Reconfigure(newCfg); err != nil {
					log.Errorf("reconfigure failed: %v", err)
				}
			case err := <-watcher.Errors():
				log.Errorf("config watcher error: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func handleSignals(ctx context.Context, cancel context.CancelFunc, sigChan <-chan os.Signal, cmd *cobra.Command, cfgFile *string, p *pipeline.Pipeline, log logger.ILogger) {
	for {
		select {
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				log.Info("received SIGHUP, reloading config")
				newCfg, err := config.Load(*cfgFile)
				if err != nil {
					log.Errorf("failed to reload config: %v", err)
					continue
				}
				applyCLIOverrides(cmd, newCfg)
				if _, _, err := checkSearchConfig(newCfg); err != nil {
					log.Errorf("rejected reloaded config: %v", err)
					continue
				}
				if err := p.Reconfigure(newCfg); err != nil {
					log.Errorf("reconfigure failed: %v", err)
				}
			case syscall.SIGINT, syscall.SIGTERM:
				log.Infof("received shutdown signal: %v", sig)
				cancel()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func applyCLIOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if v, _ := flags.GetBool("stdin"); v {
		cfg.Ingestors.Stdin.Enabled = true
	}
	if v, _ := flags.GetBool("journal"); v {
		cfg.Ingestors.Journal.Enabled = true
	}
	if files, _ := flags.GetStringSlice("file"); len(files) > 0 {
		cfg.Ingestors.File.Enabled = true
		cfg.Ingestors.File.Paths = files
	}
	if v, _ := flags.GetBool("from-beginning"); v {
		cfg.Ingestors.File.FromBeginning = true
	}
	if path, _ := flags.GetString("checkpoint"); path != "" {
		cfg.Ingestors.File.Checkpoint = path
	}
	if addr, _ := flags.GetString("syslog-address"); addr != "" {
		cfg.Ingestors.Syslog.Enabled = true
		cfg.Ingestors.Syslog.Address = addr
	}
	if path, _ := flags.GetString("geo-db"); path != "" {
		setGeoDatabase(cfg, path)
	}
	if v, _ := flags.GetBool("stdout"); v {
		cfg.Emitters.Stdout.Enabled = true
	}
	if format, _ := flags.GetString("stdout-format"); format != "" {
		cfg.Emitters.Stdout.Format = format
	}
	if path, _ := flags.GetString("index"); path != "" {
		cfg.Emitters.Index.Enabled = true
		cfg.Emitters.Index.Path = path
	}
	if alerts, _ := flags.GetStringToString("alert"); len(alerts) > 0 {
		if cfg.Emitters.Index.Alerts == nil {
			cfg.Emitters.Index.Alerts = make(map[string]string, len(alerts))
		}
		for name, query := range alerts {
			cfg.Emitters.Index.Alerts[name] = query
		}
	}
	if addr, _ := flags.GetString("listen"); addr != "" {
		cfg.Server.Enabled = true
		cfg.Server.Address = addr
	}
}

// setGeoDatabase enables geo enrichment on every ingestor.
func setGeoDatabase(cfg *config.Config, path string) {
	for _, proc := range []*config.ProcessorConfig{
		&cfg.Ingestors.File.Processor,
		&cfg.Ingestors.Syslog.Processor,
		&cfg.Ingestors.Journal.Processor,
		&cfg.Ingestors.Stdin.Processor,
	} {
		proc.Geo = config.GeoConfig{Enabled: true, CityDB: path}
	}
}
