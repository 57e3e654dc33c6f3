// Package pipeline orchestrates the log indexing flow.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/logindex/internal/config"
	"github.com/GabrielNunesIT/logindex/internal/emitter"
	"github.com/GabrielNunesIT/logindex/internal/ingestor"
	"github.com/GabrielNunesIT/logindex/internal/metrics"
	"github.com/GabrielNunesIT/logindex/internal/model"
	"github.com/GabrielNunesIT/logindex/internal/processor"
)

// managedIngestor wraps an ingestor with its lifecycle management.
type managedIngestor struct {
	ingestor  ingestor.Ingestor
	processor *processor.Chain
	cancel    context.CancelFunc
	done      chan struct{}
}

// managedEmitter wraps an emitter with its lifecycle management.
type managedEmitter struct {
	emitter emitter.Emitter
	cancel  context.CancelFunc
	done    chan struct{}
}

type extraIngestor struct {
	ingestor ingestor.Ingestor
	procCfg  config.ProcessorConfig
}

// Option configures the Pipeline.
type Option func(*Pipeline)

// WithMetrics records line, emit and alert counters on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pipeline) {
		p.metrics = c
	}
}

// WithIngestor adds an ingestor that is not built from the config, with
// its own processor chain.
func WithIngestor(ing ingestor.Ingestor, procCfg config.ProcessorConfig) Option {
	return func(p *Pipeline) {
		p.extraIngestors = append(p.extraIngestors, extraIngestor{ingestor: ing, procCfg: procCfg})
	}
}

// WithEmitter adds an emitter that is not built from the config.
func WithEmitter(em emitter.Emitter) Option {
	return func(p *Pipeline) {
		p.extraEmitters = append(p.extraEmitters, em)
	}
}

// WithStopWhenIdle makes Run return once every ingestor started with the
// pipeline has finished, for finite sources such as a piped file.
func WithStopWhenIdle() Option {
	return func(p *Pipeline) {
		p.stopWhenIdle = true
	}
}

// Pipeline coordinates ingestors, processors, and emitters.
type Pipeline struct {
	cfg     *config.Config
	logger  logger.ILogger
	metrics *metrics.Collector
	mu      sync.RWMutex

	ingestors map[string]*managedIngestor
	emitters  map[string]*managedEmitter

	extraIngestors []extraIngestor
	extraEmitters  []emitter.Emitter
	stopWhenIdle   bool

	// fanoutChan receives processed entries for distribution to emitters.
	fanoutChan chan *model.Entry

	// runCtx is the main run context, nil until Run has started the emitters.
	runCtx context.Context
}

// New creates a new pipeline from configuration.
func New(cfg *config.Config, log logger.ILogger, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg:        cfg,
		logger:     log.SubLogger("Pipeline"),
		ingestors:  make(map[string]*managedIngestor),
		emitters:   make(map[string]*managedEmitter),
		fanoutChan: make(chan *model.Entry, cfg.Pipeline.BufferSize),
	}

	for _, opt := range opts {
		opt(p)
	}

	if err := p.buildIngestors(); err != nil {
		p.closeIngestors()
		return nil, fmt.Errorf("building ingestors: %w", err)
	}

	if err := p.buildEmitters(); err != nil {
		p.closeIngestors()
		return nil, fmt.Errorf("building emitters: %w", err)
	}

	return p, nil
}

// buildIngestors creates enabled ingestors with their processor chains.
func (p *Pipeline) buildIngestors() error {
	for _, name := range []string{"file", "syslog", "journal", "stdin"} {
		if !ingestorEnabled(p.cfg, name) {
			continue
		}
		mi, err := p.newIngestor(name, p.cfg)
		if err != nil {
			return err
		}
		p.ingestors[name] = mi
	}

	for _, extra := range p.extraIngestors {
		name := extra.ingestor.Name()
		if _, ok := p.ingestors[name]; ok {
			return fmt.Errorf("duplicate ingestor: %s", name)
		}
		mi, err := p.manage(extra.ingestor, extra.procCfg)
		if err != nil {
			return err
		}
		p.ingestors[name] = mi
	}

	if len(p.ingestors) == 0 {
		return fmt.Errorf("no ingestors enabled")
	}

	p.logger.Debugf("built %d ingestors", len(p.ingestors))
	return nil
}

func ingestorEnabled(cfg *config.Config, name string) bool {
	switch name {
	case "file":
		return cfg.Ingestors.File.Enabled
	case "syslog":
		return cfg.Ingestors.Syslog.Enabled
	case "journal":
		return cfg.Ingestors.Journal.Enabled
	case "stdin":
		return cfg.Ingestors.Stdin.Enabled
	}
	return false
}

// newIngestor builds the named ingestor from cfg.
func (p *Pipeline) newIngestor(name string, cfg *config.Config) (*managedIngestor, error) {
	var ing ingestor.Ingestor
	var procCfg config.ProcessorConfig

	switch name {
	case "file":
		ing = ingestor.NewFileIngestor(cfg.Ingestors.File, p.logger)
		procCfg = cfg.Ingestors.File.Processor
	case "syslog":
		ing = ingestor.NewSyslogIngestor(cfg.Ingestors.Syslog, p.logger)
		procCfg = cfg.Ingestors.Syslog.Processor
	case "journal":
		ing = ingestor.NewJournalIngestor(cfg.Ingestors.Journal, p.logger)
		procCfg = cfg.Ingestors.Journal.Processor
	case "stdin":
		ing = ingestor.NewStdinIngestor(cfg.Ingestors.Stdin, p.logger)
		procCfg = cfg.Ingestors.Stdin.Processor
	default:
		return nil, fmt.Errorf("unknown ingestor: %s", name)
	}

	return p.manage(ing, procCfg)
}

func (p *Pipeline) manage(ing ingestor.Ingestor, procCfg config.ProcessorConfig) (*managedIngestor, error) {
	chain, err := p.buildProcessorChain(procCfg)
	if err != nil {
		return nil, fmt.Errorf("ingestor %s: %w", ing.Name(), err)
	}
	return &managedIngestor{
		ingestor:  ing,
		processor: chain,
		done:      make(chan struct{}),
	}, nil
}

// buildProcessorChain creates a processor chain from config. The chain is
// closed once its ingestor has stopped.
func (p *Pipeline) buildProcessorChain(cfg config.ProcessorConfig) (*processor.Chain, error) {
	chain := processor.NewChain()

	if cfg.Parser.Enabled {
		chain.Add(processor.NewLineParser(cfg.Parser,
			processor.WithTimestampFailureHook(p.timestampFailure)))
	}

	if cfg.Enricher.Enabled {
		chain.Add(processor.NewEnricher(cfg.Enricher))
	}

	if cfg.Geo.Enabled {
		geo, err := processor.NewGeoEnricher(cfg.Geo, p.logger)
		if err != nil {
			return nil, fmt.Errorf("creating geo enricher: %w", err)
		}
		chain.Add(geo)
	}

	return chain, nil
}

func (p *Pipeline) timestampFailure(source string) {
	p.metrics.TimestampFailure(source)
	p.logger.Debugf("unparseable timestamp: source=%s", source)
}

// buildEmitters creates enabled emitters.
func (p *Pipeline) buildEmitters() error {
	for _, name := range []string{"stdout", "file", "elasticsearch", "index"} {
		if !emitterEnabled(p.cfg, name) {
			continue
		}
		em, err := p.newEmitter(name, p.cfg)
		if err != nil {
			return err
		}
		p.emitters[name] = &managedEmitter{
			emitter: em,
			done:    make(chan struct{}),
		}
	}

	for _, em := range p.extraEmitters {
		if _, ok := p.emitters[em.Name()]; ok {
			return fmt.Errorf("duplicate emitter: %s", em.Name())
		}
		p.emitters[em.Name()] = &managedEmitter{
			emitter: em,
			done:    make(chan struct{}),
		}
	}

	if len(p.emitters) == 0 {
		return fmt.Errorf("no emitters enabled")
	}

	p.logger.Debugf("built %d emitters", len(p.emitters))
	return nil
}

func emitterEnabled(cfg *config.Config, name string) bool {
	switch name {
	case "stdout":
		return cfg.Emitters.Stdout.Enabled
	case "file":
		return cfg.Emitters.File.Enabled
	case "elasticsearch":
		return cfg.Emitters.Elasticsearch.Enabled
	case "index":
		return cfg.Emitters.Index.Enabled
	}
	return false
}

// newEmitter builds the named emitter from cfg.
func (p *Pipeline) newEmitter(name string, cfg *config.Config) (emitter.Emitter, error) {
	switch name {
	case "stdout":
		return emitter.NewStdoutEmitter(cfg.Emitters.Stdout, p.logger), nil
	case "file":
		return emitter.NewFileEmitter(cfg.Emitters.File, p.logger), nil
	case "elasticsearch":
		return emitter.NewElasticsearchEmitter(cfg.Emitters.Elasticsearch, p.logger), nil
	case "index":
		return emitter.NewIndexEmitter(cfg.Emitters.Index, p.logger,
			emitter.WithAlertTimezone(cfg.Search.Timezone),
			emitter.WithMetrics(p.metrics)), nil
	default:
		return nil, fmt.Errorf("unknown emitter: %s", name)
	}
}

// Run starts the pipeline and blocks until context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	// Start all emitters
	p.mu.Lock()
	for name, me := range p.emitters {
		if err := me.emitter.Start(runCtx); err != nil {
			p.mu.Unlock()
			p.shutdown()
			p.closeIngestors()
			return fmt.Errorf("starting emitter %s: %w", name, err)
		}
		p.logger.Debugf("started emitter: %s", name)
	}
	p.runCtx = runCtx
	p.mu.Unlock()

	g, gCtx := errgroup.WithContext(runCtx)

	fanoutCtx, stopFanout := context.WithCancel(gCtx)
	defer stopFanout()

	// Start fanout goroutine
	g.Go(func() error {
		return p.runFanout(fanoutCtx)
	})

	// Start each ingestor with its own context
	var running sync.WaitGroup
	p.mu.Lock()
	for name, mi := range p.ingestors {
		ingestorCtx, cancel := context.WithCancel(gCtx)
		mi.cancel = cancel

		running.Add(1)
		g.Go(func() error {
			defer running.Done()
			defer close(mi.done)
			p.logger.Debugf("started ingestor: %s", name)
			return p.runIngestorPipeline(ingestorCtx, name, mi)
		})
	}
	p.mu.Unlock()

	if p.stopWhenIdle {
		g.Go(func() error {
			running.Wait()
			p.logger.Debug("all ingestors finished")
			stopFanout()
			return nil
		})
	}

	// Wait for all goroutines to complete
	err := g.Wait()

	// Graceful shutdown
	p.shutdown()

	return err
}

// shutdown gracefully stops all emitters.
func (p *Pipeline) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), p.cfg.Pipeline.ShutdownTimeout)
	defer cancel()

	p.mu.RLock()
	defer p.mu.RUnlock()

	for name, me := range p.emitters {
		if stopErr := me.emitter.Stop(shutdownCtx); stopErr != nil {
			p.logger.Warningf("emitter stop error: name=%s, error=%v", name, stopErr)
		}
	}
	p.logger.Debug("all emitters stopped")
}

// closeIngestors releases processor resources of ingestors that never ran.
func (p *Pipeline) closeIngestors() {
	for _, mi := range p.ingestors {
		mi.close(p.logger)
	}
}

func (mi *managedIngestor) close(log logger.ILogger) {
	if err := mi.processor.Close(); err != nil {
		log.Warningf("closing processors failed: ingestor=%s, error=%v", mi.ingestor.Name(), err)
	}
}

// runIngestorPipeline runs a single ingestor and its processor chain.
func (p *Pipeline) runIngestorPipeline(ctx context.Context, name string, mi *managedIngestor) error {
	rawChan := make(chan *model.Entry, p.cfg.Pipeline.BufferSize)

	var wg sync.WaitGroup

	// Start processor goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range rawChan {
			if err := mi.processor.Process(ctx, entry); err != nil {
				if errors.Is(err, processor.ErrUnparsed) {
					p.metrics.Line(name, metrics.ResultRejected)
				} else {
					p.metrics.Line(name, metrics.ResultDropped)
				}
				p.logger.Debugf("processor error: ingestor=%s, error=%v", name, err)
				continue
			}

			select {
			case p.fanoutChan <- entry:
				p.metrics.Line(name, metrics.ResultIndexed)
			case <-ctx.Done():
				return
			default:
				if p.cfg.Pipeline.DropOnFullBuffer {
					p.metrics.Line(name, metrics.ResultDropped)
					p.logger.Debug("buffer full, dropping entry")
					continue
				}
				select {
				case p.fanoutChan <- entry:
					p.metrics.Line(name, metrics.ResultIndexed)
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	// Run the ingestor
	err := mi.ingestor.Start(ctx, rawChan)

	// Wait for processor to drain
	wg.Wait()
	mi.close(p.logger)

	p.logger.Debugf("ingestor stopped: name=%s", name)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runFanout distributes entries to all emitters.
func (p *Pipeline) runFanout(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			// Drain remaining entries. Emitters still get a live context so
			// the last batch can be written.
			drainCtx := context.WithoutCancel(ctx)
			for {
				select {
				case entry := <-p.fanoutChan:
					p.emitToAll(drainCtx, entry)
				default:
					return nil
				}
			}
		case entry, ok := <-p.fanoutChan:
			if !ok {
				return nil
			}
			p.emitToAll(ctx, entry)
		}
	}
}

// emitToAll sends an entry to all enabled emitters.
func (p *Pipeline) emitToAll(ctx context.Context, entry *model.Entry) {
	p.mu.RLock()
	emitters := make([]emitter.Emitter, 0, len(p.emitters))
	for _, me := range p.emitters {
		emitters = append(emitters, me.emitter)
	}
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, e := range emitters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := e.Emit(ctx, entry.Clone())
			p.metrics.Emit(e.Name(), err)
			if err != nil {
				p.logger.Warningf("emit error: emitter=%s, error=%v", e.Name(), err)
			}
		}()
	}
	wg.Wait()
}

// Reconfigure applies a new configuration, adding/removing components as needed.
func (p *Pipeline) Reconfigure(newCfg *config.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.runCtx == nil {
		return fmt.Errorf("pipeline is not running")
	}

	oldCfg := p.cfg
	p.cfg = newCfg

	// Handle ingestor changes
	if err := p.reconfigureIngestors(oldCfg, newCfg); err != nil {
		return fmt.Errorf("reconfiguring ingestors: %w", err)
	}

	// Handle emitter changes
	if err := p.reconfigureEmitters(oldCfg, newCfg); err != nil {
		return fmt.Errorf("reconfiguring emitters: %w", err)
	}

	p.logger.Infof("configuration applied: ingestors=%d, emitters=%d",
		len(p.ingestors), len(p.emitters))

	return nil
}

// reconfigureIngestors handles adding/removing ingestors.
func (p *Pipeline) reconfigureIngestors(oldCfg, newCfg *config.Config) error {
	for _, name := range []string{"file", "syslog", "journal", "stdin"} {
		wasEnabled, enabled := ingestorEnabled(oldCfg, name), ingestorEnabled(newCfg, name)
		switch {
		case wasEnabled && !enabled:
			if err := p.removeIngestor(name); err != nil {
				return err
			}
		case enabled && !wasEnabled:
			if err := p.addIngestor(name, newCfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// addIngestor adds a new ingestor at runtime.
func (p *Pipeline) addIngestor(name string, cfg *config.Config) error {
	mi, err := p.newIngestor(name, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(p.runCtx)
	mi.cancel = cancel
	p.ingestors[name] = mi

	// Start the ingestor in background
	go func() {
		defer close(mi.done)
		if err := p.runIngestorPipeline(ctx, name, mi); err != nil {
			p.logger.Warningf("ingestor error: name=%s, error=%v", name, err)
		}
	}()

	p.logger.Infof("ingestor added: %s", name)
	return nil
}

// removeIngestor stops and removes an ingestor.
func (p *Pipeline) removeIngestor(name string) error {
	mi, ok := p.ingestors[name]
	if !ok {
		return nil
	}

	// Cancel the ingestor context
	if mi.cancel != nil {
		mi.cancel()
		// Wait for it to stop
		<-mi.done
	} else {
		mi.close(p.logger)
	}

	delete(p.ingestors, name)
	p.logger.Infof("ingestor removed: %s", name)
	return nil
}

// reconfigureEmitters handles adding/removing emitters.
func (p *Pipeline) reconfigureEmitters(oldCfg, newCfg *config.Config) error {
	for _, name := range []string{"stdout", "file", "elasticsearch", "index"} {
		wasEnabled, enabled := emitterEnabled(oldCfg, name), emitterEnabled(newCfg, name)
		switch {
		case wasEnabled && !enabled:
			if err := p.removeEmitter(name); err != nil {
				return err
			}
		case enabled && !wasEnabled:
			if err := p.addEmitter(name, newCfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// addEmitter adds a new emitter at runtime.
func (p *Pipeline) addEmitter(name string, cfg *config.Config) error {
	em, err := p.newEmitter(name, cfg)
	if err != nil {
		return err
	}

	if err := em.Start(p.runCtx); err != nil {
		return fmt.Errorf("starting emitter %s: %w", name, err)
	}

	p.emitters[name] = &managedEmitter{
		emitter: em,
		done:    make(chan struct{}),
	}

	p.logger.Infof("emitter added: %s", name)
	return nil
}

// removeEmitter stops and removes an emitter.
func (p *Pipeline) removeEmitter(name string) error {
	me, ok := p.emitters[name]
	if !ok {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), p.cfg.Pipeline.ShutdownTimeout)
	defer cancel()

	if err := me.emitter.Stop(shutdownCtx); err != nil {
		p.logger.Warningf("emitter stop error: name=%s, error=%v", name, err)
	}

	delete(p.emitters, name)
	p.logger.Infof("emitter removed: %s", name)
	return nil
}

// IngestorCount returns the number of enabled ingestors.
func (p *Pipeline) IngestorCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.ingestors)
}

// EmitterCount returns the number of enabled emitters.
func (p *Pipeline) EmitterCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.emitters)
}
