package emitter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/logindex/internal/config"
	"github.com/GabrielNunesIT/logindex/internal/index"
	"github.com/GabrielNunesIT/logindex/internal/metrics"
	"github.com/GabrielNunesIT/logindex/internal/model"
	"github.com/GabrielNunesIT/logindex/internal/search"
)

// IndexStore is the part of the index the emitter writes to.
type IndexStore interface {
	Insert(ctx context.Context, entries []*model.Entry) (index.InsertResult, error)
	Alert(ctx context.Context, clause string, firstID, lastID int64) ([]index.AlertMatch, error)
	Close() error
}

// StoreFactory opens the index store.
type StoreFactory func(ctx context.Context, cfg config.IndexEmitterConfig) (IndexStore, error)

// IndexOption configures the IndexEmitter.
type IndexOption func(*IndexEmitter)

// WithStoreFactory sets a custom factory for opening the store.
func WithStoreFactory(f StoreFactory) IndexOption {
	return func(e *IndexEmitter) {
		e.factory = f
	}
}

// WithAlertTimezone sets the zone alert queries resolve dates in.
func WithAlertTimezone(timezone string) IndexOption {
	return func(e *IndexEmitter) {
		e.timezone = timezone
	}
}

// WithMetrics counts alert matches on c.
func WithMetrics(c *metrics.Collector) IndexOption {
	return func(e *IndexEmitter) {
		e.metrics = c
	}
}

type alert struct {
	name   string
	clause string
}

// IndexEmitter batches parsed entries into the SQLite index and evaluates
// alert queries against every inserted batch. Unparsed entries are skipped.
type IndexEmitter struct {
	cfg      config.IndexEmitterConfig
	factory  StoreFactory
	timezone string
	metrics  *metrics.Collector
	logger   logger.ILogger

	mu     sync.Mutex
	store  IndexStore
	buf    []*model.Entry
	alerts []alert

	stop chan struct{}
	done chan struct{}
}

// NewIndexEmitter creates a new index emitter.
func NewIndexEmitter(cfg config.IndexEmitterConfig, log logger.ILogger, opts ...IndexOption) *IndexEmitter {
	e := &IndexEmitter{
		cfg:    cfg,
		logger: log.SubLogger("IndexEmitter"),
	}

	e.factory = func(ctx context.Context, cfg config.IndexEmitterConfig) (IndexStore, error) {
		return index.Open(ctx, cfg.Path)
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.cfg.BatchSize <= 0 {
		e.cfg.BatchSize = 1
	}

	return e
}

// Name returns the emitter identifier.
func (e *IndexEmitter) Name() string {
	return "index"
}

// Start opens the index, compiles the alert queries and starts the flush timer.
func (e *IndexEmitter) Start(ctx context.Context) error {
	compiler, err := search.NewInZone(e.timezone)
	if err != nil {
		e.logger.Warningf("alert timezone unknown, using UTC: %v", err)
	}

	alerts := make([]alert, 0, len(e.cfg.Alerts))
	for name, query := range e.cfg.Alerts {
		clause := compiler.Compile(query)
		if clause == "" {
			return fmt.Errorf("alert %q: query %q matches nothing searchable", name, query)
		}
		alerts = append(alerts, alert{name: name, clause: clause})
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].name < alerts[j].name })

	store, err := e.factory(ctx, e.cfg)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}

	e.mu.Lock()
	e.store = store
	e.alerts = alerts
	e.buf = make([]*model.Entry, 0, e.cfg.BatchSize)
	e.mu.Unlock()

	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.flushLoop()

	e.logger.Debugf("index emitter started: path=%s, batch_size=%d, alerts=%d", e.cfg.Path, e.cfg.BatchSize, len(alerts))
	return nil
}

func (e *IndexEmitter) flushLoop() {
	defer close(e.done)

	if e.cfg.FlushInterval <= 0 {
		<-e.stop
		return
	}

	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			if err := e.flushLocked(context.Background()); err != nil {
				e.logger.Errorf("periodic flush failed: %v", err)
			}
			e.mu.Unlock()
		}
	}
}

// Emit buffers a parsed entry and flushes once the batch is full.
func (e *IndexEmitter) Emit(ctx context.Context, entry *model.Entry) error {
	if entry.Record == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store == nil {
		return fmt.Errorf("index emitter not started")
	}

	e.buf = append(e.buf, entry)
	if len(e.buf) < e.cfg.BatchSize {
		return nil
	}
	return e.flushLocked(ctx)
}

// Flush writes buffered entries immediately.
func (e *IndexEmitter) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushLocked(ctx)
}

func (e *IndexEmitter) flushLocked(ctx context.Context) error {
	if len(e.buf) == 0 || e.store == nil {
		return nil
	}

	batch := e.buf
	e.buf = make([]*model.Entry, 0, e.cfg.BatchSize)

	res, err := e.store.Insert(ctx, batch)
	if err != nil {
		return fmt.Errorf("inserting %d entries: %w", len(batch), err)
	}
	e.logger.Debugf("batch indexed: entries=%d, inserted=%d", len(batch), res.Inserted)

	if res.Inserted > 0 {
		e.runAlerts(ctx, res.FirstID, res.LastID)
	}
	return nil
}

func (e *IndexEmitter) runAlerts(ctx context.Context, firstID, lastID int64) {
	for _, a := range e.alerts {
		matches, err := e.store.Alert(ctx, a.clause, firstID, lastID)
		if err != nil {
			e.logger.Errorf("alert query failed: alert=%s, error=%v", a.name, err)
			continue
		}
		for _, m := range matches {
			e.logger.Warningf("alert matched: alert=%s, ip=%s, uri=%s", a.name, m.IP, m.URI)
		}
		e.metrics.AlertMatches(a.name, len(matches))
	}
}

// Stop flushes the remaining batch and closes the index.
func (e *IndexEmitter) Stop(ctx context.Context) error {
	if e.stop != nil {
		close(e.stop)
		<-e.done
		e.stop = nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store == nil {
		return nil
	}
	flushErr := e.flushLocked(ctx)
	closeErr := e.store.Close()
	e.store = nil

	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
