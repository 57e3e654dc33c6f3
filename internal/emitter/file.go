package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/natefinch/lumberjack"

	"github.com/GabrielNunesIT/logindex/internal/config"
	"github.com/GabrielNunesIT/logindex/internal/model"
)

// WriterFactory creates a new WriteCloser.
type WriterFactory func(cfg config.FileEmitterConfig) (io.WriteCloser, error)

// FileOption configures the FileEmitter.
type FileOption func(*FileEmitter)

// WithWriterFactory sets a custom factory for creating the writer.
func WithWriterFactory(f WriterFactory) FileOption {
	return func(e *FileEmitter) {
		e.factory = f
	}
}

// FileEmitter writes entries to rotating files, either as JSON lines or as
// the lines received, which can be imported again.
type FileEmitter struct {
	cfg     config.FileEmitterConfig
	factory WriterFactory
	writer  io.WriteCloser
	mu      sync.Mutex
	logger  logger.ILogger
}

// NewFileEmitter creates a new file emitter.
func NewFileEmitter(cfg config.FileEmitterConfig, log logger.ILogger, opts ...FileOption) *FileEmitter {
	e := &FileEmitter{
		cfg:    cfg,
		logger: log.SubLogger("FileEmitter"),
	}

	e.factory = func(cfg config.FileEmitterConfig) (io.WriteCloser, error) {
		return &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}, nil
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Name returns the emitter identifier.
func (f *FileEmitter) Name() string {
	return "file"
}

// Start initializes the rotating file writer.
func (f *FileEmitter) Start(_ context.Context) error {
	w, err := f.factory(f.cfg)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.writer = w
	f.mu.Unlock()

	f.logger.Debugf("file emitter started: path=%s, format=%s", f.cfg.Path, f.format())
	return nil
}

// Stop closes the file writer.
func (f *FileEmitter) Stop(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writer == nil {
		return nil
	}
	err := f.writer.Close()
	f.writer = nil
	return err
}

// Emit writes an entry to the file.
func (f *FileEmitter) Emit(_ context.Context, entry *model.Entry) error {
	var output []byte
	if f.format() == "raw" {
		output = bytes.TrimRight(entry.Raw, "\r\n")
	} else {
		var err error
		if output, err = json.Marshal(entry.Fields()); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writer == nil {
		return nil
	}
	line := make([]byte, 0, len(output)+1)
	line = append(line, output...)
	_, err := f.writer.Write(append(line, '\n'))
	return err
}

func (f *FileEmitter) format() string {
	if strings.EqualFold(f.cfg.Format, "raw") {
		return "raw"
	}
	return "json"
}
