package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/logindex/internal/config"
	"github.com/GabrielNunesIT/logindex/internal/model"
)

// StdoutEmitter writes entries to standard output.
type StdoutEmitter struct {
	cfg    config.StdoutEmitterConfig
	writer io.Writer
	mu     sync.Mutex
	logger logger.ILogger
}

// NewStdoutEmitter creates a new stdout emitter.
func NewStdoutEmitter(cfg config.StdoutEmitterConfig, log logger.ILogger) *StdoutEmitter {
	return NewStdoutEmitterWithWriter(cfg, os.Stdout, log)
}

// NewStdoutEmitterWithWriter creates a stdout emitter with a custom writer (for testing).
func NewStdoutEmitterWithWriter(cfg config.StdoutEmitterConfig, w io.Writer, log logger.ILogger) *StdoutEmitter {
	return &StdoutEmitter{
		cfg:    cfg,
		writer: w,
		logger: log.SubLogger("StdoutEmitter"),
	}
}

// Name returns the emitter identifier.
func (s *StdoutEmitter) Name() string {
	return "stdout"
}

// Start initializes the emitter (no-op for stdout).
func (s *StdoutEmitter) Start(_ context.Context) error {
	s.logger.Debugf("stdout emitter started: format=%s", s.cfg.Format)
	return nil
}

// Stop gracefully shuts down the emitter (no-op for stdout).
func (s *StdoutEmitter) Stop(_ context.Context) error {
	s.logger.Debug("stdout emitter stopped")
	return nil
}

// Emit writes an entry to stdout.
func (s *StdoutEmitter) Emit(_ context.Context, entry *model.Entry) error {
	var output []byte
	var err error

	switch s.cfg.Format {
	case "text":
		output = FormatText(entry)
	default:
		output, err = json.Marshal(entry.Fields())
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.writer.Write(append(output, '\n'))
	return err
}

// FormatText renders "[time] [source] METHOD /uri status" for parsed
// entries and the raw line otherwise.
func FormatText(entry *model.Entry) []byte {
	ts := entry.Time().UTC().Format(time.RFC3339)
	r := entry.Record
	if r == nil {
		return []byte(fmt.Sprintf("[%s] [%s] %s", ts, entry.Source, entry.Raw))
	}

	parts := []string{r.IP}
	if r.Method != "" {
		parts = append(parts, r.Method)
	}
	if r.URI != "" {
		uri := r.URI
		if r.Query != "" {
			uri += "?" + r.Query
		}
		parts = append(parts, uri)
	}
	if r.StatusCode != nil {
		parts = append(parts, fmt.Sprint(*r.StatusCode))
	}
	return []byte(fmt.Sprintf("[%s] [%s] %s", ts, entry.Source, strings.Join(parts, " ")))
}
