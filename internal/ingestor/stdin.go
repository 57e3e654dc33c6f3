package ingestor

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/logindex/internal/config"
	"github.com/GabrielNunesIT/logindex/internal/model"
)

// maxLineSize bounds a single access log line.
const maxLineSize = 1024 * 1024

// StdinIngestor reads access log lines from standard input.
type StdinIngestor struct {
	cfg    config.StdinIngestorConfig
	name   string
	reader io.Reader
	logger logger.ILogger
}

// NewStdinIngestor creates a new stdin ingestor.
func NewStdinIngestor(cfg config.StdinIngestorConfig, log logger.ILogger) *StdinIngestor {
	return NewStdinIngestorWithReader(cfg, os.Stdin, log)
}

// NewStdinIngestorWithReader creates a stdin ingestor reading from reader.
func NewStdinIngestorWithReader(cfg config.StdinIngestorConfig, reader io.Reader, log logger.ILogger) *StdinIngestor {
	return &StdinIngestor{
		cfg:    cfg,
		name:   "stdin",
		reader: reader,
		logger: log.SubLogger("StdinIngestor"),
	}
}

// Name returns the ingestor identifier.
func (s *StdinIngestor) Name() string {
	return s.name
}

// Start reads lines until EOF and sends one entry per non-empty line.
func (s *StdinIngestor) Start(ctx context.Context, out chan<- *model.Entry) error {
	defer close(out)

	s.logger.Info("reading from stdin")

	scanner := bufio.NewScanner(s.reader)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var offset int64
	lineCount := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		lineStart := offset
		offset += int64(len(line)) + 1

		if len(line) == 0 {
			continue
		}

		// The scanner reuses its buffer.
		raw := make([]byte, len(line))
		copy(raw, line)

		entry := model.NewEntry(s.name, raw)
		entry.Offset = lineStart
		lineCount++

		if !send(ctx, out, entry) {
			s.logger.Debugf("stdin ingestor stopped: lines_read=%d", lineCount)
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		s.logger.Errorf("stdin read error: %v", err)
		return err
	}

	s.logger.Infof("EOF reached: lines_read=%d", lineCount)
	return nil
}
