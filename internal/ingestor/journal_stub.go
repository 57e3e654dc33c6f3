//go:build !linux || !cgo

package ingestor

import (
	"context"
	"fmt"
	"runtime"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/logindex/internal/config"
	"github.com/GabrielNunesIT/logindex/internal/model"
)

// JournalIngestor is a stub for builds without systemd journal support.
type JournalIngestor struct {
	cfg  config.JournalIngestorConfig
	name string
}

// NewJournalIngestor creates a new journal ingestor stub.
func NewJournalIngestor(cfg config.JournalIngestorConfig, _ logger.ILogger) *JournalIngestor {
	return &JournalIngestor{
		cfg:  cfg,
		name: "journal",
	}
}

// Name returns the ingestor identifier.
func (j *JournalIngestor) Name() string {
	return j.name
}

// Start always fails.
func (j *JournalIngestor) Start(_ context.Context, out chan<- *model.Entry) error {
	defer close(out)
	return fmt.Errorf("journal ingestor requires linux with cgo (current OS: %s)", runtime.GOOS)
}
