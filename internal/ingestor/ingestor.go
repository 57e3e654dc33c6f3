// Package ingestor defines the interface and implementations for log sources.
package ingestor

import (
	"context"

	"github.com/GabrielNunesIT/logindex/internal/model"
)

// Ingestor defines the contract for log sources.
// Each ingestor runs in its own goroutine and pushes entries to the output channel.
type Ingestor interface {
	// Start begins ingesting lines and sends them to the output channel.
	// It blocks until the context is cancelled, the source is exhausted or an
	// unrecoverable error occurs. The implementation must close out when done.
	Start(ctx context.Context, out chan<- *model.Entry) error

	// Name returns a unique identifier for this ingestor instance.
	Name() string
}

// send delivers entry unless ctx is cancelled first.
func send(ctx context.Context, out chan<- *model.Entry, entry *model.Entry) bool {
	select {
	case out <- entry:
		return true
	case <-ctx.Done():
		return false
	}
}
