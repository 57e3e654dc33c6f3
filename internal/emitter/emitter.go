// Package emitter defines the interface and implementations for entry destinations.
package emitter

import (
	"context"

	"github.com/GabrielNunesIT/logindex/internal/model"
)

// Emitter defines the contract for entry destinations.
// Each emitter receives processed entries and writes them to a destination.
type Emitter interface {
	// Start initializes the emitter (connections, buffers, etc.).
	// Called once before Emit is called.
	Start(ctx context.Context) error

	// Emit sends an entry to the destination. Entries are shared between
	// emitters and must not be modified.
	// Must be safe to call concurrently.
	Emit(ctx context.Context, entry *model.Entry) error

	// Stop gracefully shuts down the emitter.
	// Should flush any buffered data before returning.
	Stop(ctx context.Context) error

	// Name returns a unique identifier for this emitter.
	Name() string
}
