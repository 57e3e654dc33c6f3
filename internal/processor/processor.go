// Package processor defines the interface and implementations for entry transformation.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/GabrielNunesIT/logindex/internal/model"
)

// Processor defines the contract for entry transformations.
// Processors modify the Entry in place, parsing or enriching it.
type Processor interface {
	// Process transforms an Entry in place.
	// Returns an error if the entry should be dropped.
	Process(ctx context.Context, entry *model.Entry) error

	// Name returns a unique identifier for this processor.
	Name() string
}

// ErrUnparsed is returned for lines that yield no client address. Such
// lines cannot be indexed and are dropped.
var ErrUnparsed = errors.New("line has no client address")

// Chain composes multiple processors into a sequential pipeline.
type Chain struct {
	processors []Processor
	closed     bool
}

// NewChain creates a new processor chain.
func NewChain(processors ...Processor) *Chain {
	return &Chain{processors: processors}
}

// Process applies all processors in sequence and stops at the first error,
// which drops the entry.
func (c *Chain) Process(ctx context.Context, entry *model.Entry) error {
	for _, p := range c.processors {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := p.Process(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// Name returns the chain identifier.
func (c *Chain) Name() string {
	return "chain"
}

// Add appends a processor to the chain.
func (c *Chain) Add(p Processor) {
	c.processors = append(c.processors, p)
}

// Len returns the number of processors in the chain.
func (c *Chain) Len() int {
	return len(c.processors)
}

// Names lists the processors in order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.processors))
	for i, p := range c.processors {
		names[i] = p.Name()
	}
	return names
}

// Close releases the resources of processors that hold any, such as the
// geo database. Closing twice is a no-op.
func (c *Chain) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for _, p := range c.processors {
		if closer, ok := p.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
