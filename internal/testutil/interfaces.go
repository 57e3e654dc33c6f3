// Package testutil holds helpers shared by package tests. The interfaces
// below are the sources for the mocks in testutil/mocks.
package testutil

//go:generate mockery --dir . --name WriteCloser --output ./mocks
//go:generate mockery --dir . --name PacketConn --output ./mocks
//go:generate mockery --dir . --name Listener --output ./mocks
//go:generate mockery --dir . --name BulkIndexer --output ./mocks

import (
	"io"
	"net"

	"github.com/elastic/go-elasticsearch/v8/esutil"
)

// WriteCloser wraps io.WriteCloser for mock generation
type WriteCloser interface {
	io.WriteCloser
}

// PacketConn wraps net.PacketConn for mock generation
type PacketConn interface {
	net.PacketConn
}

// Listener wraps net.Listener for mock generation
type Listener interface {
	net.Listener
}

// BulkIndexer wraps esutil.BulkIndexer for mock generation
type BulkIndexer interface {
	esutil.BulkIndexer
}
