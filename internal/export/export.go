// Package export writes search results as JSON lines, optionally zstd
// compressed.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// CompressedSuffix marks output paths that are written zstd compressed.
const CompressedSuffix = ".zst"

// Writer encodes one JSON document per line.
type Writer struct {
	enc   *json.Encoder
	zw    *zstd.Encoder
	file  io.Closer
	count int
}

// NewWriter writes to w, through a zstd encoder when compress is set.
func NewWriter(w io.Writer, compress bool) (*Writer, error) {
	out := &Writer{}
	if compress {
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		out.zw = zw
		w = zw
	}
	out.enc = json.NewEncoder(w)
	out.enc.SetEscapeHTML(false)
	return out, nil
}

// Create opens path for writing. "-" and "" mean standard output. Paths
// ending in CompressedSuffix are compressed.
func Create(path string) (*Writer, error) {
	if path == "" || path == "-" {
		return NewWriter(os.Stdout, false)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating export file: %w", err)
	}
	w, err := NewWriter(f, strings.HasSuffix(path, CompressedSuffix))
	if err != nil {
		f.Close()
		return nil, err
	}
	w.file = f
	return w, nil
}

// Write appends v as one line.
func (w *Writer) Write(v any) error {
	if err := w.enc.Encode(v); err != nil {
		return fmt.Errorf("encoding export row: %w", err)
	}
	w.count++
	return nil
}

// Count returns how many documents were written.
func (w *Writer) Count() int {
	return w.count
}

// Close flushes the compressor and closes the file opened by Create.
func (w *Writer) Close() error {
	var err error
	if w.zw != nil {
		err = w.zw.Close()
	}
	if w.file != nil {
		if cerr := w.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// NewReader returns a reader over an export written by Writer, decompressing
// when compressed is set. The returned closer releases the decoder.
func NewReader(r io.Reader, compressed bool) (io.Reader, func(), error) {
	if !compressed {
		return r, func() {}, nil
	}
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return zr, zr.Close, nil
}

// Open opens an export file for reading, decompressing it when the name
// ends in CompressedSuffix. "-" reads stdin.
func Open(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening export file: %w", err)
	}
	r, release, err := NewReader(f, strings.HasSuffix(path, CompressedSuffix))
	if err != nil {
		f.Close()
		return nil, err
	}
	return &readCloser{Reader: r, release: release, file: f}, nil
}

type readCloser struct {
	io.Reader
	release func()
	file    *os.File
}

func (r *readCloser) Close() error {
	r.release()
	return r.file.Close()
}
