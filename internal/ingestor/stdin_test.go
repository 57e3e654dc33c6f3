package ingestor

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/GabrielNunesIT/logindex/internal/config"
	"github.com/GabrielNunesIT/logindex/internal/model"
	"github.com/GabrielNunesIT/logindex/internal/testutil"
)

func collect(out <-chan *model.Entry) []*model.Entry {
	var entries []*model.Entry
	for entry := range out {
		entries = append(entries, entry)
	}
	return entries
}

func TestStdinIngestor(t *testing.T) {
	input := "line 1\nline 2\nline 3\n"
	reader := bytes.NewBufferString(input)

	cfg := config.StdinIngestorConfig{Enabled: true}
	ingestor := NewStdinIngestorWithReader(cfg, reader, testutil.NewTestLogger())

	if ingestor.Name() != "stdin" {
		t.Errorf("expected name 'stdin', got %q", ingestor.Name())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := make(chan *model.Entry, 10)

	errCh := make(chan error, 1)
	go func() {
		errCh <- ingestor.Start(ctx, out)
	}()

	entries := collect(out)
	if err := <-errCh; err != nil {
		t.Errorf("Start failed: %v", err)
	}

	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	expected := []string{"line 1", "line 2", "line 3"}
	offsets := []int64{0, 7, 14}
	for i, entry := range entries {
		if string(entry.Raw) != expected[i] {
			t.Errorf("entry %d: expected %q, got %q", i, expected[i], string(entry.Raw))
		}
		if entry.Source != "stdin" {
			t.Errorf("entry %d: expected source 'stdin', got %q", i, entry.Source)
		}
		if entry.Offset != offsets[i] {
			t.Errorf("entry %d: expected offset %d, got %d", i, offsets[i], entry.Offset)
		}
	}
}

func TestStdinIngestor_EmptyLines(t *testing.T) {
	input := "line 1\n\nline 2\n"
	reader := bytes.NewBufferString(input)

	cfg := config.StdinIngestorConfig{Enabled: true}
	ingestor := NewStdinIngestorWithReader(cfg, reader, testutil.NewTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := make(chan *model.Entry, 10)

	go func() {
		_ = ingestor.Start(ctx, out)
	}()

	entries := collect(out)

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries (empty lines skipped), got %d", len(entries))
	}
	if entries[1].Offset != 8 {
		t.Errorf("expected second entry at offset 8, got %d", entries[1].Offset)
	}
}

func TestStdinIngestor_Cancelled(t *testing.T) {
	reader := bytes.NewBufferString("a\nb\nc\n")
	ingestor := NewStdinIngestorWithReader(config.StdinIngestorConfig{}, reader, testutil.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Unbuffered and never read, so the first send loses to ctx.
	out := make(chan *model.Entry)
	err := ingestor.Start(ctx, out)
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if _, ok := <-out; ok {
		t.Error("expected output channel to be closed")
	}
}
