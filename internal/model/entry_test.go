package model

import (
	"testing"
	"time"

	"github.com/GabrielNunesIT/logindex/internal/accesslog"
)

func TestNewEntry(t *testing.T) {
	entry := NewEntry("test-source", []byte("test message"))

	if entry.Source != "test-source" {
		t.Errorf("expected source 'test-source', got %q", entry.Source)
	}
	if string(entry.Raw) != "test message" {
		t.Errorf("expected raw 'test message', got %q", string(entry.Raw))
	}
	if entry.Metadata == nil {
		t.Error("expected Metadata map to be initialized")
	}
	if entry.Received.IsZero() {
		t.Error("expected Received to be set")
	}
	if entry.Record != nil {
		t.Error("expected Record to be nil before parsing")
	}
}

func TestEntry_Clone(t *testing.T) {
	status := 200
	original := &Entry{
		Received:   time.Now(),
		Source:     "file",
		SourceFile: "access",
		Offset:     42,
		Raw:        []byte("original message"),
		Hash:       "abc",
		Record: &accesslog.Record{
			IP:         "1.2.3.4",
			StatusCode: &status,
			Extras:     map[string]string{"city": "Paris"},
		},
		Metadata: map[string]string{"hostname": "web1"},
	}

	clone := original.Clone()

	if clone.SourceFile != "access" || clone.Offset != 42 || clone.Hash != "abc" {
		t.Errorf("position fields not copied: %+v", clone)
	}

	clone.Metadata["new"] = "meta"
	if _, exists := original.Metadata["new"]; exists {
		t.Error("modifying clone.Metadata should not affect original")
	}

	clone.Raw[0] = 'X'
	if original.Raw[0] == 'X' {
		t.Error("modifying clone.Raw should not affect original")
	}

	clone.Record.Extras["city"] = "Lyon"
	*clone.Record.StatusCode = 500
	if original.Record.Extras["city"] != "Paris" {
		t.Error("modifying clone.Record.Extras should not affect original")
	}
	if *original.Record.StatusCode != 200 {
		t.Error("modifying clone.Record.StatusCode should not affect original")
	}
}

func TestEntry_CloneWithoutRecord(t *testing.T) {
	clone := NewEntry("stdin", []byte("x")).Clone()
	if clone.Record != nil {
		t.Error("expected nil record to stay nil")
	}
}

func TestEntry_Time(t *testing.T) {
	received := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	requested := time.Date(1999, 1, 1, 8, 1, 1, 0, time.UTC)

	entry := &Entry{Received: received}
	if !entry.Time().Equal(received) {
		t.Errorf("expected received time without record, got %v", entry.Time())
	}

	entry.Record = &accesslog.Record{}
	if !entry.Time().Equal(received) {
		t.Errorf("expected received time for record without timestamp, got %v", entry.Time())
	}

	entry.Record.Time = requested
	if !entry.Time().Equal(requested) {
		t.Errorf("expected record time, got %v", entry.Time())
	}
}

func TestEntry_Fields(t *testing.T) {
	status := 404
	bytesSent := int64(512)
	entry := &Entry{
		Received:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Source:     "file",
		SourceFile: "access",
		Offset:     128,
		Raw:        []byte("raw line"),
		Hash:       "deadbeef",
		Record: &accesslog.Record{
			IP:         "1.2.3.4",
			Method:     "GET",
			URI:        "/missing",
			StatusCode: &status,
			BytesSent:  &bytesSent,
			Extras: map[string]string{
				"country": "US",
				"ip":      "spoofed",
				"source":  "spoofed",
				"hash":    "fake",
				"message": "injected",
			},
		},
		Metadata: map[string]string{"hostname": "web1", "method": "ignored"},
	}

	fields := entry.Fields()

	checks := map[string]any{
		"source":        "file",
		"source_file":   "access",
		"source_offset": int64(128),
		"hash":          "deadbeef",
		"message":       "raw line",
		"ip":            "1.2.3.4",
		"method":        "GET",
		"uri":           "/missing",
		"status_code":   404,
		"bytes_sent":    int64(512),
		"country":       "US",
		"hostname":      "web1",
	}
	for k, want := range checks {
		if fields[k] != want {
			t.Errorf("%s: expected %v, got %v", k, want, fields[k])
		}
	}

	if _, ok := fields["referrer"]; ok {
		t.Error("empty record fields should be omitted")
	}
}
