// Package model defines the data structures flowing through the pipeline.
package model

import (
	"time"

	"github.com/GabrielNunesIT/logindex/internal/accesslog"
)

// Entry is a single access log line flowing through the pipeline.
// It carries the raw line, its position in the source and, once the
// parser processor has run, the structured record.
type Entry struct {
	// Received is when the line was ingested.
	Received time.Time

	// Source identifies which ingestor produced this entry.
	Source string

	// SourceFile is the base name of the originating log without extension.
	// Empty for sources that are not files.
	SourceFile string

	// Offset is the byte offset of the line within SourceFile.
	Offset int64

	// Raw contains the original log line as received.
	Raw []byte

	// Hash is the hex md5 of Raw, used to deduplicate lines in the index.
	Hash string

	// Record is nil until the line has been parsed.
	Record *accesslog.Record

	// Metadata contains enrichment data like hostname and static labels.
	Metadata map[string]string
}

// NewEntry creates a new Entry with initialized metadata and the current time.
func NewEntry(source string, raw []byte) *Entry {
	return &Entry{
		Received: time.Now(),
		Source:   source,
		Raw:      raw,
		Metadata: make(map[string]string),
	}
}

// Time returns the request time of the parsed record, or Received when the
// line carried no usable timestamp.
func (e *Entry) Time() time.Time {
	if e.Record != nil && !e.Record.Time.IsZero() {
		return e.Record.Time
	}
	return e.Received
}

// Clone creates a deep copy of the Entry.
// Fan-out hands every emitter its own copy.
func (e *Entry) Clone() *Entry {
	clone := &Entry{
		Received:   e.Received,
		Source:     e.Source,
		SourceFile: e.SourceFile,
		Offset:     e.Offset,
		Raw:        make([]byte, len(e.Raw)),
		Hash:       e.Hash,
		Record:     e.Record.Clone(),
		Metadata:   make(map[string]string, len(e.Metadata)),
	}
	copy(clone.Raw, e.Raw)
	for k, v := range e.Metadata {
		clone.Metadata[k] = v
	}
	return clone
}

// Fields flattens the entry into a JSON-ready map. Record values use their
// record keys. Extras and metadata are merged at the top level and never
// overwrite entry or record values.
func (e *Entry) Fields() map[string]any {
	out := map[string]any{
		"received": e.Received.UTC().Format(time.RFC3339Nano),
		"source":   e.Source,
		"message":  string(e.Raw),
	}
	if e.SourceFile != "" {
		out["source_file"] = e.SourceFile
		out["source_offset"] = e.Offset
	}
	if e.Hash != "" {
		out["hash"] = e.Hash
	}

	if r := e.Record; r != nil {
		setString(out, "ip", r.IP)
		setString(out, "identity", r.Identity)
		setString(out, "user", r.User)
		setString(out, "timestamp", r.Timestamp)
		setString(out, "datestamp", r.Datestamp)
		setString(out, "method", r.Method)
		setString(out, "uri", r.URI)
		setString(out, "query", r.Query)
		setString(out, "http_version", r.HTTPVersion)
		setString(out, "referrer", r.Referrer)
		setString(out, "referrer_domain", r.ReferrerDomain)
		setString(out, "agent", r.Agent)
		setString(out, "host", r.Host)
		if r.UnixTimestamp != nil {
			out["unix_timestamp"] = *r.UnixTimestamp
		}
		if r.StatusCode != nil {
			out["status_code"] = *r.StatusCode
		}
		if r.BytesSent != nil {
			out["bytes_sent"] = *r.BytesSent
		}
	}

	// Extras come from the log line itself and may not replace entry or
	// record keys.
	if e.Record != nil {
		for k, v := range e.Record.Extras {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
	}

	for k, v := range e.Metadata {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

func setString(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}
