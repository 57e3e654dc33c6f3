package emitter

import (
	"time"

	"github.com/GabrielNunesIT/logindex/internal/accesslog"
	"github.com/GabrielNunesIT/logindex/internal/model"
)

const (
	okLine      = `203.0.113.7 - - [15/Jun/2021:12:00:00 +0000] "GET /index.html?page=2 HTTP/1.1" 200 512 "-" "curl/7.68.0" example.com`
	missingLine = `203.0.113.7 - - [15/Jun/2021:13:00:00 +0000] "GET /missing HTTP/1.1" 404 0 "-" "curl/7.68.0" example.com`
)

// parsedEntry builds an entry the way the parser processor leaves it.
func parsedEntry(line string) *model.Entry {
	entry := model.NewEntry("file", []byte(line))
	entry.Received = time.Date(2026, 1, 18, 12, 0, 0, 0, time.UTC)
	entry.SourceFile = "access"
	entry.Record = accesslog.Parse(line)
	entry.Hash = line
	entry.Metadata["hostname"] = "web-1"
	return entry
}
