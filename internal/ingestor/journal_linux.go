//go:build linux && cgo

package ingestor

import (
	"context"
	"fmt"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/coreos/go-systemd/v22/sdjournal"

	"github.com/GabrielNunesIT/logindex/internal/config"
	"github.com/GabrielNunesIT/logindex/internal/model"
)

// journalFields maps journal fields to entry metadata keys.
var journalFields = map[string]string{
	"_SYSTEMD_UNIT":     "unit",
	"_PID":              "pid",
	"_HOSTNAME":         "syslog_host",
	"SYSLOG_IDENTIFIER": "syslog_tag",
}

// JournalIngestor reads access log lines that a web server wrote to the
// systemd journal, typically through stdout of a unit.
type JournalIngestor struct {
	cfg    config.JournalIngestorConfig
	name   string
	logger logger.ILogger
}

// NewJournalIngestor creates a new systemd journal ingestor.
func NewJournalIngestor(cfg config.JournalIngestorConfig, log logger.ILogger) *JournalIngestor {
	return &JournalIngestor{
		cfg:    cfg,
		name:   "journal",
		logger: log.SubLogger("JournalIngestor"),
	}
}

// Name returns the ingestor identifier.
func (j *JournalIngestor) Name() string {
	return j.name
}

// Start follows the journal from its tail.
func (j *JournalIngestor) Start(ctx context.Context, out chan<- *model.Entry) error {
	defer close(out)

	journal, err := sdjournal.NewJournal()
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer journal.Close()

	for i, unit := range j.cfg.Units {
		if i > 0 {
			if err := journal.AddDisjunction(); err != nil {
				return fmt.Errorf("adding unit disjunction: %w", err)
			}
		}
		if err := journal.AddMatch(sdjournal.SD_JOURNAL_FIELD_SYSTEMD_UNIT + "=" + unit); err != nil {
			return fmt.Errorf("adding unit filter %q: %w", unit, err)
		}
	}

	if err := journal.SeekTail(); err != nil {
		return fmt.Errorf("seeking to journal tail: %w", err)
	}
	// SeekTail positions after the last entry; stepping back keeps Next from
	// skipping the first new one.
	if _, err := journal.Previous(); err != nil {
		return fmt.Errorf("moving to previous entry: %w", err)
	}

	j.logger.Infof("following journal: units=%v", j.cfg.Units)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if journal.Wait(time.Second) == sdjournal.SD_JOURNAL_NOP {
			continue
		}

		for {
			n, err := journal.Next()
			if err != nil {
				return fmt.Errorf("reading next entry: %w", err)
			}
			if n == 0 {
				break
			}

			entry, err := j.readEntry(journal)
			if err != nil {
				j.logger.Debugf("skipping journal entry: %v", err)
				continue
			}
			if entry == nil {
				continue
			}

			if !send(ctx, out, entry) {
				return ctx.Err()
			}
		}
	}
}

func (j *JournalIngestor) readEntry(journal *sdjournal.Journal) (*model.Entry, error) {
	jEntry, err := journal.GetEntry()
	if err != nil {
		return nil, err
	}

	message := jEntry.Fields[sdjournal.SD_JOURNAL_FIELD_MESSAGE]
	if message == "" {
		return nil, nil
	}

	entry := model.NewEntry(j.name, []byte(message))
	entry.Received = time.UnixMicro(int64(jEntry.RealtimeTimestamp))
	for jField, key := range journalFields {
		if val, ok := jEntry.Fields[jField]; ok {
			entry.Metadata[key] = val
		}
	}
	return entry, nil
}
