package processor

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"

	"github.com/valyala/fastjson"

	"github.com/GabrielNunesIT/logindex/internal/accesslog"
	"github.com/GabrielNunesIT/logindex/internal/config"
	"github.com/GabrielNunesIT/logindex/internal/model"
)

// DefaultJSONFields are the envelope keys tried when unwrapping JSON lines.
var DefaultJSONFields = []string{"log", "message", "msg"}

// ParserOption configures the LineParser.
type ParserOption func(*LineParser)

// WithTimestampFailureHook sets a function called with the entry source
// whenever a line carries a timestamp that no layout accepts.
func WithTimestampFailureHook(f func(source string)) ParserOption {
	return func(p *LineParser) {
		p.onTimestampFailure = f
	}
}

// LineParser turns the raw access log line of an entry into a Record.
type LineParser struct {
	cfg    config.ParserConfig
	fields []string
	pool   fastjson.ParserPool

	onTimestampFailure func(source string)
}

// NewLineParser creates a new access log parsing processor.
func NewLineParser(cfg config.ParserConfig, opts ...ParserOption) *LineParser {
	p := &LineParser{cfg: cfg, fields: cfg.JSONFields}
	if len(p.fields) == 0 {
		p.fields = DefaultJSONFields
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the processor identifier.
func (p *LineParser) Name() string {
	return "parser"
}

// Process parses entry.Raw and sets Record and Hash.
func (p *LineParser) Process(_ context.Context, entry *model.Entry) error {
	if !p.cfg.Enabled {
		return nil
	}

	line := entry.Raw
	if p.cfg.UnwrapJSON {
		if inner, ok := p.unwrap(line); ok {
			line = inner
		}
	}

	record := accesslog.Parse(string(line))
	if record.IP == "" {
		return ErrUnparsed
	}
	if record.Timestamp != "" && record.UnixTimestamp == nil && p.onTimestampFailure != nil {
		p.onTimestampFailure(entry.Source)
	}

	entry.Record = record
	entry.Hash = Hash(line)
	return nil
}

// unwrap extracts the log line from a JSON envelope such as
// {"log":"1.2.3.4 - - [...] ...","stream":"stdout"}.
func (p *LineParser) unwrap(raw []byte) ([]byte, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}

	parser := p.pool.Get()
	defer p.pool.Put(parser)

	v, err := parser.ParseBytes(raw)
	if err != nil {
		return nil, false
	}

	for _, key := range p.fields {
		if s := v.GetStringBytes(key); len(s) > 0 {
			// s aliases parser memory that is reused after Put.
			return bytes.Clone(s), true
		}
	}
	return nil, false
}

// Hash returns the hex md5 digest identifying a line in the index.
func Hash(line []byte) string {
	sum := md5.Sum(bytes.TrimRight(line, "\r\n"))
	return hex.EncodeToString(sum[:])
}
