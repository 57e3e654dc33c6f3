package accesslog

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/GabrielNunesIT/logindex/internal/field"
)

// timestampLayouts are tried in order. The second one matches the
// microsecond variant after fractionAsDecimal has rewritten it.
var timestampLayouts = []string{
	"02/Jan/2006:15:04:05 -0700",
	"02/Jan/2006:15:04:05.999999 -0700",
}

// Parse converts one access log line to a Record.
//
// Fields are consumed left to right in combined log order, followed by the
// virtual host and any key="value" extras. Parse never fails: a segment that
// does not fit the grammar leaves its field empty and parsing continues with
// whatever text remains.
func Parse(line string) *Record {
	rest := Sanitize(line)
	r := &Record{Extras: map[string]string{}}

	r.IP, rest = consume(rest, " ")
	r.Identity, rest = consume(rest, " ")
	r.User, rest = consume(rest, " ")

	var ts string
	ts, rest = consume(rest, "]")
	if ts != "" {
		r.Timestamp = strings.TrimSuffix(strings.TrimPrefix(ts, "["), "]")
		r.setTime(r.Timestamp)
	}

	r.Method, rest = consume(rest, " ")

	r.URI, rest = consume(rest, " ")
	if uri, query, ok := strings.Cut(r.URI, "?"); ok {
		r.URI = uri
		r.Query = query
	}

	r.HTTPVersion, rest = consume(rest, " ")

	var status string
	status, rest = consume(rest, " ")
	if n, err := strconv.Atoi(status); err == nil {
		r.StatusCode = &n
	}

	var size string
	size, rest = consume(rest, " ")
	if n, err := strconv.ParseInt(size, 10, 64); err == nil {
		r.BytesSent = &n
	}

	r.Referrer, rest = consume(rest, " ")
	if r.Referrer != "" {
		if u, err := url.Parse(r.Referrer); err == nil && u.Host != "" {
			r.ReferrerDomain = strings.ToLower(u.Host)
		}
	}

	r.Agent, rest = consume(strings.TrimPrefix(rest, `"`), `"`)
	r.Host, rest = consume(rest, " ")

	r.Extras = ParseExtras(rest)
	return r
}

func (r *Record) setTime(raw string) {
	t, ok := ParseTimestamp(raw)
	if !ok {
		return
	}
	r.Time = t
	unix := float64(t.UnixMicro()) / 1e6
	r.UnixTimestamp = &unix
	r.Datestamp = t.Format(field.DatestampLayout)
}

// Sanitize trims the line, closes an unbalanced double quote and turns an
// empty quoted referrer into the "-" placeholder.
func Sanitize(line string) string {
	line = strings.TrimSpace(line)
	if strings.Count(line, `"`)%2 != 0 {
		line += `"`
	}
	return strings.ReplaceAll(line, ` "" "`, ` - "`)
}

// ParseTimestamp parses a log timestamp with or without its surrounding
// brackets. The result is in UTC; ok is false when no layout matched.
func ParseTimestamp(s string) (t time.Time, ok bool) {
	s = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(s), "["), "]")

	for i, layout := range timestampLayouts {
		candidate := s
		if i > 0 {
			candidate = fractionAsDecimal(s)
		}
		parsed, err := time.Parse(layout, candidate)
		if err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

// fractionAsDecimal rewrites "15:04:05:123456 -0700" to "15:04:05.123456 -0700".
func fractionAsDecimal(s string) string {
	clock, zone, ok := strings.Cut(s, " ")
	if !ok || strings.Count(clock, ":") != 4 {
		return s
	}
	i := strings.LastIndex(clock, ":")
	return clock[:i] + "." + clock[i+1:] + " " + zone
}

// ParseExtras converts trailing key="value" pairs to a map.
// Placeholder values are dropped, known geo keys are normalized and a
// comma separated latlong is split into latitude and longitude.
func ParseExtras(s string) map[string]string {
	extras := map[string]string{}

	for strings.Contains(s, "=") {
		var key, value string
		key, s, _ = strings.Cut(s, `="`)
		value, s, _ = strings.Cut(s, `" `)

		key = strings.TrimSpace(key)
		value = clean(value)
		if key == "" || field.IsUnknown(value) {
			continue
		}

		if key == "latlong" {
			if lat, long, ok := strings.Cut(value, ","); ok {
				extras["latitude"] = strings.TrimSpace(lat)
				extras["longitude"] = strings.TrimSpace(long)
				continue
			}
		}

		extras[key] = field.NormalizeExtra(key, value)
	}

	return extras
}

// consume splits text at the first sep. The left part is cleaned and the
// right part loses its leading whitespace. When sep is missing the token is
// empty and text is handed back untouched.
func consume(text, sep string) (token, rest string) {
	before, after, found := strings.Cut(text, sep)
	if !found {
		return "", before
	}
	return clean(before + sep), strings.TrimLeft(after, " \t")
}

// clean strips quotes and spaces and maps "-" to empty.
func clean(s string) string {
	s = strings.Trim(s, `" `)
	if s == "-" {
		return ""
	}
	return s
}
