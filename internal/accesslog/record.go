// Package accesslog parses web server access log lines in combined log format,
// including the trailing key="value" extras some hosts append (for example
// geo-IP annotations).
package accesslog

import (
	"time"
)

// Record is the structured form of one access log line.
// String fields are empty when the line did not carry a value.
type Record struct {
	IP       string `json:"ip"`
	Identity string `json:"identity,omitempty"`
	User     string `json:"user,omitempty"`

	// Timestamp is the raw bracketed value without the brackets.
	Timestamp string `json:"timestamp,omitempty"`
	// Time is zero when Timestamp is absent or unparseable.
	Time          time.Time `json:"-"`
	UnixTimestamp *float64  `json:"unix_timestamp,omitempty"`
	// Datestamp is the UTC hour bucket, formatted YYYY-MM-DD-HH.
	Datestamp string `json:"datestamp,omitempty"`

	Method      string `json:"method,omitempty"`
	URI         string `json:"uri,omitempty"`
	Query       string `json:"query,omitempty"`
	HTTPVersion string `json:"http_version,omitempty"`

	StatusCode *int   `json:"status_code,omitempty"`
	BytesSent  *int64 `json:"bytes_sent,omitempty"`

	Referrer       string `json:"referrer,omitempty"`
	ReferrerDomain string `json:"referrer_domain,omitempty"`
	Agent          string `json:"agent,omitempty"`
	Host           string `json:"host,omitempty"`

	Extras map[string]string `json:"extras"`
}

// Extra returns an extras value and whether it was present.
func (r *Record) Extra(key string) (string, bool) {
	v, ok := r.Extras[key]
	return v, ok
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.UnixTimestamp != nil {
		v := *r.UnixTimestamp
		c.UnixTimestamp = &v
	}
	if r.StatusCode != nil {
		v := *r.StatusCode
		c.StatusCode = &v
	}
	if r.BytesSent != nil {
		v := *r.BytesSent
		c.BytesSent = &v
	}
	c.Extras = make(map[string]string, len(r.Extras))
	for k, v := range r.Extras {
		c.Extras[k] = v
	}
	return &c
}
