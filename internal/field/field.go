// Package field holds the field vocabulary shared by the access log parser and
// the search query compiler: search keywords, index columns, record keys and
// the value rules attached to them.
package field

import (
	"sort"
	"strings"
	"unicode"
)

// Category selects how a field is rendered into SQL.
type Category int

const (
	// String fields are quoted and may use LIKE wildcards.
	String Category = iota
	// Date fields are expanded into hour-granularity BETWEEN ranges.
	Date
	// Numeric fields are compared unquoted.
	Numeric
	// Subquery fields are resolved through a secondary table.
	Subquery
)

func (c Category) String() string {
	switch c {
	case Date:
		return "date"
	case Numeric:
		return "numeric"
	case Subquery:
		return "subquery"
	default:
		return "string"
	}
}

// Casing is the normalization applied to extras values.
type Casing int

const (
	// AsIs leaves the value untouched.
	AsIs Casing = iota
	// Upper upper-cases the value.
	Upper
	// Title capitalizes the first letter of every word.
	Title
)

// Field describes one searchable attribute of a log record.
type Field struct {
	// Column is the column name in the logs index.
	Column string
	// Key is the name used in parsed records and JSON output.
	Key string
	// Category selects the SQL transform.
	Category Category
	// Casing normalizes values arriving through log line extras.
	Casing Casing
}

// DatestampLayout formats the UTC hour bucket stored in the datestamp column.
const DatestampLayout = "2006-01-02-15"

// Well-known columns.
const (
	Datestamp     = "datestamp"
	StatusCode    = "statusCode"
	IP            = "ip"
	ReverseDomain = "reverse_domain"
)

var fields = []Field{
	{Column: Datestamp, Key: "datestamp", Category: Date},
	{Column: "source_file", Key: "source_file"},
	{Column: IP, Key: "ip"},
	{Column: "host", Key: "host"},
	{Column: "uri", Key: "uri"},
	{Column: "query", Key: "query"},
	{Column: StatusCode, Key: "status_code", Category: Numeric},
	{Column: "method", Key: "method"},
	{Column: "agent", Key: "agent"},
	{Column: "agent_domain", Key: "agent_domain"},
	{Column: "classification", Key: "classification"},
	{Column: "country", Key: "country", Casing: Upper},
	{Column: "region", Key: "region", Casing: Upper},
	{Column: "city", Key: "city", Casing: Title},
	{Column: "cookie", Key: "cookie"},
	{Column: "referrer", Key: "referrer"},
	{Column: "referrer_domain", Key: "referrer_domain"},
	{Column: ReverseDomain, Key: "reverse_domain", Category: Subquery},
}

// aliases maps lower-case search keywords to columns.
var aliases = map[string]string{
	"date":            Datestamp,
	"source_file":     "source_file",
	"ip":              IP,
	"host":            "host",
	"uri":             "uri",
	"query":           "query",
	"status":          StatusCode,
	"statuscode":      StatusCode,
	"method":          "method",
	"agent":           "agent",
	"agent_domain":    "agent_domain",
	"classification":  "classification",
	"country":         "country",
	"region":          "region",
	"city":            "city",
	"cookie":          "cookie",
	"referrer":        "referrer",
	"referrer_domain": "referrer_domain",
	"reverse_domain":  ReverseDomain,
}

var (
	byColumn = make(map[string]Field, len(fields))
	byKey    = make(map[string]Field, len(fields))
)

func init() {
	for _, f := range fields {
		byColumn[f.Column] = f
		byKey[f.Key] = f
	}
}

// Lookup resolves a search keyword to its field.
func Lookup(keyword string) (Field, bool) {
	column, ok := aliases[keyword]
	if !ok {
		return Field{}, false
	}
	f, ok := byColumn[column]
	return f, ok
}

// ByColumn returns the field stored in the given index column.
func ByColumn(column string) (Field, bool) {
	f, ok := byColumn[column]
	return f, ok
}

// ByKey returns the field with the given record key.
func ByKey(key string) (Field, bool) {
	f, ok := byKey[key]
	return f, ok
}

// Fields returns a copy of the vocabulary in declaration order.
func Fields() []Field {
	out := make([]Field, len(fields))
	copy(out, fields)
	return out
}

// Keywords returns every accepted search keyword, sorted.
func Keywords() []string {
	out := make([]string, 0, len(aliases))
	for k := range aliases {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsUnknown reports whether an extras value is a placeholder for "no data".
func IsUnknown(value string) bool {
	switch value {
	case "", "-", "ZZ", "?":
		return true
	}
	return false
}

// NormalizeExtra applies the casing rule of key to value.
// Keys outside the vocabulary are returned unchanged.
func NormalizeExtra(key, value string) string {
	f, ok := byKey[key]
	if !ok {
		return value
	}
	switch f.Casing {
	case Upper:
		return strings.ToUpper(value)
	case Title:
		return TitleCase(value)
	}
	return value
}

// TitleCase upper-cases every letter that follows a non-letter and
// lower-cases the rest, so "new york" becomes "New York" and
// "o'fallon" becomes "O'Fallon".
func TitleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToTitle(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}
