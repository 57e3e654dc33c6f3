package search

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	// Zone database for hosts without one; timezone names come from config.
	_ "time/tzdata"

	"github.com/GabrielNunesIT/logindex/internal/field"
)

var (
	dayPattern   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	monthPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)
)

// Compiler renders queries relative to a timezone and a clock.
// It holds no mutable state and is safe for concurrent use.
type Compiler struct {
	loc *time.Location
	now func() time.Time
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithClock sets the time source used for "today" and "yesterday".
func WithClock(now func() time.Time) Option {
	return func(c *Compiler) {
		c.now = now
	}
}

// New creates a compiler for the given location. A nil location means UTC.
func New(loc *time.Location, opts ...Option) *Compiler {
	if loc == nil {
		loc = time.UTC
	}
	c := &Compiler{
		loc: loc,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile converts a search query to a WHERE clause using the named IANA
// timezone for date terms. An unknown timezone falls back to UTC.
// The result is empty when the query selects nothing, which callers must
// treat as "no filter".
func Compile(query, timezone string) string {
	c, _ := NewInZone(timezone)
	return c.Compile(query)
}

// NewInZone creates a compiler for the named IANA timezone. An unknown name
// yields a UTC compiler together with the lookup error.
func NewInZone(timezone string, opts ...Option) (*Compiler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return New(time.UTC, opts...), fmt.Errorf("loading timezone %q: %w", timezone, err)
	}
	return New(loc, opts...), nil
}

// Location returns the timezone date terms are interpreted in.
func (c *Compiler) Location() *time.Location {
	return c.loc
}

// Compile converts a search query to a WHERE clause.
func (c *Compiler) Compile(query string) string {
	return c.Render(Qualify(Tokenize(query)))
}

// Render joins the SQL groups of the given terms with AND.
func (c *Compiler) Render(terms []Term) string {
	groups := make([]string, 0, len(terms))
	for _, t := range terms {
		if g := c.group(t); g != "" {
			groups = append(groups, g)
		}
	}
	return strings.Join(groups, " AND ")
}

// group renders one term. Values are OR'ed, or AND'ed when negated.
func (c *Compiler) group(t Term) string {
	phrases := make([]string, 0, len(t.Values))
	for _, v := range t.Values {
		if p := c.phrase(t, v); p != "" {
			phrases = append(phrases, p)
		}
	}
	if len(phrases) == 0 {
		return ""
	}

	boolean := " OR "
	if t.Negated {
		boolean = " AND "
	}
	return "(" + strings.Join(phrases, boolean) + ")"
}

func (c *Compiler) phrase(t Term, value string) string {
	switch t.Field.Category {
	case field.Date:
		return c.datePhrase(t, value)
	case field.Numeric:
		return numericPhrase(t, value)
	case field.Subquery:
		return subqueryPhrase(t, value)
	default:
		return stringPhrase(t, value)
	}
}

func (c *Compiler) datePhrase(t Term, value string) string {
	start, end, ok := c.dateRange(value)
	if !ok {
		return ""
	}
	op := "BETWEEN"
	if t.Negated {
		op = "NOT BETWEEN"
	}
	return fmt.Sprintf("%s %s '%s' AND '%s'",
		column(t, t.Field.Column), op,
		start.UTC().Format(field.DatestampLayout),
		end.UTC().Format(field.DatestampLayout))
}

// dateRange returns the first and last hour of the local day or month
// named by value.
func (c *Compiler) dateRange(value string) (start, end time.Time, ok bool) {
	now := c.now().In(c.loc)

	switch {
	case value == "today":
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.loc)
	case value == "yesterday":
		start = time.Date(now.Year(), now.Month(), now.Day()-1, 0, 0, 0, 0, c.loc)
	case dayPattern.MatchString(value):
		day, err := time.ParseInLocation("2006-01-02", value, c.loc)
		if err != nil {
			return start, end, false
		}
		start = day
	case monthPattern.MatchString(value):
		month, err := time.ParseInLocation("2006-01", value, c.loc)
		if err != nil {
			return start, end, false
		}
		start = month
		end = time.Date(month.Year(), month.Month()+1, 0, 23, 0, 0, 0, c.loc)
		return start, end, true
	default:
		return start, end, false
	}

	end = time.Date(start.Year(), start.Month(), start.Day(), 23, 0, 0, 0, c.loc)
	return start, end, true
}

func numericPhrase(t Term, value string) string {
	if _, err := strconv.ParseInt(value, 10, 64); err != nil {
		return ""
	}
	op := "="
	if t.Negated {
		op = "<>"
	}
	return fmt.Sprintf("%s %s %s", column(t, t.Field.Column), op, value)
}

// subqueryPhrase negates through the inner comparison only; the outer IN is
// kept so addresses without a reverse_ip row never match.
func subqueryPhrase(t Term, value string) string {
	return fmt.Sprintf(
		"%s IN (SELECT ip FROM reverse_ip WHERE %s %s %s)",
		column(t, "logs.ip"), t.Field.Column, operator(value, t.Negated), quote(value))
}

func stringPhrase(t Term, value string) string {
	name := t.Field.Column
	// ip is also a column of reverse_ip, so it is table qualified.
	if name == field.IP {
		name = "logs.ip"
	}
	return fmt.Sprintf("%s %s %s", column(t, name), operator(value, t.Negated), quote(value))
}

// column applies the qualification prefix.
func column(t Term, name string) string {
	if t.Qualified {
		return "+" + name
	}
	return name
}

// operator picks the comparison for a value: LIKE when it holds a wildcard.
func operator(value string, negated bool) string {
	wildcard := strings.Contains(value, "%")
	switch {
	case wildcard && negated:
		return "NOT LIKE"
	case wildcard:
		return "LIKE"
	case negated:
		return "<>"
	default:
		return "="
	}
}

func quote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
