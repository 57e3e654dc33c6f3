// Package search compiles human-typed log search queries into SQL boolean
// expressions over the logs index.
//
// A query is a whitespace separated stream of the form
//
//	field value [value...] field2 [not] value...
//
// where field is one of the keywords known to package field. Compilation runs
// in three steps: Tokenize collects terms, Qualify adds the date index hint
// and Render turns each term into a parenthesized SQL group.
package search

import (
	"strings"

	"github.com/GabrielNunesIT/logindex/internal/field"
)

// Term is one field with the values collected for it.
type Term struct {
	Field   field.Field
	Values  []string
	Negated bool
	// Qualified terms render their column with a leading "+", the SQLite
	// unary plus that keeps the planner from choosing that column's index.
	Qualified bool
}

// state of the tokenizer.
type state int

const (
	noField state = iota
	fieldActive
	fieldNegated
)

type termKey struct {
	column  string
	negated bool
}

// tokenizer collects terms in order of first appearance.
type tokenizer struct {
	state   state
	current field.Field
	terms   []Term
	index   map[termKey]int
}

func (z *tokenizer) feed(word string) {
	if f, ok := field.Lookup(word); ok {
		z.current = f
		z.state = fieldActive
		return
	}

	switch z.state {
	case noField:
		return
	case fieldActive, fieldNegated:
		if word == "not" {
			z.state = fieldNegated
			return
		}
		z.add(word)
	}
}

func (z *tokenizer) add(value string) {
	key := termKey{column: z.current.Column, negated: z.state == fieldNegated}
	if i, ok := z.index[key]; ok {
		z.terms[i].Values = append(z.terms[i].Values, value)
		return
	}
	z.index[key] = len(z.terms)
	z.terms = append(z.terms, Term{
		Field:   z.current,
		Values:  []string{value},
		Negated: key.negated,
	})
}

// Tokenize splits a query into terms. Matching is case-insensitive, tokens
// before the first keyword are ignored and repeated fields accumulate their
// values. A field without values produces no term.
func Tokenize(query string) []Term {
	z := &tokenizer{index: map[termKey]int{}}
	for _, word := range strings.Fields(strings.ToLower(query)) {
		z.feed(word)
	}
	return z.terms
}

// Qualify returns a copy of terms where, if a date term is present, every
// other term is marked Qualified so the date index drives the query.
func Qualify(terms []Term) []Term {
	out := make([]Term, len(terms))
	copy(out, terms)

	if !hasDateTerm(terms) {
		return out
	}
	for i := range out {
		out[i].Qualified = !isDateTerm(out[i])
	}
	return out
}

func hasDateTerm(terms []Term) bool {
	for _, t := range terms {
		if isDateTerm(t) {
			return true
		}
	}
	return false
}

func isDateTerm(t Term) bool {
	return t.Field.Column == field.Datestamp && !t.Negated
}
