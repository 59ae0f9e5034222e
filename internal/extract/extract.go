// Package extract pulls candidate field values and conversational signals
// out of free-form messages. Everything here is pure: no I/O and no shared
// mutable state beyond compiled patterns.
package extract

import (
	"strings"
	"time"

	"bookingagent/internal/booking"
	"bookingagent/internal/catalog"
)

// Context scopes an extraction.
type Context struct {
	// Asked is the field the last reply asked for. Bare, uncued text is only
	// offered for this field.
	Asked   booking.Field
	Catalog *catalog.Catalog
}

// Match is a candidate with the byte span it was read from.
type Match struct {
	booking.Candidate
	Start, End int
}

// Extractor finds candidates for one field.
type Extractor interface {
	Field() booking.Field
	Extract(text string, ctx Context) []Match
}

// Set runs extractors in two passes. Typed values (email, dates, phones,
// codes) are found first and blanked out so the free-text extractors never
// read a phone number as part of an address.
type Set struct {
	typed []Extractor
	free  []Extractor
}

// NewSet returns the standard extractors.
func NewSet() *Set {
	return &Set{
		typed: []Extractor{
			emailExtractor{},
			dateExtractor{},
			phoneExtractor{},
			pincodeExtractor{},
		},
		free: []Extractor{
			messageExtractor{},
			countryExtractor{},
			nameExtractor{},
			addressExtractor{},
		},
	}
}

// Extract returns every candidate found in text.
func (s *Set) Extract(text string, ctx Context) []booking.Candidate {
	work := text
	var out []booking.Candidate
	run := func(extractors []Extractor) {
		for _, e := range extractors {
			for _, m := range e.Extract(work, ctx) {
				out = append(out, m.Candidate)
				if m.End > m.Start {
					work = blank(work, m.Start, m.End)
				}
			}
		}
	}
	run(s.typed)
	run(s.free)
	return out
}

// Input builds the state machine input for one message.
func (s *Set) Input(text string, ctx Context, now time.Time) booking.Input {
	return booking.Input{
		Text:       text,
		Candidates: s.Extract(text, ctx),
		Selection:  Selection(text),
		Code:       Code(text),
		Change:     ChangeRequest(text),
		Signals:    Detect(text),
		Now:        now,
	}
}

// blank replaces text[start:end] with spaces, keeping byte offsets stable.
func blank(text string, start, end int) string {
	if start < 0 || end > len(text) || start >= end {
		return text
	}
	return text[:start] + strings.Repeat(" ", end-start) + text[end:]
}

func candidate(f booking.Field, value string, conf booking.Confidence, start, end int) Match {
	return Match{
		Candidate: booking.Candidate{Field: f, Value: value, Confidence: conf},
		Start:     start,
		End:       end,
	}
}
