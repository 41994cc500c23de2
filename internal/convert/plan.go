package convert

import (
	"strconv"

	"metricize/internal/units"
)

// SegmentKind tells a literal run from a converted pair.
type SegmentKind int

const (
	// Literal is text copied verbatim from the source string.
	Literal SegmentKind = iota
	// Converted is a matched phrase plus its metric annotation.
	Converted
)

// Segment is one step of an edit script.
type Segment struct {
	Kind SegmentKind

	// Text is the literal run, or for Converted the matched phrase exactly as
	// it appeared (casing and spacing preserved).
	Text string

	// The fields below are set only for Converted segments.
	Match  Match
	Unit   units.Definition
	Value  string // formatted metric number, e.g. "8.05"
	Metric string // text node content, e.g. " (8.05 km)"
}

// Script is the edit script for one string.
type Script struct {
	Segments []Segment

	// Skipped counts matches that produced no pair: unresolvable unit or
	// unparseable number. Their text stays inside a literal run.
	Skipped int
}

// Changed reports whether applying the script alters the string's node
// structure, i.e. whether at least one pair was produced.
func (s Script) Changed() bool {
	for _, seg := range s.Segments {
		if seg.Kind == Converted {
			return true
		}
	}
	return false
}

// Plan builds the edit script for text using the default tokenizer.
func Plan(text string, followedByWord bool) Script {
	return defaultTokenizer.Plan(text, followedByWord)
}

// Plan builds the edit script for text.
//
// followedByWord reports whether the content following text in the document
// starts with a word character. A match ending at the very end of text is
// then not at a real word boundary and is dropped.
//
// When no pair is produced the returned script has no segments.
func (t *Tokenizer) Plan(text string, followedByWord bool) Script {
	matches := t.Find(text)
	if n := len(matches); n > 0 && followedByWord && matches[n-1].End == len(text) {
		matches = matches[:n-1]
	}

	var (
		script Script
		last   int
	)
	for _, m := range matches {
		seg, ok := pair(m)
		if !ok {
			script.Skipped++
			continue
		}
		if m.Start > last {
			script.Segments = append(script.Segments, Segment{Kind: Literal, Text: text[last:m.Start]})
		}
		script.Segments = append(script.Segments, seg)
		last = m.End
	}

	if !script.Changed() {
		script.Segments = nil
		return script
	}
	if last < len(text) {
		script.Segments = append(script.Segments, Segment{Kind: Literal, Text: text[last:]})
	}
	return script
}

func pair(m Match) (Segment, bool) {
	def, ok := units.Lookup(m.Unit)
	if !ok {
		return Segment{}, false
	}
	v, err := strconv.ParseFloat(m.Number, 64)
	if err != nil {
		return Segment{}, false
	}
	val, ok := def.Convert(v)
	if !ok {
		return Segment{}, false
	}
	return Segment{
		Kind:   Converted,
		Text:   m.Full,
		Match:  m,
		Unit:   def,
		Value:  val,
		Metric: " (" + val + " " + def.Label + ")",
	}, true
}
