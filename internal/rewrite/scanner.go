// Package rewrite walks an HTML subtree and splices metric annotations into
// text nodes that mention imperial quantities.
//
// Each converted occurrence becomes two nodes: a struck-through span holding
// the original phrase and a plain text node holding " (<value> <unit>)".
// Those spans carry a marker attribute and are never descended into again, so
// scanning a subtree twice leaves it as scanning it once.
package rewrite

import (
	"fmt"
	"io"
	"log"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"metricize/internal/convert"
	"metricize/internal/dom"
)

const (
	// MarkerAttr marks spans created by the rewriter.
	MarkerAttr = "data-metricize"
	// MarkerOriginal is MarkerAttr's value on the struck-through span.
	MarkerOriginal = "original"
	// StrikeStyle is the inline style applied to the original phrase.
	StrikeStyle = "text-decoration: line-through"
)

// Logger is the minimal logging surface the scanner needs.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, args ...any)
}

// Conversion describes one converted occurrence, handed to a Recorder.
type Conversion struct {
	Page     string
	Original string
	Number   string
	Unit     string // canonical unit key, e.g. "foot"
	Value    string // formatted metric value, e.g. "3.05"
	Label    string // metric unit, e.g. "m"
}

// Recorder observes conversions as they are applied.
type Recorder interface {
	RecordConversion(c Conversion)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(c Conversion)

// RecordConversion implements Recorder.
func (f RecorderFunc) RecordConversion(c Conversion) { f(c) }

// Stats counts what a scanner did over its lifetime.
type Stats struct {
	Visited   int // text and element nodes visited
	Rewritten int // text nodes replaced
	Converted int // original/metric pairs inserted
	Skipped   int // matches left as text (unknown unit, bad number)
	Failures  int // text nodes whose rewrite failed
}

// Scanner rewrites text nodes of one document.
type Scanner struct {
	doc   *dom.Document
	tok   *convert.Tokenizer
	log   Logger
	rec   Recorder
	page  string
	stats Stats
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger used for per-node failures.
func WithLogger(l Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRecorder registers a recorder called once per converted pair.
func WithRecorder(r Recorder) Option {
	return func(s *Scanner) { s.rec = r }
}

// WithPage sets the page identifier copied into each Conversion.
func WithPage(page string) Option {
	return func(s *Scanner) { s.page = page }
}

// WithTokenizer replaces the default tokenizer.
func WithTokenizer(t *convert.Tokenizer) Option {
	return func(s *Scanner) {
		if t != nil {
			s.tok = t
		}
	}
}

// New returns a scanner editing doc.
func New(doc *dom.Document, opts ...Option) *Scanner {
	s := &Scanner{
		doc: doc,
		tok: convert.Default(),
		log: log.New(io.Discard, "", 0),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Stats returns the counters accumulated so far.
func (s *Scanner) Stats() Stats { return s.stats }

// Skip reports whether the scanner leaves an element and its subtree alone:
// code, stylesheets, form inputs, and its own struck-through spans.
func Skip(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Input, atom.Textarea:
		return true
	}
	return IsOriginal(n)
}

// IsOriginal reports whether n is a struck-through span made by the rewriter.
func IsOriginal(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode || n.DataAtom != atom.Span {
		return false
	}
	v, ok := dom.Attr(n, MarkerAttr)
	return ok && v == MarkerOriginal
}

// Scan processes n. Text nodes are rewritten in place; elements and document
// nodes are walked over a snapshot of their children; anything else is
// ignored.
func (s *Scanner) Scan(n *html.Node) {
	if n == nil {
		return
	}
	switch n.Type {
	case html.TextNode:
		s.stats.Visited++
		s.scanText(n)
	case html.ElementNode:
		s.stats.Visited++
		if Skip(n) {
			return
		}
		s.scanChildren(n)
	case html.DocumentNode:
		s.scanChildren(n)
	}
}

func (s *Scanner) scanChildren(n *html.Node) {
	// Snapshot first: rewriting a child replaces it with new siblings, which
	// must not change which of the remaining children get visited.
	for _, c := range dom.Children(n) {
		s.Scan(c)
	}
}

func (s *Scanner) scanText(n *html.Node) {
	if n.Parent == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.stats.Failures++
			s.log.Printf("rewrite: text node %q: %v", preview(n.Data), r)
		}
	}()

	script := s.tok.Plan(n.Data, followedByOriginal(n))
	s.stats.Skipped += script.Skipped
	if !script.Changed() {
		return
	}

	if err := s.doc.ReplaceWith(n, BuildReplacement(script.Segments)...); err != nil {
		s.stats.Failures++
		s.log.Printf("rewrite: replace text node %q: %v", preview(n.Data), err)
		return
	}
	s.stats.Rewritten++

	for _, seg := range script.Segments {
		if seg.Kind != convert.Converted {
			continue
		}
		s.stats.Converted++
		if s.rec != nil {
			s.rec.RecordConversion(Conversion{
				Page:     s.page,
				Original: seg.Text,
				Number:   seg.Match.Number,
				Unit:     seg.Unit.Key,
				Value:    seg.Value,
				Label:    seg.Unit.Label,
			})
		}
	}
}

// followedByOriginal reports whether n is directly followed by a rewriter
// span whose text starts with a word character. That happens when an earlier
// rewrite split "5 ft3 miles" into "5 ft" + <span>3 miles</span>: the "5 ft"
// run was not a match in the original text and must stay unconverted.
func followedByOriginal(n *html.Node) bool {
	next := n.NextSibling
	if !IsOriginal(next) {
		return false
	}
	return convert.StartsWithWordChar(dom.TextContent(next))
}

// BuildReplacement turns an edit script into detached nodes, in order:
// literal runs become text nodes; each converted pair becomes a
// struck-through span followed by a text node with the metric value.
func BuildReplacement(segs []convert.Segment) []*html.Node {
	out := make([]*html.Node, 0, len(segs)+len(segs)/2)
	for _, seg := range segs {
		switch seg.Kind {
		case convert.Literal:
			out = append(out, dom.NewText(seg.Text))
		case convert.Converted:
			span := dom.NewElement("span", "style", StrikeStyle, MarkerAttr, MarkerOriginal)
			span.AppendChild(dom.NewText(seg.Text))
			out = append(out, span, dom.NewText(seg.Metric))
		}
	}
	return out
}

func preview(s string) string {
	const max = 40
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return fmt.Sprintf("%s...", string(r[:max]))
}
