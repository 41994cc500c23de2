// Package watch keeps a document converted while its content changes.
//
// A Watcher scans the document body once when started, then observes the body
// subtree for added nodes and scans exactly those nodes. It never rescans the
// whole tree, and it never sees its own output: after handling a batch it
// drains the records its own rewriting queued.
package watch

import (
	"errors"
	"fmt"
	"io"
	"log"

	"golang.org/x/net/html"

	"metricize/internal/dom"
	"metricize/internal/rewrite"
)

var (
	// ErrAlreadyStarted is returned by Start on a running watcher.
	ErrAlreadyStarted = errors.New("watch: already started")

	// ErrStopped is returned by Start on a watcher that was stopped.
	ErrStopped = errors.New("watch: stopped")
)

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// Batch summarizes one handled mutation batch.
type Batch struct {
	Records int // records delivered
	Added   int // added element/text nodes seen
	Scanned int // nodes handed to the scanner
}

type state int

const (
	idle state = iota
	running
	stopped
)

// Watcher owns the observer subscription for one document.
type Watcher struct {
	doc     *dom.Document
	sc      *rewrite.Scanner
	log     Logger
	onBatch func(Batch)

	obs     *dom.Observer
	state   state
	batches int
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger for recovered failures.
func WithLogger(l Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// WithBatchHook registers fn, called after each handled batch.
func WithBatchHook(fn func(Batch)) Option {
	return func(w *Watcher) { w.onBatch = fn }
}

// New returns a watcher that is not yet running.
func New(doc *dom.Document, sc *rewrite.Scanner, opts ...Option) *Watcher {
	w := &Watcher{
		doc: doc,
		sc:  sc,
		log: log.New(io.Discard, "", 0),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Start scans the body synchronously, then subscribes to additions anywhere
// under it. Attribute changes and removals are not observed.
func (w *Watcher) Start() error {
	switch w.state {
	case running:
		return ErrAlreadyStarted
	case stopped:
		return ErrStopped
	}

	body := w.doc.Body()
	w.sc.Scan(body)

	w.obs = w.doc.NewObserver(w.handle)
	if err := w.obs.Observe(body, dom.ObserveOptions{ChildList: true, Subtree: true}); err != nil {
		return fmt.Errorf("watch: observe body: %w", err)
	}
	w.state = running
	return nil
}

// Stop ends the subscription. It is safe to call more than once.
func (w *Watcher) Stop() {
	if w.state != running {
		w.state = stopped
		return
	}
	w.obs.Disconnect()
	w.state = stopped
}

// Running reports whether the watcher is subscribed.
func (w *Watcher) Running() bool { return w.state == running }

// Batches returns how many batches have been handled.
func (w *Watcher) Batches() int { return w.batches }

func (w *Watcher) handle(recs []dom.MutationRecord, o *dom.Observer) {
	var b Batch
	b.Records = len(recs)

	root := w.doc.Root()
	seen := make(map[*html.Node]struct{})
	for _, r := range recs {
		if r.Type != dom.ChildList {
			continue
		}
		for _, n := range r.Added {
			if n.Type != html.ElementNode && n.Type != html.TextNode {
				continue
			}
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			b.Added++

			// A node added earlier in the batch may already have been
			// rewritten away by scanning an ancestor. Nodes added inside
			// script, style, form fields or our own spans stay untouched.
			if !scannable(root, n) {
				continue
			}
			w.scan(n)
			b.Scanned++
		}
	}

	// Everything queued since this batch was handed over came from the
	// scanner. Drop it so converted output is never fed back in.
	_ = o.TakeRecords()

	w.batches++
	if w.onBatch != nil {
		w.onBatch(b)
	}
}

func (w *Watcher) scan(n *html.Node) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Printf("watch: scan added node: %v", r)
		}
	}()
	w.sc.Scan(n)
}

// scannable reports whether n is still connected to root and no ancestor
// below root is an element the scanner leaves alone.
func scannable(root, n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p == root {
			return true
		}
		if rewrite.Skip(p) {
			return false
		}
	}
	return false
}
