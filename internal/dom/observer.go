package dom

import (
	"errors"

	"golang.org/x/net/html"
)

// RecordType distinguishes structural from attribute mutations.
type RecordType int

const (
	ChildList RecordType = iota
	Attributes
)

func (t RecordType) String() string {
	switch t {
	case ChildList:
		return "childList"
	case Attributes:
		return "attributes"
	default:
		return "unknown"
	}
}

// MutationRecord describes one edit.
type MutationRecord struct {
	Type   RecordType
	Target *html.Node

	// ChildList records.
	Added           []*html.Node
	Removed         []*html.Node
	PreviousSibling *html.Node
	NextSibling     *html.Node

	// Attributes records.
	AttrName string
}

// ObserveOptions selects which records an observer receives for a target.
type ObserveOptions struct {
	ChildList  bool
	Attributes bool

	// Subtree extends observation to every descendant of the target.
	Subtree bool
}

// ErrNoRecordTypes is returned by Observe when options select nothing.
var ErrNoRecordTypes = errors.New("dom: observe options select no record types")

// Callback receives one batch of records.
type Callback func(records []MutationRecord, o *Observer)

type registration struct {
	target *html.Node
	opts   ObserveOptions
}

// Observer receives batches of mutation records from a Document.
type Observer struct {
	doc     *Document
	fn      Callback
	regs    []registration
	pending []MutationRecord
}

// NewObserver creates an observer. It receives nothing until Observe is called.
func (d *Document) NewObserver(fn Callback) *Observer {
	return &Observer{doc: d, fn: fn}
}

// Observe registers target. Observing the same target again replaces its
// options.
func (o *Observer) Observe(target *html.Node, opts ObserveOptions) error {
	if !opts.ChildList && !opts.Attributes {
		return ErrNoRecordTypes
	}
	for i := range o.regs {
		if o.regs[i].target == target {
			o.regs[i].opts = opts
			return nil
		}
	}
	o.regs = append(o.regs, registration{target: target, opts: opts})

	for _, existing := range o.doc.observers {
		if existing == o {
			return nil
		}
	}
	o.doc.observers = append(o.doc.observers, o)
	return nil
}

// Disconnect drops every registration and any undelivered records.
func (o *Observer) Disconnect() {
	o.regs = nil
	o.pending = nil
	obs := o.doc.observers[:0]
	for _, x := range o.doc.observers {
		if x != o {
			obs = append(obs, x)
		}
	}
	o.doc.observers = obs
}

// TakeRecords returns and clears the records queued for this observer but
// not yet delivered.
func (o *Observer) TakeRecords() []MutationRecord {
	recs := o.pending
	o.pending = nil
	return recs
}

func (o *Observer) wants(rec MutationRecord) bool {
	for _, r := range o.regs {
		switch rec.Type {
		case ChildList:
			if !r.opts.ChildList {
				continue
			}
		case Attributes:
			if !r.opts.Attributes {
				continue
			}
		}
		if rec.Target == r.target {
			return true
		}
		if r.opts.Subtree && Contains(r.target, rec.Target) {
			return true
		}
	}
	return false
}

func (d *Document) queue(rec MutationRecord) {
	for _, o := range d.observers {
		if o.wants(rec) {
			o.pending = append(o.pending, rec)
		}
	}
}

// Pending reports whether any observer has undelivered records.
func (d *Document) Pending() bool {
	for _, o := range d.observers {
		if len(o.pending) > 0 {
			return true
		}
	}
	return false
}

// Flush delivers queued records. Each round hands every observer with pending
// records its whole queue, in registration order; records produced during a
// round are delivered in the next one. Flush returns once a round delivers
// nothing. A nested call from inside a callback is a no-op.
func (d *Document) Flush() error {
	if d.flushing {
		return nil
	}
	d.flushing = true
	defer func() { d.flushing = false }()

	for round := 0; ; round++ {
		if !d.Pending() {
			return nil
		}
		if round >= maxFlushRounds {
			return ErrFlushLimit
		}
		obs := append([]*Observer(nil), d.observers...)
		for _, o := range obs {
			if len(o.pending) == 0 {
				continue
			}
			recs := o.pending
			o.pending = nil
			o.fn(recs, o)
		}
	}
}
