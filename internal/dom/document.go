// Package dom wraps a parsed HTML tree in an observable document.
//
// All structural edits go through Document methods so they can be reported to
// observers as mutation records. Records are queued as edits happen and are
// delivered in batches by Flush, which plays the role of the browser's
// microtask checkpoint: a batch is handled to completion before the next one
// is considered.
//
// A Document is not safe for concurrent use. One goroutine owns it.
package dom

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	// ErrDetached is returned when an edit needs a parent the node lacks.
	ErrDetached = errors.New("dom: node has no parent")

	// ErrNotChild is returned when a reference node is not a child of parent.
	ErrNotChild = errors.New("dom: node is not a child of parent")

	// ErrFlushLimit is returned by Flush when observers keep producing
	// records past the round limit.
	ErrFlushLimit = errors.New("dom: flush round limit reached")
)

// maxFlushRounds bounds how many delivery rounds one Flush may run.
const maxFlushRounds = 1000

// Document is an HTML tree plus the observers watching it.
type Document struct {
	root      *html.Node
	observers []*Observer
	flushing  bool
}

// NewDocument wraps an existing tree. root is usually the DocumentNode
// returned by html.Parse.
func NewDocument(root *html.Node) *Document {
	return &Document{root: root}
}

// Parse reads a full HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return NewDocument(root), nil
}

// Root returns the top of the tree.
func (d *Document) Root() *html.Node { return d.root }

// Body returns the first <body> element, or the root if there is none.
func (d *Document) Body() *html.Node {
	if b := FindElement(d.root, atom.Body); b != nil {
		return b
	}
	return d.root
}

// Render writes the tree as HTML.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// NewText returns a detached text node.
func NewText(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// NewElement returns a detached element. attrs are key/value pairs.
func NewElement(tag string, attrs ...string) *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

// CreateText returns a detached text node for page code to insert with
// AppendChild or InsertBefore.
func (d *Document) CreateText(s string) *html.Node { return NewText(s) }

// CreateElement is NewElement for page code holding a Document.
func (d *Document) CreateElement(tag string, attrs ...string) *html.Node {
	return NewElement(tag, attrs...)
}

// AppendChild adds child as the last child of parent, detaching it first
// if it already has a parent.
func (d *Document) AppendChild(parent, child *html.Node) {
	d.detach(child)
	parent.AppendChild(child)
	d.queue(MutationRecord{
		Type:            ChildList,
		Target:          parent,
		Added:           []*html.Node{child},
		PreviousSibling: child.PrevSibling,
	})
}

// InsertBefore inserts child before ref. A nil ref appends.
func (d *Document) InsertBefore(parent, child, ref *html.Node) error {
	if ref == nil {
		d.AppendChild(parent, child)
		return nil
	}
	if ref.Parent != parent {
		return ErrNotChild
	}
	d.detach(child)
	parent.InsertBefore(child, ref)
	d.queue(MutationRecord{
		Type:            ChildList,
		Target:          parent,
		Added:           []*html.Node{child},
		PreviousSibling: child.PrevSibling,
		NextSibling:     ref,
	})
	return nil
}

// RemoveChild removes child from parent.
func (d *Document) RemoveChild(parent, child *html.Node) error {
	if child.Parent != parent {
		return ErrNotChild
	}
	prev, next := child.PrevSibling, child.NextSibling
	parent.RemoveChild(child)
	d.queue(MutationRecord{
		Type:            ChildList,
		Target:          parent,
		Removed:         []*html.Node{child},
		PreviousSibling: prev,
		NextSibling:     next,
	})
	return nil
}

// ReplaceWith replaces old with nodes, in order, as a single mutation.
// Sibling order around old is preserved.
func (d *Document) ReplaceWith(old *html.Node, nodes ...*html.Node) error {
	parent := old.Parent
	if parent == nil {
		return ErrDetached
	}
	for _, n := range nodes {
		if n == old {
			return fmt.Errorf("dom: replacement contains the replaced node")
		}
		d.detach(n)
	}

	prev, next := old.PrevSibling, old.NextSibling
	for _, n := range nodes {
		parent.InsertBefore(n, old)
	}
	parent.RemoveChild(old)

	d.queue(MutationRecord{
		Type:            ChildList,
		Target:          parent,
		Added:           append([]*html.Node(nil), nodes...),
		Removed:         []*html.Node{old},
		PreviousSibling: prev,
		NextSibling:     next,
	})
	return nil
}

// AppendHTML parses fragment in the context of parent and appends the
// resulting nodes as one mutation.
func (d *Document) AppendHTML(parent *html.Node, fragment string) error {
	ctx := parent
	if ctx.Type != html.ElementNode {
		ctx = &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), ctx)
	if err != nil {
		return fmt.Errorf("parse fragment: %w", err)
	}
	if len(nodes) == 0 {
		return nil
	}

	prev := parent.LastChild
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	d.queue(MutationRecord{
		Type:            ChildList,
		Target:          parent,
		Added:           nodes,
		PreviousSibling: prev,
	})
	return nil
}

// SetAttr sets or replaces an attribute on an element.
func (d *Document) SetAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr[i].Val = val
			d.queue(MutationRecord{Type: Attributes, Target: n, AttrName: key})
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
	d.queue(MutationRecord{Type: Attributes, Target: n, AttrName: key})
}

// detach removes n from its current parent, if any, recording the removal.
func (d *Document) detach(n *html.Node) {
	if n.Parent == nil {
		return
	}
	_ = d.RemoveChild(n.Parent, n)
}
