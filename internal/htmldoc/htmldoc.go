// Package htmldoc exposes an HTML document as a toggle.Tree.
//
// The checked state of an element is the presence of its "checked"
// attribute. Selectors run against the parsed tree, but edits are spliced
// back into the original source tag by tag: everything except the checked
// attribute of flipped elements is written back byte for byte. Fragments
// and templates stay fragments and templates.
package htmldoc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"checksync/internal/toggle"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

const (
	checkedAttr = "checked"
	// markerAttr ties a parsed element back to its start tag in the source.
	markerAttr = "data-checksync-tag"
)

var errRoundTrip = errors.New("tokenizer did not reproduce the source")

// segment is a run of source bytes. tag is the start-tag index, or -1.
type segment struct {
	raw []byte
	tag int
}

// Document is a parsed HTML document that renders back to its own source.
type Document struct {
	root     *html.Node
	segments []segment
	// desired checked state per start-tag index, for flipped tags only
	edits map[int]bool
	flips int
}

// Parse reads an HTML document or fragment.
func Parse(r io.Reader) (*Document, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}
	return ParseBytes(src)
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return ParseBytes([]byte(s))
}

// ParseBytes parses src. src is not retained.
func ParseBytes(src []byte) (*Document, error) {
	segments, err := split(src)
	if err != nil {
		return nil, err
	}

	var marked bytes.Buffer
	marked.Grow(len(src) + len(segments)*8)
	for _, s := range segments {
		if s.tag < 0 {
			marked.Write(s.raw)
			continue
		}
		nameEnd, _ := scanTag(s.raw)
		marked.Write(s.raw[:nameEnd])
		fmt.Fprintf(&marked, " %s=\"%d\"", markerAttr, s.tag)
		marked.Write(s.raw[nameEnd:])
	}

	root, err := html.Parse(&marked)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{root: root, segments: segments, edits: make(map[int]bool)}, nil
}

// split cuts src into tokens, numbering start tags in source order.
func split(src []byte) ([]segment, error) {
	z := html.NewTokenizer(bytes.NewReader(src))
	var segments []segment
	tags, total := 0, 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return nil, fmt.Errorf("tokenize html: %w", err)
			}
			break
		}
		raw := append([]byte(nil), z.Raw()...)
		total += len(raw)
		s := segment{raw: raw, tag: -1}
		if tt == html.StartTagToken || tt == html.SelfClosingTagToken {
			s.tag = tags
			tags++
		}
		segments = append(segments, s)
	}
	if total != len(src) {
		return nil, errRoundTrip
	}
	return segments, nil
}

// Render writes the source with every flipped checked attribute applied.
func (d *Document) Render(w io.Writer) error {
	for _, s := range d.segments {
		raw := s.raw
		if s.tag >= 0 {
			if checked, ok := d.edits[s.tag]; ok {
				raw = setCheckedAttr(raw, checked)
			}
		}
		if _, err := w.Write(raw); err != nil {
			return err
		}
	}
	return nil
}

// Bytes renders the document.
func (d *Document) Bytes() []byte {
	var buf bytes.Buffer
	_ = d.Render(&buf)
	return buf.Bytes()
}

// String renders the document into a string.
func (d *Document) String() string {
	return string(d.Bytes())
}

// Flips reports how many SetChecked calls changed an element's state.
func (d *Document) Flips() int {
	return d.flips
}

// FindByID returns the first element in document order whose id attribute
// equals id.
func (d *Document) FindByID(_ context.Context, id string) (toggle.Element, bool, error) {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode {
			if v, ok := attr(n, "id"); ok && v == id {
				found = n
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)

	if found == nil {
		return nil, false, nil
	}
	return d.element(found), true, nil
}

// FindAll returns the elements matching a CSS selector group in document order.
func (d *Document) FindAll(_ context.Context, selector string) ([]toggle.Element, error) {
	group, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, &toggle.SelectorError{Selector: selector, Err: err}
	}

	nodes := cascadia.QueryAll(d.root, group)
	out := make([]toggle.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, d.element(n))
	}
	return out, nil
}

func (d *Document) element(n *html.Node) *Element {
	tag := -1
	if v, ok := attr(n, markerAttr); ok {
		if i, err := strconv.Atoi(v); err == nil {
			tag = i
		}
	}
	return &Element{doc: d, node: n, tag: tag}
}

// Element is an element of a Document.
type Element struct {
	doc  *Document
	node *html.Node
	tag  int // -1 for elements the parser implied (html, head, body, tbody)
}

// Attr returns the value of the named attribute.
func (e *Element) Attr(key string) (string, bool) {
	return attr(e.node, key)
}

// Checked reports whether the checked attribute is present.
func (e *Element) Checked(context.Context) (bool, error) {
	_, ok := attr(e.node, checkedAttr)
	return ok, nil
}

// SetChecked adds or removes the checked attribute. Setting the state the
// element already has is not an edit. Implied elements have no source tag,
// so their changes are not rendered.
func (e *Element) SetChecked(_ context.Context, checked bool) error {
	_, present := attr(e.node, checkedAttr)
	if checked == present {
		return nil
	}
	if checked {
		e.node.Attr = append(e.node.Attr, html.Attribute{Key: checkedAttr})
	} else {
		kept := e.node.Attr[:0]
		for _, a := range e.node.Attr {
			if a.Namespace == "" && a.Key == checkedAttr {
				continue
			}
			kept = append(kept, a)
		}
		e.node.Attr = kept
	}

	e.doc.flips++
	if e.tag >= 0 {
		e.doc.edits[e.tag] = checked
	}
	return nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
