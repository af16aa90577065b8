// Package memdom is an in-memory element tree for exercising toggle.Tree
// consumers without a parser or a browser.
//
// Selectors are a comma-separated list of simple selectors: "*", "tag",
// "#id", ".class" and "tag.class". Anything else is rejected with a
// *toggle.SelectorError.
package memdom

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"checksync/internal/toggle"
)

// Write is one recorded SetChecked call.
type Write struct {
	Index   int
	Checked bool
}

// Tree holds elements in document order.
type Tree struct {
	mu       sync.Mutex
	elements []*Element
	writes   []Write
}

// Element is a node of a Tree.
type Element struct {
	tree    *Tree
	index   int
	ID      string
	Tag     string
	Classes []string
	checked bool
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{}
}

// Add appends an element. class may hold several space-separated names.
func (t *Tree) Add(tag, id, class string, checked bool) *Element {
	t.mu.Lock()
	defer t.mu.Unlock()
	el := &Element{
		tree:    t,
		index:   len(t.elements),
		ID:      id,
		Tag:     strings.ToLower(tag),
		Classes: strings.Fields(class),
		checked: checked,
	}
	t.elements = append(t.elements, el)
	return el
}

// Elements returns the elements in document order.
func (t *Tree) Elements() []*Element {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Element, len(t.elements))
	copy(out, t.elements)
	return out
}

// States returns the checked state of every element in document order.
func (t *Tree) States() []bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]bool, len(t.elements))
	for i, el := range t.elements {
		out[i] = el.checked
	}
	return out
}

// Writes returns every SetChecked call made so far, in call order.
func (t *Tree) Writes() []Write {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Write, len(t.writes))
	copy(out, t.writes)
	return out
}

// FindByID returns the first element carrying id.
func (t *Tree) FindByID(_ context.Context, id string) (toggle.Element, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, el := range t.elements {
		if el.ID == id {
			return el, true, nil
		}
	}
	return nil, false, nil
}

// FindAll returns the elements matching selector in document order.
func (t *Tree) FindAll(_ context.Context, selector string) ([]toggle.Element, error) {
	group, err := parseGroup(selector)
	if err != nil {
		return nil, &toggle.SelectorError{Selector: selector, Err: err}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	var out []toggle.Element
	for _, el := range t.elements {
		for _, s := range group {
			if s.match(el) {
				out = append(out, el)
				break
			}
		}
	}
	return out, nil
}

// Checked implements toggle.Element.
func (e *Element) Checked(context.Context) (bool, error) {
	e.tree.mu.Lock()
	defer e.tree.mu.Unlock()
	return e.checked, nil
}

// SetChecked implements toggle.Element.
func (e *Element) SetChecked(_ context.Context, checked bool) error {
	e.tree.mu.Lock()
	defer e.tree.mu.Unlock()
	e.checked = checked
	e.tree.writes = append(e.tree.writes, Write{Index: e.index, Checked: checked})
	return nil
}

// Set changes the state without recording a write, as a user click would.
func (e *Element) Set(checked bool) {
	e.tree.mu.Lock()
	defer e.tree.mu.Unlock()
	e.checked = checked
}

func (e *Element) hasClass(name string) bool {
	for _, c := range e.Classes {
		if c == name {
			return true
		}
	}
	return false
}

type simple struct {
	any   bool
	tag   string
	id    string
	class string
}

func (s simple) match(el *Element) bool {
	if s.any {
		return true
	}
	if s.tag != "" && s.tag != el.Tag {
		return false
	}
	if s.id != "" && s.id != el.ID {
		return false
	}
	if s.class != "" && !el.hasClass(s.class) {
		return false
	}
	return true
}

var errEmpty = errors.New("empty selector")

func parseGroup(selector string) ([]simple, error) {
	if strings.TrimSpace(selector) == "" {
		return nil, errEmpty
	}
	var group []simple
	for _, part := range strings.Split(selector, ",") {
		s, err := parseSimple(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		group = append(group, s)
	}
	return group, nil
}

func parseSimple(p string) (simple, error) {
	switch {
	case p == "":
		return simple{}, errEmpty
	case p == "*":
		return simple{any: true}, nil
	case strings.HasPrefix(p, "#"):
		id := p[1:]
		if !isIdent(id) {
			return simple{}, fmt.Errorf("bad id in %q", p)
		}
		return simple{id: id}, nil
	}

	tag, class, hasClass := strings.Cut(p, ".")
	if tag != "" && !isIdent(tag) {
		return simple{}, fmt.Errorf("bad tag in %q", p)
	}
	if hasClass && !isIdent(class) {
		return simple{}, fmt.Errorf("bad class in %q", p)
	}
	return simple{tag: strings.ToLower(tag), class: class}, nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '-' || r == '_':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
