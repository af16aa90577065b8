package browser

import (
	"context"
	"errors"
	"fmt"

	"checksync/internal/toggle"

	"github.com/go-rod/rod"
)

// PageTree exposes a live page's DOM as a toggle.Tree. Lookups go through
// the page's own getElementById / querySelectorAll, so selector grammar and
// ordering are exactly the browser's.
type PageTree struct {
	page *rod.Page
}

// NewPageTree wraps page.
func NewPageTree(page *rod.Page) *PageTree {
	return &PageTree{page: page}
}

// FindByID resolves id with document.getElementById.
func (t *PageTree) FindByID(ctx context.Context, id string) (toggle.Element, bool, error) {
	el, err := t.page.Context(ctx).Sleeper(rod.NotFoundSleeper).
		ElementByJS(rod.Eval(`(id) => document.getElementById(id)`, id))
	if err != nil {
		var notFound *rod.ElementNotFoundError
		if errors.As(err, &notFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("find #%s: %w", id, err)
	}
	return &PageElement{el: el}, true, nil
}

// FindAll resolves selector with document.querySelectorAll.
func (t *PageTree) FindAll(ctx context.Context, selector string) ([]toggle.Element, error) {
	els, err := t.page.Context(ctx).Elements(selector)
	if err != nil {
		// querySelectorAll throws a SyntaxError DOMException for bad selectors.
		var evalErr *rod.EvalError
		if errors.As(err, &evalErr) {
			return nil, &toggle.SelectorError{Selector: selector, Err: err}
		}
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}

	out := make([]toggle.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &PageElement{el: el})
	}
	return out, nil
}

// PageElement is a DOM element on a live page.
type PageElement struct {
	el *rod.Element
}

// Checked reads the element's checked property.
func (e *PageElement) Checked(ctx context.Context) (bool, error) {
	v, err := e.el.Context(ctx).Property("checked")
	if err != nil {
		return false, fmt.Errorf("read checked: %w", err)
	}
	return v.Bool(), nil
}

// SetChecked assigns the element's checked property.
func (e *PageElement) SetChecked(ctx context.Context, checked bool) error {
	if _, err := e.el.Context(ctx).Eval(`(v) => { this.checked = v }`, checked); err != nil {
		return fmt.Errorf("set checked: %w", err)
	}
	return nil
}
