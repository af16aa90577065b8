// Package toggle copies the checked state of a master checkbox onto a group
// of checkbox-like elements.
//
// The document is never reached directly. Callers hand in a Tree, which
// may be a parsed HTML document (internal/htmldoc), a live browser page
// (internal/browser) or an in-memory tree (internal/memdom).
package toggle

import (
	"context"
)

// Element is a checkbox-like node exposing a mutable checked state.
type Element interface {
	Checked(ctx context.Context) (bool, error)
	SetChecked(ctx context.Context, checked bool) error
}

// Tree is the document query capability the operation runs against.
//
// FindByID reports found=false when no element carries the identifier.
// FindAll returns matches in document order and a *SelectorError when the
// selector cannot be parsed.
type Tree interface {
	FindByID(ctx context.Context, id string) (Element, bool, error)
	FindAll(ctx context.Context, selector string) ([]Element, error)
}

// Result describes a single invocation.
type Result struct {
	Checked bool `json:"checked"`
	Targets int  `json:"targets"`
}

// All sets every element matched by selector to the checked state of the
// element identified by masterID.
//
// Errors from the tree are returned as-is. A missing master yields a
// *MissingMasterError before any element is touched.
func All(ctx context.Context, tree Tree, selector, masterID string) error {
	_, err := Apply(ctx, tree, selector, masterID)
	return err
}

// Apply is All, reporting the value written and how many elements received it.
func Apply(ctx context.Context, tree Tree, selector, masterID string) (Result, error) {
	master, found, err := tree.FindByID(ctx, masterID)
	if err != nil {
		return Result{}, err
	}

	targets, err := tree.FindAll(ctx, selector)
	if err != nil {
		return Result{}, err
	}

	if !found || master == nil {
		return Result{}, &MissingMasterError{ID: masterID}
	}

	// Read once; every target receives the same value.
	checked, err := master.Checked(ctx)
	if err != nil {
		return Result{}, err
	}

	for _, el := range targets {
		if err := el.SetChecked(ctx, checked); err != nil {
			return Result{}, err
		}
	}

	return Result{Checked: checked, Targets: len(targets)}, nil
}
