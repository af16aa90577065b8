// Package apply runs the toggle operation over HTML documents on disk or on
// streams, optionally recording each run in the journal.
package apply

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"checksync/internal/htmldoc"
	"checksync/internal/journal"
	"checksync/internal/logging"
	"checksync/internal/toggle"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// StdinSource names the stream source in results and the journal.
const StdinSource = "-"

// Request names the group and the master of one run.
type Request struct {
	Selector string
	MasterID string
}

var errEmptySelector = errors.New("selector is required")

// Validate rejects empty fields. An empty selector is a malformed one, as it
// is for querySelectorAll; other syntax is left to the document.
func (r Request) Validate() error {
	if r.Selector == "" {
		return &toggle.SelectorError{Err: errEmptySelector}
	}
	if r.MasterID == "" {
		return errors.New("master id is required")
	}
	return nil
}

// Recorder persists run outcomes. *journal.Journal satisfies it.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) (journal.Entry, error)
}

// FileResult is the outcome for one document.
type FileResult struct {
	Path    string
	Result  toggle.Result
	Changed bool
	Err     error
}

// Runner applies requests to documents.
type Runner struct {
	recorder    Recorder
	concurrency int
}

// Option configures a Runner.
type Option func(*Runner)

// WithRecorder records every run through rec.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithConcurrency bounds how many files ApplyFiles handles at once.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// NewRunner creates a runner. Without options it is sequential and records
// nothing.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{concurrency: 1}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ApplyBytes toggles a document held in memory and returns it with the
// checked attributes that flipped spliced in. Everything else in src is
// returned unchanged, so the result equals src when nothing flipped.
func (r *Runner) ApplyBytes(ctx context.Context, src []byte, req Request) ([]byte, toggle.Result, error) {
	doc, err := htmldoc.ParseBytes(src)
	if err != nil {
		return nil, toggle.Result{}, err
	}

	res, err := toggle.Apply(ctx, doc, req.Selector, req.MasterID)
	if err != nil {
		return nil, toggle.Result{}, err
	}

	var buf bytes.Buffer
	buf.Grow(len(src) + 16)
	if err := doc.Render(&buf); err != nil {
		return nil, toggle.Result{}, fmt.Errorf("render html: %w", err)
	}
	logging.ApplyDebug("%d of %d targets flipped to %v", doc.Flips(), res.Targets, res.Checked)
	return buf.Bytes(), res, nil
}

// ApplyStream reads a document from in and writes the toggled document to out.
func (r *Runner) ApplyStream(ctx context.Context, in io.Reader, out io.Writer, req Request) (toggle.Result, error) {
	src, err := io.ReadAll(in)
	if err != nil {
		return toggle.Result{}, fmt.Errorf("read input: %w", err)
	}

	rendered, res, err := r.ApplyBytes(ctx, src, req)
	r.record(ctx, StdinSource, req, res, err == nil && !bytes.Equal(src, rendered), err)
	if err != nil {
		return res, err
	}

	if _, err := out.Write(rendered); err != nil {
		return res, fmt.Errorf("write output: %w", err)
	}
	return res, nil
}

// ApplyFile toggles the document at path in place. The file is only
// rewritten when the rendering differs from what is on disk.
func (r *Runner) ApplyFile(ctx context.Context, path string, req Request) FileResult {
	fr := FileResult{Path: path}
	log := logging.Get(logging.CategoryApply).With(zap.String("path", path))

	src, err := os.ReadFile(path)
	if err != nil {
		fr.Err = fmt.Errorf("read %s: %w", path, err)
		r.record(ctx, path, req, fr.Result, false, fr.Err)
		return fr
	}

	rendered, res, err := r.ApplyBytes(ctx, src, req)
	fr.Result = res
	if err != nil {
		fr.Err = fmt.Errorf("%s: %w", path, err)
		log.Warn("toggle failed: %v", err)
		r.record(ctx, path, req, res, false, fr.Err)
		return fr
	}

	if !bytes.Equal(src, rendered) {
		if err := writeFileAtomic(path, rendered); err != nil {
			fr.Err = err
			r.record(ctx, path, req, res, false, fr.Err)
			return fr
		}
		fr.Changed = true
	}

	log.Debug("set %d targets to %v (changed=%v)", res.Targets, res.Checked, fr.Changed)
	r.record(ctx, path, req, res, fr.Changed, nil)
	return fr
}

// ApplyFiles toggles every path. Files are independent documents, so they
// are processed concurrently; failures are collected rather than cancelling
// the batch. The returned error joins every per-file failure.
func (r *Runner) ApplyFiles(ctx context.Context, paths []string, req Request) ([]FileResult, error) {
	results := make([]FileResult, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = FileResult{Path: path, Err: err}
				return err
			}
			results[i] = r.ApplyFile(gctx, path, req)
			return nil
		})
	}
	waitErr := g.Wait()

	var errs []error
	changed := 0
	for _, fr := range results {
		if fr.Err != nil {
			errs = append(errs, fr.Err)
		}
		if fr.Changed {
			changed++
		}
	}
	logging.Apply("Applied %q from #%s to %d files: %d changed, %d failed",
		req.Selector, req.MasterID, len(paths), changed, len(errs))
	if len(errs) == 0 && waitErr != nil {
		errs = append(errs, waitErr)
	}
	return results, errors.Join(errs...)
}

func (r *Runner) record(ctx context.Context, source string, req Request, res toggle.Result, changed bool, runErr error) {
	if r.recorder == nil {
		return
	}
	e := journal.Entry{
		Source:   source,
		Selector: req.Selector,
		MasterID: req.MasterID,
		Checked:  res.Checked,
		Targets:  res.Targets,
		Changed:  changed,
	}
	if runErr != nil {
		e.Error = runErr.Error()
	}
	// A journal failure must not fail the run itself.
	if _, err := r.recorder.Record(context.WithoutCancel(ctx), e); err != nil {
		logging.Get(logging.CategoryJournal).Warn("failed to journal run for %s: %v", source, err)
	}
}

// writeFileAtomic replaces path through a temp file in the same directory,
// keeping the original permissions.
func writeFileAtomic(path string, data []byte) error {
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
