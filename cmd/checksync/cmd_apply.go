package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"checksync/internal/apply"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	selectorFlag string
	masterFlag   string
)

var applyCmd = &cobra.Command{
	Use:   "apply [files...]",
	Short: "Copy the master's checked state onto the selected checkboxes",
	Long: `Sets the checked attribute of every element matched by --selector to the
checked attribute of the element whose id is --master.

Files are rewritten in place, and only when something changed. With no
files, or "-", the document is read from stdin and written to stdout.

Example:
  checksync apply --selector .item --master master form.html`,
	RunE: runApply,
}

func init() {
	addRequestFlags(applyCmd)
}

func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&selectorFlag, "selector", "s", "", "CSS selector of the target checkboxes (default: apply.selector)")
	cmd.Flags().StringVarP(&masterFlag, "master", "m", "", "id of the master checkbox (default: apply.master)")
}

// request merges flags over config defaults.
func request() (apply.Request, error) {
	req := apply.Request{Selector: selectorFlag, MasterID: masterFlag}
	if req.Selector == "" {
		req.Selector = cfg.Apply.Selector
	}
	if req.MasterID == "" {
		req.MasterID = cfg.Apply.Master
	}
	return req, req.Validate()
}

// newRunner builds a runner wired to the journal. The returned close func
// is always non-nil.
func newRunner() (*apply.Runner, func(), error) {
	opts := []apply.Option{apply.WithConcurrency(cfg.GetConcurrency())}
	j, err := openJournal()
	if err != nil {
		return nil, func() {}, err
	}
	closeFn := func() {}
	if j != nil {
		opts = append(opts, apply.WithRecorder(j))
		closeFn = func() {
			if err := j.Close(); err != nil {
				logger.Warn("failed to close journal", zap.Error(err))
			}
		}
	}
	return apply.NewRunner(opts...), closeFn, nil
}

func runApply(cmd *cobra.Command, args []string) error {
	req, err := request()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	runner, closeJournal, err := newRunner()
	if err != nil {
		return err
	}
	defer closeJournal()

	if len(args) == 0 || (len(args) == 1 && args[0] == apply.StdinSource) {
		logger.Debug("Applying to stdin", zap.String("selector", req.Selector), zap.String("master", req.MasterID))
		_, err := runner.ApplyStream(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), req)
		return err
	}

	logger.Info("Applying", zap.Int("files", len(args)), zap.String("selector", req.Selector), zap.String("master", req.MasterID))
	results, err := runner.ApplyFiles(ctx, args, req)
	printResults(cmd.OutOrStdout(), results)
	if err != nil {
		return fmt.Errorf("%d of %d files failed: %w", countFailed(results), len(results), err)
	}
	return nil
}

func printResults(w io.Writer, results []apply.FileResult) {
	for _, fr := range results {
		switch {
		case fr.Err != nil:
			fmt.Fprintf(w, "%s %s %s\n", failStyle.Render("FAIL"), fr.Path, dimStyle.Render(rootCause(fr.Err)))
		case fr.Changed:
			fmt.Fprintf(w, "%s %s %s\n", okStyle.Render("SET "), fr.Path,
				dimStyle.Render(fmt.Sprintf("%d → %s", fr.Result.Targets, checkedWord(fr.Result.Checked))))
		default:
			fmt.Fprintf(w, "%s %s %s\n", dimStyle.Render("SAME"), fr.Path,
				dimStyle.Render(fmt.Sprintf("%d already %s", fr.Result.Targets, checkedWord(fr.Result.Checked))))
		}
	}
}

func countFailed(results []apply.FileResult) int {
	n := 0
	for _, fr := range results {
		if fr.Err != nil {
			n++
		}
	}
	return n
}

func checkedWord(b bool) string {
	if b {
		return "checked"
	}
	return "unchecked"
}

// rootCause drops the path prefix the runner adds.
func rootCause(err error) string {
	if u := errors.Unwrap(err); u != nil {
		return u.Error()
	}
	return err.Error()
}
