package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"checksync/internal/toggle"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const formPage = `<html><head></head><body>` +
	`<input id="master" type="checkbox" checked=""/>` +
	`<input class="item" type="checkbox"/>` +
	`<input class="item" type="checkbox" checked=""/>` +
	`<input class="item" type="checkbox"/>` +
	`</body></html>`

// execute runs the root command with fresh globals and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CHECKSYNC_LOG_LEVEL", "error")
	t.Setenv("CHECKSYNC_DEBUGGER_URL", "")
	t.Setenv("CHECKSYNC_JOURNAL", "")

	verbose, workspace, configPath, journalPath = false, "", "", ""
	timeout = 2 * time.Minute
	selectorFlag, masterFlag = "", ""
	historyLimit = 20
	t.Cleanup(func() { workspace = "" })

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeForm(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "form.html")
	require.NoError(t, os.WriteFile(path, []byte(formPage), 0o644))
	return path
}

func TestApplyFile(t *testing.T) {
	ws := t.TempDir()
	path := writeForm(t, ws)

	out, err := execute(t, "", "apply", "-w", ws, "--journal", "off", "-s", ".item", "-m", "master", path)
	require.NoError(t, err)
	assert.Contains(t, out, "SET")
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(string(data), "checked"))

	// Second run finds nothing to change.
	out, err = execute(t, "", "apply", "-w", ws, "--journal", "off", "-s", ".item", "-m", "master", path)
	require.NoError(t, err)
	assert.Contains(t, out, "SAME")
}

func TestApplyStdin(t *testing.T) {
	ws := t.TempDir()
	out, err := execute(t, formPage, "apply", "-w", ws, "--journal", "off", "-s", ".item", "-m", "master")
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(out, "checked"))
}

func TestApplyMissingMaster(t *testing.T) {
	ws := t.TempDir()
	path := writeForm(t, ws)

	_, err := execute(t, "", "apply", "-w", ws, "--journal", "off", "-s", ".item", "-m", "nope", path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, toggle.ErrMissingReference))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, formPage, string(data))
}

func TestApplyMalformedSelector(t *testing.T) {
	ws := t.TempDir()
	_, err := execute(t, formPage, "apply", "-w", ws, "--journal", "off", "-s", "input[", "-m", "master")
	require.Error(t, err)
	assert.True(t, errors.Is(err, toggle.ErrMalformedSelector))
}

func TestApplyRequiresSelector(t *testing.T) {
	ws := t.TempDir()
	_, err := execute(t, formPage, "apply", "-w", ws, "--journal", "off", "-m", "master")
	require.Error(t, err)
	assert.True(t, errors.Is(err, toggle.ErrMalformedSelector))
}

func TestApplyKeepsTemplateMarkup(t *testing.T) {
	ws := t.TempDir()
	src := "{% block form %}\n<form>\n  <input id=master type=checkbox checked>\n" +
		"  <input class=item type=checkbox>\n  <input class=item type=checkbox checked>\n</form>\n{% endblock %}\n"
	path := filepath.Join(ws, "form.j2")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	out, err := execute(t, "", "apply", "-w", ws, "--journal", "off", "-s", ".item", "-m", "master", path)
	require.NoError(t, err)
	assert.Contains(t, out, "SET")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	want := strings.Replace(src, "<input class=item type=checkbox>", "<input class=item type=checkbox checked>", 1)
	assert.Equal(t, want, string(data))

	out, err = execute(t, "", "apply", "-w", ws, "--journal", "off", "-s", ".item", "-m", "master", path)
	require.NoError(t, err)
	assert.Contains(t, out, "SAME")
}

func TestApplyUsesConfigDefaults(t *testing.T) {
	ws := t.TempDir()
	cfgFile := filepath.Join(ws, ".checksync", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(cfgFile), 0o755))
	require.NoError(t, os.WriteFile(cfgFile, []byte("apply:\n  selector: .item\n  master: master\njournal:\n  enabled: false\n"), 0o644))

	out, err := execute(t, formPage, "apply", "-w", ws)
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(out, "checked"))
}

func TestHistory(t *testing.T) {
	ws := t.TempDir()
	path := writeForm(t, ws)
	db := filepath.Join(ws, "runs.db")

	_, err := execute(t, "", "apply", "-w", ws, "--journal", db, "-s", ".item", "-m", "master", path)
	require.NoError(t, err)
	_, err = execute(t, "", "apply", "-w", ws, "--journal", db, "-s", ".item", "-m", "gone", path)
	require.Error(t, err)

	out, err := execute(t, "", "history", "-w", ws, "--journal", db)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, `no element with id "gone"`)

	out, err = execute(t, "", "history", "-w", ws, "--journal", db, "-n", "1")
	require.NoError(t, err)
	assert.NotContains(t, out, "3 → checked")
}

var ansiEscape = regexp.MustCompile("\x1b\\[[0-9;]*m")

// column returns the display column where sub starts in line.
func column(t *testing.T, line, sub string) int {
	t.Helper()
	i := strings.Index(line, sub)
	require.GreaterOrEqual(t, i, 0, "%q not in %q", sub, line)
	return utf8.RuneCountInString(line[:i])
}

func TestHistory_ColumnsAlignInColour(t *testing.T) {
	prev := lipgloss.ColorProfile()
	lipgloss.SetColorProfile(termenv.ANSI256)
	t.Cleanup(func() { lipgloss.SetColorProfile(prev) })

	ws := t.TempDir()
	path := writeForm(t, ws)
	db := filepath.Join(ws, "runs.db")
	_, err := execute(t, "", "apply", "-w", ws, "--journal", db, "-s", ".item", "-m", "master", path)
	require.NoError(t, err)

	out, err := execute(t, "", "history", "-w", ws, "--journal", db)
	require.NoError(t, err)
	plain := ansiEscape.ReplaceAllString(out, "")
	require.NotEqual(t, plain, out, "expected colour codes")

	var header, row string
	for _, line := range strings.Split(plain, "\n") {
		switch {
		case strings.Contains(line, "STATUS"):
			header = line
		case strings.Contains(line, path):
			row = line
		}
	}
	require.NotEmpty(t, header)
	require.NotEmpty(t, row)
	assert.Equal(t, column(t, header, " STATUS "), column(t, row, " ok "))
	assert.Equal(t, column(t, header, " SOURCE "), column(t, row, " "+path+" "))
	assert.Equal(t, column(t, header, " RESULT "), column(t, row, " 3 → checked "))
}

func TestHistoryEmptyAndDisabled(t *testing.T) {
	ws := t.TempDir()
	out, err := execute(t, "", "history", "-w", ws, "--journal", filepath.Join(ws, "empty.db"))
	require.NoError(t, err)
	assert.Contains(t, out, "no runs recorded")

	_, err = execute(t, "", "history", "-w", ws, "--journal", "off")
	assert.ErrorContains(t, err, "journal is disabled")
}

func TestBrowserToggleWithoutBrowser(t *testing.T) {
	ws := t.TempDir()
	_, err := execute(t, "", "browser", "toggle", "abc", "-w", ws, "--journal", "off", "-s", ".item", "-m", "master")
	assert.ErrorContains(t, err, "no browser running")
}

func TestBrowserAttachWithoutBrowser(t *testing.T) {
	ws := t.TempDir()
	_, err := execute(t, "", "browser", "attach", "T1", "-w", ws)
	assert.ErrorContains(t, err, "no browser running")
}

func TestBrowserListEmpty(t *testing.T) {
	ws := t.TempDir()
	out, err := execute(t, "", "browser", "list", "-w", ws)
	require.NoError(t, err)
	assert.Contains(t, out, "no sessions")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version", "-w", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "checksync 0.3.0\n", out)
}
