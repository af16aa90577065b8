package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type calls struct {
	mu    sync.Mutex
	paths []string
}

func (c *calls) handler(err error) Handler {
	return func(_ context.Context, path string) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.paths = append(c.paths, path)
		return err
	}
}

func (c *calls) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.paths)
}

func (c *calls) first() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paths[0]
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, time.Millisecond, func(context.Context, string) error { return nil })
	assert.Error(t, err)

	_, err = New([]string{"a.html"}, time.Millisecond, nil)
	assert.Error(t, err)
}

func TestWatcher_DebouncesWritesToWatchedFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "page.html")
	other := filepath.Join(dir, "other.html")
	require.NoError(t, os.WriteFile(target, []byte("<p>"), 0644))

	c := &calls{}
	w, err := New([]string{target}, 50*time.Millisecond, c.handler(nil))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(target, []byte("<p>changed"), 0644))
	}
	require.NoError(t, os.WriteFile(other, []byte("<p>"), 0644))

	require.Eventually(t, func() bool { return c.len() >= 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, 1, c.len(), "burst of writes should settle into one run")
	abs, _ := filepath.Abs(target)
	assert.Equal(t, abs, c.first())

	stats := w.Stats()
	assert.GreaterOrEqual(t, stats.Events, 1)
	assert.Equal(t, 1, stats.HandlerRuns)
	assert.Equal(t, abs, stats.LastEventPath)
}

func TestWatcher_CountsHandlerErrors(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(target, []byte("<p>"), 0644))

	c := &calls{}
	w, err := New([]string{target}, 20*time.Millisecond, c.handler(errors.New("boom")))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(target, []byte("<p>x"), 0644))
	require.Eventually(t, func() bool { return w.Stats().HandlerErrors == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_StopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(target, []byte("<p>"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	w, err := New([]string{target}, 20*time.Millisecond, (&calls{}).handler(nil))
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))

	cancel()
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
	w.Stop()
}

func TestWatcher_StartTwiceIsNoop(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(target, []byte("<p>"), 0644))

	w, err := New([]string{target}, 20*time.Millisecond, (&calls{}).handler(nil))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
}
