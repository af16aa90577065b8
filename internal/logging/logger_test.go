package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T, level zapcore.Level, enabled map[string]bool) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(level)
	SetBase(zap.New(core), enabled)
	t.Cleanup(func() { SetBase(nil, nil) })
	return logs
}

func TestCategoriesAreNamed(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel, nil)

	Apply("applied %d", 3)
	WatchDebug("event %s", "write")
	BrowserWarn("slow")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "apply", entries[0].LoggerName)
	assert.Equal(t, "applied 3", entries[0].Message)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, "browser", entries[2].LoggerName)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
}

func TestDisabledCategoryIsSilent(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel, map[string]bool{"watch": false, "apply": true})

	Watch("dropped")
	Apply("kept")
	Journal("kept too")

	assert.False(t, IsCategoryEnabled(CategoryWatch))
	assert.True(t, IsCategoryEnabled(CategoryJournal))
	assert.Equal(t, 2, logs.Len())
}

func TestLevelFiltering(t *testing.T) {
	logs := observe(t, zapcore.InfoLevel, nil)

	ApplyDebug("hidden")
	Apply("shown")
	assert.Equal(t, 1, logs.Len())
}

func TestWithFields(t *testing.T) {
	logs := observe(t, zapcore.InfoLevel, nil)

	Get(CategoryJournal).With(zap.String("run", "r1")).Info("recorded")
	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "r1", entries[0].ContextMap()["run"])
}

func TestDefaultIsNop(t *testing.T) {
	SetBase(nil, nil)
	assert.NotPanics(t, func() {
		Boot("nobody hears this")
		Get(CategoryBrowser).Error("nor this")
	})
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"debug":   zapcore.DebugLevel,
		"WARNING": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	logger, err := Build(Options{Level: "debug", Format: "console", Outputs: []string{t.TempDir() + "/out.log"}})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = Build(Options{Format: "xml"})
	assert.Error(t, err)
}

func TestTimerThreshold(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel, nil)

	timer := StartTimer(CategoryApply, "render")
	time.Sleep(2 * time.Millisecond)
	timer.StopWithThreshold(time.Nanosecond)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

func TestBootCategory(t *testing.T) {
	logs := observe(t, zapcore.InfoLevel, nil)

	Boot("loaded %s", "config.yaml")
	BootWarn("unknown category %q", "nope")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "boot", entries[0].LoggerName)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestIsKnownCategory(t *testing.T) {
	for _, c := range Categories {
		assert.True(t, IsKnownCategory(string(c)))
	}
	assert.False(t, IsKnownCategory("kernel"))
}
