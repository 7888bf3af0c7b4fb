package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// TestParseLogLevel verifies mapping from strings to zapcore.Level and handling of unknown values.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"info":  zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"panic": zapcore.PanicLevel,
		"fatal": zapcore.FatalLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok)
		require.Equal(t, lvl, got)
	}

	_, ok := ParseLogLevel("unknown")
	require.False(t, ok)
}

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	require.Same(t, Logger(), FromContext(context.Background()))

	ctx := WithName(context.Background(), "deploy")
	require.NotSame(t, Logger(), FromContext(ctx))

	named := FromContext(ctx)
	ctx = WithKV(ctx, "label", "1021000001")
	require.NotSame(t, named, FromContext(ctx))

	scoped := FromContext(ctx)
	ctx = WithFields(ctx, "label", "1021000001", "file_name", "1021000001_build.zip")
	require.NotSame(t, scoped, FromContext(ctx))
}

func TestNewWithFileWritesJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "server.log")

	l, closeFile, err := NewWithFile(zapcore.InfoLevel, path, Rotation{})
	require.NoError(t, err)

	l.Infow("Release deployed", "label", "1021000001")
	l.Debugw("hidden")
	_ = l.Sync()
	require.NoError(t, closeFile())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"Release deployed"`)
	require.Contains(t, string(data), `"label":"1021000001"`)
	require.NotContains(t, string(data), "hidden")
}

// TestConfigure applies the level and tees into the file until restored.
//
//nolint:paralleltest // Replaces the global logger and level.
func TestConfigure(t *testing.T) {
	previousLevel := Level()
	previous := Logger()

	t.Cleanup(func() {
		SetLevel(previousLevel)
	})

	_, err := Configure("loud", "", Rotation{})
	require.Error(t, err)

	restore, err := Configure("debug", "", Rotation{})
	require.NoError(t, err)
	require.Equal(t, zapcore.DebugLevel, Level())
	require.Same(t, previous, Logger())
	require.NoError(t, restore())

	path := filepath.Join(t.TempDir(), "server.log")

	restore, err = Configure("info", path, Rotation{MaxFiles: 5})
	require.NoError(t, err)
	require.NotSame(t, previous, Logger())

	InfoKV(context.Background(), "Configured", "file", path)
	DebugKV(context.Background(), "hidden")

	require.NoError(t, restore())
	require.Same(t, previous, Logger())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"Configured"`)
	require.NotContains(t, string(data), "hidden")
}

// TestNewWithFileRotatesBySize starts new files once the size limit is reached.
func TestNewWithFileRotatesBySize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")

	l, closeFile, err := NewWithFile(zapcore.InfoLevel, path, Rotation{MaxSize: 256, MaxFiles: 10})
	require.NoError(t, err)

	for i := range 20 {
		l.Infow("Release deployed", "label", "1021000001", "attempt", i)
	}

	_ = l.Sync()
	require.NoError(t, closeFile())

	rotated, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rotated), 2)

	info, err := os.Lstat(path)
	require.NoError(t, err)
	require.NotZero(t, info.Mode()&os.ModeSymlink, "log path links to the current file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"attempt":19`)
}

func TestNewWithFileRejectsConflictingRetention(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "server.log")

	_, _, err := NewWithFile(zapcore.InfoLevel, path, Rotation{MaxAge: time.Hour, MaxFiles: 3})
	require.Error(t, err)
}
