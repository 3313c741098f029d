package logging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggersUsableBeforeInit(t *testing.T) {
	assert.NotPanics(t, func() {
		AppLogger.Info("before init")
		LogDuration(context.Background(), "noop")()
	})
}

func TestInitLoggerWritesFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, InitLogger(dir, false))

	ctx := WithTraceID(context.Background(), "trace-1")
	assert.Equal(t, "trace-1", TraceID(ctx))
	LogDuration(ctx, "TestInitLoggerWritesFiles")()
	ErrorLogger.Error("boom")
	Sync()

	for _, name := range []string{"timer.log", "error.log"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Greater(t, info.Size(), int64(0), name)
	}
}
