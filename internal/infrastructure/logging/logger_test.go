package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLog(t *testing.T, dir string) string {
	t.Helper()

	raw, err := os.ReadFile(filepath.Join(dir, logFileName))
	require.NoError(t, err)
	return string(raw)
}

func TestLoggersWriteCategories(t *testing.T) {
	for _, backend := range []string{"zap", "zerolog"} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			logger := NewLogger(&LoggerConfig{
				FilePath: dir,
				Encoding: "json",
				Level:    "info",
				Logger:   backend,
			})

			logger.Debug(Registry, Register, "hidden debug line", nil)
			logger.Info(Registry, Register, "connection registered", map[ExtraKey]any{
				Owner: "owner-1",
			})
			_ = logger.Sync()

			out := readLog(t, dir)
			assert.Contains(t, out, "connection registered")
			assert.Contains(t, out, `"Category":"Registry"`)
			assert.Contains(t, out, `"SubCategory":"Register"`)
			assert.Contains(t, out, `"Owner":"owner-1"`)
			assert.NotContains(t, out, "hidden debug line")
		})
	}
}

func TestWithCategoriesDoesNotMutateInput(t *testing.T) {
	extra := map[ExtraKey]any{Owner: "o"}
	out := withCategories(Router, Dispatch, extra)

	assert.Len(t, extra, 1)
	assert.Equal(t, Router, out["Category"])
	assert.Equal(t, Dispatch, out["SubCategory"])
}

func TestNewLoggerUnsupported(t *testing.T) {
	assert.Panics(t, func() {
		NewLogger(&LoggerConfig{Logger: "logrus"})
	})
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Info(General, Startup, "ignored", nil)
	logger.Errorf("ignored %d", 1)
}
