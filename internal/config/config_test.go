package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPPort)
	assert.Equal(t, "threshold", cfg.Classifier)
	assert.Equal(t, 16.0, cfg.ThresholdCutoff)
	assert.Equal(t, 20000, cfg.RowCap)
	assert.Equal(t, 500, cfg.ProgressEvery)
	assert.Equal(t, []string{"", "index", "Unnamed: 0"}, cfg.IgnoreColumns)
	assert.False(t, cfg.WatcherEnabled())
	assert.Empty(t, cfg.Warnings)
}

func TestFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
http_port: "9100"
classifier: banded
class_column: Voltage
ignore_columns: ["idx"]
row_cap: 1000
threshold_cutoff: 12.5
inbox_dir: /tmp/inbox
enable_watcher: true
`)
	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.HTTPPort)
	assert.Equal(t, "banded", cfg.Classifier)
	assert.Equal(t, "Voltage", cfg.ClassColumn)
	assert.Equal(t, []string{"idx"}, cfg.IgnoreColumns)
	assert.Equal(t, 1000, cfg.RowCap)
	assert.Equal(t, 12.5, cfg.ThresholdCutoff)
	assert.True(t, cfg.WatcherEnabled())
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "classifier: banded\nrow_cap: 1000\n")
	t.Setenv("CLASSIFIER", "distribution")
	t.Setenv("ROW_CAP", "250")
	t.Setenv("IGNORE_COLUMNS", "id, serial")
	t.Setenv("HTTP_PORT", "9000")
	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "distribution", cfg.Classifier)
	assert.Equal(t, 250, cfg.RowCap)
	assert.Equal(t, []string{"id", "serial"}, cfg.IgnoreColumns)
	assert.Equal(t, ":9000", cfg.HTTPPort)
}

func TestRowCapClamp(t *testing.T) {
	t.Setenv("ROW_CAP", "5000000")
	cfg, err := LoadFrom("")
	require.NoError(t, err)
	assert.Equal(t, maxRowCap, cfg.RowCap)
	assert.NotEmpty(t, cfg.Warnings)
}

func TestInvalidIntFallsBackUnlessStrict(t *testing.T) {
	t.Setenv("PROGRESS_EVERY", "often")
	cfg, err := LoadFrom("")
	require.NoError(t, err)
	assert.Equal(t, defaultProgressEvery, cfg.ProgressEvery)
	assert.Len(t, cfg.Warnings, 1)

	t.Setenv("STRICT_CONFIG", "true")
	_, err = LoadFrom("")
	require.Error(t, err)
}

func TestBrokenFileStrict(t *testing.T) {
	path := writeConfig(t, "row_cap: [not, an, int]\n")
	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, defaultRowCap, cfg.RowCap)
	assert.NotEmpty(t, cfg.Warnings)

	t.Setenv("STRICT_CONFIG", "1")
	_, err = LoadFrom(path)
	require.Error(t, err)
}

func TestQueueSizeRespectsWorkers(t *testing.T) {
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("JOB_QUEUE_SIZE", "4")
	cfg, err := LoadFrom("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.GreaterOrEqual(t, cfg.JobQueueSize, cfg.WorkerCount)
}

func TestUploadLimitBytes(t *testing.T) {
	t.Setenv("MAX_UPLOAD_MB", "2")
	cfg, err := LoadFrom("")
	require.NoError(t, err)
	assert.Equal(t, int64(2<<20), cfg.MaxUploadBytes())
}
