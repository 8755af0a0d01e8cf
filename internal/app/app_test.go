package app

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardhealth/internal/classify"
	"boardhealth/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		HTTPPort:        "127.0.0.1:0",
		DBPath:          filepath.Join(dir, "db", "test.sqlite"),
		Classifier:      "banded",
		ThresholdCutoff: 16,
		ClassColumn:     "Reading",
		IgnoreColumns:   []string{"", "index"},
		RowCap:          100,
		ProgressEvery:   10,
		MaxUploadMB:     1,
		InboxDir:        filepath.Join(dir, "inbox"),
		EnableWatcher:   true,
		WorkerCount:     1,
		JobQueueSize:    4,
		JobTimeoutSec:   5,
	}
}

func TestNewRejectsUnknownClassifier(t *testing.T) {
	cfg := testConfig(t)
	cfg.Classifier = "fuzzy"
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, classify.ErrUnknownClassifier)
}

func TestAppServesAndIngestsInbox(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, nil)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ops/health", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(cfg.InboxDir, "processed"))
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	staged := filepath.Join(t.TempDir(), "rig.csv")
	require.NoError(t, os.WriteFile(staged, []byte("index,Board,Reading\n0,A,19.9\n1,B,50\n"), 0o644))
	require.NoError(t, os.Rename(staged, filepath.Join(cfg.InboxDir, "rig.csv")))

	require.Eventually(t, func() bool {
		rows, err := a.Store().ListDetails(context.Background())
		return err == nil && len(rows) == 2
	}, 5*time.Second, 50*time.Millisecond)

	rows, err := a.Store().ListDetails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Inactive", rows[0].Status)
	assert.Equal(t, "Active", rows[1].Status)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not shut down")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestRunReturnsPromptlyWithOpenEventStream(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTPPort = freeAddr(t)
	a, err := New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		r, err := http.Get("http://" + cfg.HTTPPort + "/ops/events")
		if err != nil {
			return false
		}
		resp = r
		return true
	}, 3*time.Second, 20*time.Millisecond)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Eventually(t, func() bool { return a.bus.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	start := time.Now()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
		assert.Less(t, time.Since(start), 3*time.Second)
	case <-time.After(5 * time.Second):
		t.Fatal("run blocked on the open event stream")
	}
}
