package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestQueueProcessesJob(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := New(10, 1, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	var processed int32
	done := make(chan error, 1)
	ok := q.Enqueue(Job{
		ID:     "job1",
		Source: "test",
		Work: func(ctx context.Context) error {
			atomic.AddInt32(&processed, 1)
			return nil
		},
		OnFinish: func(err error) { done <- err },
	})
	require.True(t, ok, "expected enqueue to succeed")

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatalf("job did not complete")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&processed))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	q.Stop(stopCtx)
	assert.False(t, q.Healthy())
	assert.Equal(t, uint64(1), q.Stats().Processed)
	assert.False(t, q.Stats().Healthy)
}

func TestQueueCountsFailuresAndPanics(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := New(4, 1, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	results := make(chan error, 2)
	finish := func(err error) { results <- err }
	require.True(t, q.Enqueue(Job{ID: "fail", Source: "test", Work: func(context.Context) error { return errors.New("bad csv") }, OnFinish: finish}))
	require.True(t, q.Enqueue(Job{ID: "panic", Source: "test", Work: func(context.Context) error { panic("boom") }, OnFinish: finish}))

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			assert.Error(t, err)
		case <-time.After(time.Second):
			t.Fatalf("job %d did not complete", i)
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	q.Stop(stopCtx)
	stats := q.Stats()
	assert.Equal(t, uint64(2), stats.Processed)
	assert.Equal(t, uint64(2), stats.Failed)
}

func TestQueueTimeoutAndBounded(t *testing.T) {
	q := New(1, 0, 100*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	ok := q.Enqueue(Job{ID: "slow", Source: "test", Work: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	require.True(t, ok, "expected first enqueue to succeed")

	ok = q.Enqueue(Job{ID: "drop", Source: "test", Work: func(ctx context.Context) error { return nil }})
	assert.False(t, ok, "expected enqueue to be rejected when queue is full")
}

func TestEnqueueWithRetryDropsWhenFull(t *testing.T) {
	q := New(1, 0, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	first := q.Enqueue(Job{ID: "first", Source: "test", Work: func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }})
	require.True(t, first)

	enqueued, dropped := q.EnqueueWithRetry(ctx, Job{ID: "retry", Source: "test", Work: func(ctx context.Context) error { return nil }}, 200*time.Millisecond, 50*time.Millisecond)
	assert.False(t, enqueued)
	assert.True(t, dropped)
}

func TestEnqueueBeforeStart(t *testing.T) {
	q := New(1, 1, time.Second, nil)
	assert.False(t, q.Enqueue(Job{ID: "early", Work: func(context.Context) error { return nil }}))
	assert.False(t, q.Healthy())
}

func TestStopDrainsQueuedJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := New(8, 1, time.Second, nil)
	q.Start(context.Background())
	assert.True(t, q.Stats().Healthy)

	release := make(chan struct{})
	var ran int32
	require.True(t, q.Enqueue(Job{ID: "blocker", Source: "test", Work: func(context.Context) error {
		<-release
		atomic.AddInt32(&ran, 1)
		return nil
	}}))
	for i := 0; i < 3; i++ {
		require.True(t, q.Enqueue(Job{ID: "queued", Source: "test", Work: func(context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		}}))
	}

	stopped := make(chan struct{})
	go func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		q.Stop(stopCtx)
		close(stopped)
	}()
	require.Eventually(t, func() bool { return !q.Healthy() }, time.Second, 5*time.Millisecond)
	assert.False(t, q.Enqueue(Job{ID: "late", Work: func(context.Context) error { return nil }}))
	close(release)

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("stop did not return")
	}
	assert.Equal(t, int32(4), atomic.LoadInt32(&ran))
	assert.Equal(t, uint64(4), q.Stats().Processed)
}

func TestStopAgainWaitsForCancelledWorkers(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	q := New(2, 1, time.Minute, nil)
	q.Start(ctx)
	started := make(chan struct{})
	require.True(t, q.Enqueue(Job{ID: "stuck", Source: "test", Work: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}))
	<-started

	short, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	q.Stop(short)
	assert.Equal(t, uint64(0), q.Stats().Processed)

	cancel()
	wait, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	q.Stop(wait)
	assert.Equal(t, uint64(1), q.Stats().Failed)
}
