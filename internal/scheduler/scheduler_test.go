package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddValidatesExpressions(t *testing.T) {
	s := New(nil)
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add("cleanup", "0 3 * * *", noop))
	require.NoError(t, s.Add("backup", "@daily", noop))
	require.NoError(t, s.Add("retrain", "", noop))

	assert.Error(t, s.Add("broken", "61 * * * *", noop))
	assert.Error(t, s.Add("seconds", "*/5 * * * * *", noop))
	assert.Error(t, s.Add("cleanup", "0 4 * * *", noop))

	_, ok := s.Next("retrain")
	assert.False(t, ok)
}

func TestJobsRunAndSurviveFailures(t *testing.T) {
	s := New(nil)
	var runs, panics atomic.Int32

	require.NoError(t, s.Add("tick", "@every 1s", func(context.Context) error {
		runs.Add(1)
		return errors.New("transient")
	}))
	require.NoError(t, s.Add("boom", "@every 1s", func(context.Context) error {
		panics.Add(1)
		panic("boom")
	}))
	s.Start()
	t.Cleanup(func() { s.Stop(context.Background()) })

	next, ok := s.Next("tick")
	require.True(t, ok)
	assert.False(t, next.IsZero())

	require.Eventually(t, func() bool { return runs.Load() >= 2 && panics.Load() >= 2 }, 5*time.Second, 50*time.Millisecond)
}

func TestStopCancelsRunningJobs(t *testing.T) {
	s := New(nil)
	started := make(chan struct{}, 1)
	var cancelled atomic.Bool

	require.NoError(t, s.Add("slow", "@every 1s", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}))
	s.Start()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.True(t, cancelled.Load())
}
