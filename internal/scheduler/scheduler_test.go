package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartupRun(t *testing.T) {
	var feeds, monitors atomic.Int32
	s := New(time.Hour, 10*time.Millisecond,
		Task{Name: "feeds", Run: func(context.Context) { feeds.Add(1) }},
		Task{Name: "monitors", Run: func(context.Context) { monitors.Add(1) }},
	)
	require.NoError(t, s.Start())
	defer s.Stop(context.Background())

	assert.Eventually(t, func() bool {
		return feeds.Load() == 1 && monitors.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestIntervalRun(t *testing.T) {
	var runs atomic.Int32
	s := New(time.Second, time.Hour, Task{Name: "feeds", Run: func(context.Context) { runs.Add(1) }})
	require.NoError(t, s.Start())
	defer s.Stop(context.Background())

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	var starts atomic.Int32
	release := make(chan struct{})
	s := New(time.Hour, time.Hour, Task{Name: "slow", Run: func(context.Context) {
		starts.Add(1)
		<-release
	}})

	s.Tick()
	assert.Eventually(t, func() bool { return starts.Load() == 1 }, time.Second, time.Millisecond)
	s.Tick()
	s.Tick()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), starts.Load())

	close(release)
	require.NoError(t, s.Stop(context.Background()))

	// Stopped schedulers launch nothing.
	s.Tick()
	assert.Equal(t, int32(1), starts.Load())
}

func TestTasksAreIndependent(t *testing.T) {
	release := make(chan struct{})
	var fast atomic.Int32
	s := New(time.Hour, time.Hour,
		Task{Name: "stuck", Run: func(context.Context) { <-release }},
		Task{Name: "fast", Run: func(context.Context) { fast.Add(1) }},
		Task{Name: "panics", Run: func(context.Context) { panic("boom") }},
	)

	s.Tick()
	assert.Eventually(t, func() bool { return fast.Load() == 1 }, time.Second, time.Millisecond)
	s.Tick()
	assert.Eventually(t, func() bool { return fast.Load() == 2 }, time.Second, time.Millisecond)

	close(release)
	require.NoError(t, s.Stop(context.Background()))
}

func TestStopCancelsAfterDeadline(t *testing.T) {
	cancelled := make(chan struct{})
	s := New(time.Hour, time.Hour, Task{Name: "long", Run: func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	}})
	s.Tick()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-cancelled:
	default:
		t.Fatal("task context should be cancelled once Stop returns")
	}
}

func TestStartRejectsBadInterval(t *testing.T) {
	s := New(0, time.Second)
	assert.Error(t, s.Start())

	s = New(time.Hour, time.Hour)
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	require.NoError(t, s.Stop(context.Background()))
}
