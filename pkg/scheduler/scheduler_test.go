package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduleDelayedTaskRuns(t *testing.T) {
	s := New()
	defer s.Close()

	done := make(chan struct{})
	s.ScheduleDelayedTask(0, func() {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestScheduleDelayedTaskOrdersBehindDelay(t *testing.T) {
	s := New()
	defer s.Close()

	var ran int32
	s.ScheduleDelayedTask(int64(50*time.Millisecond), func() {
		atomic.StoreInt32(&ran, 1)
	})

	time.Sleep(10 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&ran), "task must not have run yet")

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestCancelPreventsExecution(t *testing.T) {
	s := New()
	defer s.Close()

	var ran int32
	h := s.ScheduleDelayedTask(int64(20*time.Millisecond), func() {
		atomic.StoreInt32(&ran, 1)
	})
	h.Cancel()

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&ran))
}

func TestCloseDiscardsUndrainedTasks(_ *testing.T) {
	s := New()
	s.ScheduleDelayedTask(int64(time.Hour), func() {})
	s.Close()
}
