// Package scheduler implements an rtpdepacket.Scheduler: it posts delayed
// tasks that always run on a single worker goroutine that the Scheduler
// starts itself. An RtpSource using it is touched from one goroutine only if
// its other calls (GetNextFrame, HandleReadable) are also posted through
// ScheduleDelayedTask; the Scheduler does not arrange that by itself.
package scheduler

import (
	"sync"
	"time"

	"github.com/go-rtp/rtpdepacket"
	"github.com/go-rtp/rtpdepacket/pkg/ringbuffer"
)

// defaultQueueSize is the ring buffer capacity backing the worker goroutine.
// It must be a power of two (pkg/ringbuffer's requirement); 1024 comfortably
// exceeds the "one outstanding task per RtpSource" load this is sized for.
const defaultQueueSize = 1024

// Scheduler is a concrete rtpdepacket.Scheduler. Every fn passed to
// ScheduleDelayedTask eventually runs on the single goroutine started by
// Start, never directly on the time.AfterFunc timer goroutine that fires it.
//
// Adapted from internal/asyncprocessor.Processor: the same "push work onto a
// ring buffer, drain it from one goroutine" shape, rewritten from "drain an
// unbounded queue of callbacks in arrival order" to "run exactly one delayed,
// cancellable task at a time" (§5 "recursion breaker" and §6 Scheduler).
type Scheduler struct {
	buffer *ringbuffer.RingBuffer
	done   chan struct{}
}

// New allocates and starts a Scheduler.
func New() *Scheduler {
	buf, _ := ringbuffer.New(defaultQueueSize) // defaultQueueSize is a power of two
	s := &Scheduler{
		buffer: buf,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Close stops the worker goroutine. Any task already posted but not yet
// drained is discarded.
func (s *Scheduler) Close() {
	s.buffer.Close()
	<-s.done
}

func (s *Scheduler) run() {
	defer close(s.done)

	for {
		tmp, ok := s.buffer.Pull()
		if !ok {
			return
		}
		tmp.(func())()
	}
}

// taskHandle implements rtpdepacket.TaskHandle.
type taskHandle struct {
	mutex     sync.Mutex
	timer     *time.Timer
	cancelled bool
}

// Cancel prevents the task from being pushed onto the worker goroutine, if
// it hasn't already fired.
func (h *taskHandle) Cancel() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.cancelled = true
	h.timer.Stop()
}

// ScheduleDelayedTask posts fn to run after delay nanoseconds have elapsed,
// on the Scheduler's worker goroutine. It implements rtpdepacket.Scheduler.
func (s *Scheduler) ScheduleDelayedTask(delay int64, fn func()) rtpdepacket.TaskHandle {
	h := &taskHandle{}
	h.timer = time.AfterFunc(time.Duration(delay), func() {
		h.mutex.Lock()
		cancelled := h.cancelled
		h.mutex.Unlock()

		if !cancelled {
			s.buffer.Push(fn)
		}
	})
	return h
}
