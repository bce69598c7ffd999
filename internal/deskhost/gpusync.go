package deskhost

import (
	"sync"
	"sync/atomic"
	"time"
)

// SyncTicket is an opaque token that becomes signaled when a specific unit
// of GPU work completes.
type SyncTicket uint64

// GPUSync is the polymorphic completion signal over {fence-based,
// query-based} variants. Both variants expose the same four operations;
// the caller never needs to know which one backs a given instance.
//
// Fence-based (preferred): each Signal allocates the next monotonic value;
// completion is checked by comparing against the last-signaled value.
// Query-based fallback: issues a marker and polls for completion. Neither
// variant blocks the caller past its deadline.
type GPUSync interface {
	Signal() SyncTicket
	IsComplete(ticket SyncTicket) bool
	Wait(ticket SyncTicket, deadline time.Duration) bool
	Close()
}

// fenceSync is the fence-based variant, adapted from gogpu-wgpu's
// hal/vulkan/fence.go dual timeline-semaphore/binary-fence-pool design,
// collapsed to the single atomic counter this host needs (no real device
// handle — the GPU device itself is an external collaborator).
type fenceSync struct {
	lastSignaled atomic.Uint64
	nextValue    atomic.Uint64

	mu   sync.Mutex
	cond *sync.Cond
}

// NewFenceSync constructs the fence-based GPU sync variant.
func NewFenceSync() GPUSync {
	f := &fenceSync{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *fenceSync) Signal() SyncTicket {
	v := f.nextValue.Add(1)
	// In the real GPU path this would enqueue a device-side signal command;
	// the external capture/encode collaborators invoke Complete once the
	// underlying work retires. Here completion is driven by the caller
	// (capture stage) calling Complete after its GPU wait/copy finishes.
	return SyncTicket(v)
}

// Complete marks every ticket up to and including value as done, and wakes
// any waiters. Called by the capture stage once its GPU-side work for that
// ticket has actually retired.
func (f *fenceSync) Complete(value SyncTicket) {
	f.mu.Lock()
	if uint64(value) > f.lastSignaled.Load() {
		f.lastSignaled.Store(uint64(value))
	}
	f.mu.Unlock()
	f.cond.Broadcast()
}

func (f *fenceSync) IsComplete(ticket SyncTicket) bool {
	return f.lastSignaled.Load() >= uint64(ticket)
}

func (f *fenceSync) Wait(ticket SyncTicket, deadline time.Duration) bool {
	if f.IsComplete(ticket) {
		return true
	}
	done := make(chan struct{})
	timer := time.AfterFunc(deadline, func() { close(done) })
	defer timer.Stop()

	result := make(chan bool, 1)
	go func() {
		f.mu.Lock()
		for !f.IsComplete(ticket) {
			f.cond.Wait()
		}
		f.mu.Unlock()
		result <- true
	}()

	select {
	case <-result:
		return true
	case <-done:
		return f.IsComplete(ticket)
	}
}

func (f *fenceSync) Close() {
	f.mu.Lock()
	f.lastSignaled.Store(^uint64(0))
	f.mu.Unlock()
	f.cond.Broadcast()
}

// querySync is the fallback variant for GPU backends with no fence API:
// each Signal issues a marker (a monotonic counter) and completion is
// polled rather than event-driven.
type querySync struct {
	issued    atomic.Uint64
	completed atomic.Uint64
}

// NewQuerySync constructs the query-based GPU sync fallback variant.
func NewQuerySync() GPUSync {
	return &querySync{}
}

func (q *querySync) Signal() SyncTicket {
	return SyncTicket(q.issued.Add(1))
}

// Complete advances the query-completed watermark; same contract as
// fenceSync.Complete.
func (q *querySync) Complete(value SyncTicket) {
	for {
		cur := q.completed.Load()
		if uint64(value) <= cur {
			return
		}
		if q.completed.CompareAndSwap(cur, uint64(value)) {
			return
		}
	}
}

func (q *querySync) IsComplete(ticket SyncTicket) bool {
	return q.completed.Load() >= uint64(ticket)
}

func (q *querySync) Wait(ticket SyncTicket, deadline time.Duration) bool {
	if q.IsComplete(ticket) {
		return true
	}
	const pollInterval = 500 * time.Microsecond
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if q.IsComplete(ticket) {
			return true
		}
		time.Sleep(pollInterval)
	}
	return q.IsComplete(ticket)
}

func (q *querySync) Close() {
	q.completed.Store(^uint64(0))
}
