package cap

import (
	"container/heap"
	"time"
)

// TimerKind names the three roles a timer can play in CAP's event
// loop. Payload carries the datum the handler needs: the sequence
// number for Retransmit, nothing for the other two.
type TimerKind int

const (
	TimerRetransmit TimerKind = iota
	TimerHandshakeRetry
	TimerTimeWait
)

// TimerID is an opaque handle returned by arm and consumed by cancel.
type TimerID uint64

// firedTimer is what poll_expired hands back to the caller.
type firedTimer struct {
	ID      TimerID
	Kind    TimerKind
	Payload uint32
}

type timerEntry struct {
	deadline time.Time
	id       TimerID
	kind     TimerKind
	payload  uint32
	index    int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// TimerScheduler is a min-heap of (deadline, timer) entries. It is
// owned exclusively by one connection's event loop, so it needs no
// locking. Cancellation is a tombstone in liveByID, collected lazily
// when the entry reaches the top of the heap — O(log n) per cancel,
// same as the arm/pop cost.
type TimerScheduler struct {
	heap    timerHeap
	liveByID map[TimerID]*timerEntry
	nextID  TimerID
	now     func() time.Time
}

// NewTimerScheduler builds a scheduler. now defaults to time.Now,
// a monotonic clock read, so wall-clock adjustments never perturb
// retransmission timing.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{
		liveByID: make(map[TimerID]*timerEntry),
		now:      time.Now,
	}
}

// Arm schedules kind/payload to fire after delay and returns its id.
func (s *TimerScheduler) Arm(kind TimerKind, payload uint32, delay time.Duration) TimerID {
	s.nextID++
	id := s.nextID
	e := &timerEntry{
		deadline: s.now().Add(delay),
		id:       id,
		kind:     kind,
		payload:  payload,
	}
	heap.Push(&s.heap, e)
	s.liveByID[id] = e
	return id
}

// Cancel tombstones a timer so it will not fire. Cancelling an
// already-fired or unknown id is a no-op.
func (s *TimerScheduler) Cancel(id TimerID) {
	delete(s.liveByID, id)
}

// NextDeadline returns the earliest pending deadline and whether one
// exists, skipping over tombstoned entries at the heap's head so the
// caller's select/recv timeout isn't pulled forward by dead timers.
func (s *TimerScheduler) NextDeadline() (time.Time, bool) {
	for len(s.heap) > 0 {
		top := s.heap[0]
		if _, live := s.liveByID[top.id]; !live {
			heap.Pop(&s.heap)
			continue
		}
		return top.deadline, true
	}
	return time.Time{}, false
}

// PollExpired pops and returns every live timer whose deadline is at
// or before now.
func (s *TimerScheduler) PollExpired(now time.Time) []firedTimer {
	var fired []firedTimer
	for len(s.heap) > 0 {
		top := s.heap[0]
		if _, live := s.liveByID[top.id]; !live {
			heap.Pop(&s.heap)
			continue
		}
		if top.deadline.After(now) {
			break
		}
		heap.Pop(&s.heap)
		delete(s.liveByID, top.id)
		fired = append(fired, firedTimer{ID: top.id, Kind: top.kind, Payload: top.payload})
	}
	return fired
}

// Len reports the number of still-armed (non-tombstoned) timers.
func (s *TimerScheduler) Len() int {
	return len(s.liveByID)
}
