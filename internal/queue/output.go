package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"github.com/vidinsight-labs/Axion/pkg/types"
)

// OutputQueue is the shared result queue. All worker readers produce into
// it; every result collector consumes from it. Backed by a ring buffer so
// the near-unbounded capacity costs nothing until used.
type OutputQueue struct {
	mu       sync.Mutex
	ring     *queue.Queue
	capacity int

	// Edge-triggered wakeups. Receivers re-check the ring in a loop, so a
	// coalesced signal is harmless.
	notEmpty chan struct{}
	notFull  chan struct{}

	totalPut atomic.Int64
	totalGet atomic.Int64
}

// NewOutputQueue creates an output queue bounded to capacity items.
func NewOutputQueue(capacity int) *OutputQueue {
	return &OutputQueue{
		ring:     queue.New(),
		capacity: capacity,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// TryPut enqueues without blocking. Returns false when at capacity.
func (q *OutputQueue) TryPut(item []byte) bool {
	q.mu.Lock()
	if q.ring.Length() >= q.capacity {
		q.mu.Unlock()
		return false
	}
	q.ring.Add(item)
	q.mu.Unlock()
	q.totalPut.Add(1)
	signal(q.notEmpty)
	return true
}

// Put enqueues, waiting up to timeout for space.
func (q *OutputQueue) Put(item []byte, timeout time.Duration) bool {
	if q.TryPut(item) {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.notFull:
			if q.TryPut(item) {
				return true
			}
		case <-timer.C:
			return false
		}
	}
}

// Get dequeues one item, waiting up to timeout.
func (q *OutputQueue) Get(timeout time.Duration) ([]byte, bool) {
	if item, ok := q.tryGet(); ok {
		return item, true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.notEmpty:
			if item, ok := q.tryGet(); ok {
				return item, true
			}
		case <-timer.C:
			return nil, false
		}
	}
}

func (q *OutputQueue) tryGet() ([]byte, bool) {
	q.mu.Lock()
	if q.ring.Length() == 0 {
		q.mu.Unlock()
		return nil, false
	}
	item := q.ring.Remove().([]byte)
	q.mu.Unlock()
	q.totalGet.Add(1)
	signal(q.notFull)
	// A remaining item may have other waiters.
	signal(q.notEmpty)
	return item, true
}

// Size returns the current queue length.
func (q *OutputQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.Length()
}

// TotalPut returns the number of enqueued results.
func (q *OutputQueue) TotalPut() int64 { return q.totalPut.Load() }

// TotalGet returns the number of physical dequeues.
func (q *OutputQueue) TotalGet() int64 { return q.totalGet.Load() }

// Status returns a component snapshot.
func (q *OutputQueue) Status() types.ComponentStatus {
	return types.ComponentStatus{
		Name:   "output_queue",
		Health: types.HealthHealthy,
		Metrics: map[string]any{
			"size":      q.Size(),
			"maxsize":   q.capacity,
			"total_put": q.totalPut.Load(),
			"total_get": q.totalGet.Load(),
		},
	}
}
