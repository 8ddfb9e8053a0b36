// Package queue provides the bounded admission queue and the shared result
// queue. Both carry serialized envelopes and are safe for multiple
// producers and consumers.
package queue

import (
	"sync/atomic"
	"time"

	"github.com/vidinsight-labs/Axion/pkg/types"
)

// droppedUnhealthyThreshold is the drop count past which the input queue
// reports itself unhealthy.
const droppedUnhealthyThreshold = 100

// InputQueue is the bounded task admission queue.
type InputQueue struct {
	ch           chan []byte
	capacity     int
	totalPut     atomic.Int64
	totalGet     atomic.Int64
	totalDropped atomic.Int64
}

// NewInputQueue creates an input queue bounded to capacity items.
func NewInputQueue(capacity int) *InputQueue {
	return &InputQueue{
		ch:       make(chan []byte, capacity),
		capacity: capacity,
	}
}

// TryPut enqueues without blocking. Returns false when the queue is full;
// the drop is counted.
func (q *InputQueue) TryPut(item []byte) bool {
	select {
	case q.ch <- item:
		q.totalPut.Add(1)
		return true
	default:
		q.totalDropped.Add(1)
		return false
	}
}

// Get dequeues one item, waiting up to timeout. The second return value is
// false when the wait expired.
func (q *InputQueue) Get(timeout time.Duration) ([]byte, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case item := <-q.ch:
		q.totalGet.Add(1)
		return item, true
	case <-timer.C:
		return nil, false
	}
}

// TryGet dequeues without blocking.
func (q *InputQueue) TryGet() ([]byte, bool) {
	select {
	case item := <-q.ch:
		q.totalGet.Add(1)
		return item, true
	default:
		return nil, false
	}
}

// Size returns the current queue length.
func (q *InputQueue) Size() int { return len(q.ch) }

// IsEmpty reports whether the queue holds no items.
func (q *InputQueue) IsEmpty() bool { return len(q.ch) == 0 }

// IsFull reports whether the queue is at capacity.
func (q *InputQueue) IsFull() bool { return len(q.ch) == q.capacity }

// TotalPut returns the number of accepted enqueues.
func (q *InputQueue) TotalPut() int64 { return q.totalPut.Load() }

// TotalDropped returns the number of rejected enqueues.
func (q *InputQueue) TotalDropped() int64 { return q.totalDropped.Load() }

// Status returns a component snapshot.
func (q *InputQueue) Status() types.ComponentStatus {
	size := q.Size()
	fullness := 0.0
	if q.capacity > 0 {
		fullness = float64(size) / float64(q.capacity)
	}
	health := types.HealthHealthy
	if q.totalDropped.Load() >= droppedUnhealthyThreshold {
		health = types.HealthUnhealthy
	}
	return types.ComponentStatus{
		Name:   "input_queue",
		Health: health,
		Metrics: map[string]any{
			"size":          size,
			"maxsize":       q.capacity,
			"fullness":      fullness,
			"total_put":     q.totalPut.Load(),
			"total_get":     q.totalGet.Load(),
			"total_dropped": q.totalDropped.Load(),
		},
	}
}
