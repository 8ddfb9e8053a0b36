// Package dispatch drains the input queue and hands tasks to the process
// pool.
package dispatch

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vidinsight-labs/Axion/internal/codec"
	"github.com/vidinsight-labs/Axion/internal/queue"
	"github.com/vidinsight-labs/Axion/pkg/logger"
	"github.com/vidinsight-labs/Axion/pkg/types"
)

// Submitter receives decoded tasks from the dispatcher threads.
type Submitter interface {
	Submit(task *types.Task) error
}

// Dispatcher runs a fixed set of symmetric, stateless threads. Ordering
// across threads is unordered; each thread is FIFO with respect to its own
// draws. Submission order is deliberately not preserved globally.
type Dispatcher struct {
	threads     int
	pollTimeout time.Duration
	input       *queue.InputQueue
	pool        Submitter
	log         *zap.Logger

	dispatched atomic.Int64
	shutdown   chan struct{}
	wg         sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
}

// New creates a dispatcher of `threads` polling loops.
func New(threads int, pollTimeout time.Duration, input *queue.InputQueue, pool Submitter) *Dispatcher {
	if threads < 1 {
		threads = 1
	}
	return &Dispatcher{
		threads:     threads,
		pollTimeout: pollTimeout,
		input:       input,
		pool:        pool,
		log:         logger.Named("dispatcher"),
		shutdown:    make(chan struct{}),
	}
}

// Start launches the dispatcher threads.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.threads; i++ {
			d.wg.Add(1)
			go d.loop(i)
		}
	})
}

// Stop signals shutdown and waits up to timeout for the threads to drain
// the input queue and exit. Returns false if they did not finish in time.
func (d *Dispatcher) Stop(timeout time.Duration) bool {
	d.stopOnce.Do(func() {
		close(d.shutdown)
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Dispatched returns the number of tasks handed to the pool.
func (d *Dispatcher) Dispatched() int64 { return d.dispatched.Load() }

// Status returns a component snapshot.
func (d *Dispatcher) Status() types.ComponentStatus {
	return types.ComponentStatus{
		Name:   "dispatcher",
		Health: types.HealthHealthy,
		Metrics: map[string]any{
			"threads":    d.threads,
			"dispatched": d.dispatched.Load(),
		},
	}
}

func (d *Dispatcher) loop(id int) {
	defer d.wg.Done()
	for {
		item, ok := d.input.Get(d.pollTimeout)
		if !ok {
			// Exit only when shutdown is requested and the queue has
			// drained; otherwise keep polling.
			select {
			case <-d.shutdown:
				if d.input.IsEmpty() {
					return
				}
			default:
			}
			continue
		}
		d.handle(id, item)
	}
}

func (d *Dispatcher) handle(id int, item []byte) {
	env, err := codec.Decode[types.TaskEnvelope](item)
	if err != nil {
		d.log.Error("undecodable task envelope", zap.Int("thread", id), zap.Error(err))
		return
	}
	task := types.TaskFromEnvelope(&env)
	if err := d.pool.Submit(task); err != nil {
		// The pool already fabricated a FAILED result for the task.
		d.log.Warn("pool submit failed", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	d.dispatched.Add(1)
}
