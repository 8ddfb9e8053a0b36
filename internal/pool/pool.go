// Package pool routes tasks to the least-loaded worker process of the
// matching class.
package pool

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vidinsight-labs/Axion/internal/codec"
	"github.com/vidinsight-labs/Axion/internal/queue"
	"github.com/vidinsight-labs/Axion/internal/worker"
	"github.com/vidinsight-labs/Axion/pkg/logger"
	"github.com/vidinsight-labs/Axion/pkg/types"
)

// Worker is the parent-side contract of a worker process.
type Worker interface {
	ID() string
	Submit(task *types.Task) error
	ActiveThreadCount() int
	Alive() bool
	Stop(graceful bool) error
	Status() types.WorkerStatus
}

// Config sizes the two worker groups.
type Config struct {
	CPUBoundCount     int
	IOBoundCount      int
	CPUBoundTaskLimit int
	IOBoundTaskLimit  int
	StatusPollTimeout time.Duration
	Grace             time.Duration
	LogLevel          string

	// Command overrides the worker argv (tests spawn the test binary).
	Command []string
}

// ProcessPool holds the CPU and I/O worker groups. The group slices are
// immutable after Start; no task ever moves between groups.
type ProcessPool struct {
	cfg    Config
	output *queue.OutputQueue
	log    *zap.Logger

	cpuWorkers []Worker
	ioWorkers  []Worker

	mu      sync.Mutex
	started bool
}

// New creates a pool; Start spawns the worker processes.
func New(cfg Config, output *queue.OutputQueue) *ProcessPool {
	return &ProcessPool{
		cfg:    cfg,
		output: output,
		log:    logger.Named("pool"),
	}
}

// newWithWorkers wires pre-built workers; used by tests.
func newWithWorkers(cfg Config, output *queue.OutputQueue, cpuWorkers, ioWorkers []Worker) *ProcessPool {
	return &ProcessPool{
		cfg:        cfg,
		output:     output,
		log:        logger.Named("pool"),
		cpuWorkers: cpuWorkers,
		ioWorkers:  ioWorkers,
		started:    true,
	}
}

// Start spawns every worker of both groups.
func (p *ProcessPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	for i := 0; i < p.cfg.CPUBoundCount; i++ {
		w, err := p.spawn(fmt.Sprintf("cpu-%d", i), types.TaskTypeCPUBound, p.cfg.CPUBoundTaskLimit)
		if err != nil {
			p.stopAllLocked(false)
			return err
		}
		p.cpuWorkers = append(p.cpuWorkers, w)
	}
	for i := 0; i < p.cfg.IOBoundCount; i++ {
		w, err := p.spawn(fmt.Sprintf("io-%d", i), types.TaskTypeIOBound, p.cfg.IOBoundTaskLimit)
		if err != nil {
			p.stopAllLocked(false)
			return err
		}
		p.ioWorkers = append(p.ioWorkers, w)
	}

	p.started = true
	p.log.Info("process pool started",
		zap.Int("cpu_workers", len(p.cpuWorkers)),
		zap.Int("io_workers", len(p.ioWorkers)))
	return nil
}

func (p *ProcessPool) spawn(id string, taskType types.TaskType, threads int) (Worker, error) {
	proc := worker.NewProcess(worker.ProcessConfig{
		WorkerID:          id,
		TaskType:          taskType,
		Threads:           threads,
		ChannelSize:       threads * 2,
		Command:           p.cfg.Command,
		StatusPollTimeout: p.cfg.StatusPollTimeout,
		Grace:             p.cfg.Grace,
		LogLevel:          p.cfg.LogLevel,
	}, p.output)
	if err := proc.Start(); err != nil {
		return nil, err
	}
	return proc, nil
}

// Submit routes the task to the least-loaded worker of its group. Live
// IPC-reported loads are preferred over parent-held counters: tasks are
// long-lived in the children and a shadow counter would drift. Ties break
// on the lowest index. When the chosen worker cannot accept, the next best
// is tried; with no worker reachable a FAILED result is fabricated so the
// submitter still gets an outcome.
func (p *ProcessPool) Submit(task *types.Task) error {
	group := p.group(task.Type)
	if len(group) == 0 {
		p.failTask(task, "no workers available for task class")
		return types.NewEngineError(types.CodeWorkerUnreachable,
			fmt.Sprintf("no %s workers", task.Type), task.ID)
	}

	type loaded struct {
		idx   int
		count int
	}
	loads := make([]loaded, len(group))
	for i, w := range group {
		loads[i] = loaded{idx: i, count: w.ActiveThreadCount()}
	}
	sort.SliceStable(loads, func(a, b int) bool {
		return loads[a].count < loads[b].count
	})

	var lastErr error
	for _, l := range loads {
		w := group[l.idx]
		if !w.Alive() {
			continue
		}
		if err := w.Submit(task); err != nil {
			lastErr = err
			p.log.Warn("dispatch failed, trying next worker",
				zap.String("worker_id", w.ID()),
				zap.String("task_id", task.ID),
				zap.Error(err))
			continue
		}
		return nil
	}

	p.failTask(task, "all workers unreachable")
	if lastErr == nil {
		lastErr = types.NewEngineError(types.CodeWorkerUnreachable, "all workers unreachable", task.ID)
	}
	return lastErr
}

// failTask pushes a fabricated FAILED result for a task that could not be
// dispatched.
func (p *ProcessPool) failTask(task *types.Task, reason string) {
	res := types.Failed(task.ID, reason, map[string]any{
		"kind":      "DispatchError",
		"task_type": string(task.Type),
	}, time.Time{})
	data, err := codec.Marshal(res.Envelope())
	if err != nil {
		return
	}
	if !p.output.Put(data, time.Second) {
		p.log.Error("output queue full, dropping dispatch failure", zap.String("task_id", task.ID))
	}
}

func (p *ProcessPool) group(taskType types.TaskType) []Worker {
	if taskType == types.TaskTypeCPUBound {
		return p.cpuWorkers
	}
	return p.ioWorkers
}

// Stop terminates both groups, workers in parallel.
func (p *ProcessPool) Stop(graceful bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopAllLocked(graceful)
	p.started = false
}

func (p *ProcessPool) stopAllLocked(graceful bool) {
	var wg sync.WaitGroup
	for _, w := range append(append([]Worker{}, p.cpuWorkers...), p.ioWorkers...) {
		wg.Add(1)
		go func(w Worker) {
			defer wg.Done()
			if err := w.Stop(graceful); err != nil {
				p.log.Warn("stopping worker", zap.String("worker_id", w.ID()), zap.Error(err))
			}
		}(w)
	}
	wg.Wait()
}

// KillWorker force-terminates one worker without marking it as stopping,
// so crash detection fires exactly as it would for a real crash.
func (p *ProcessPool) KillWorker(workerID string) error {
	for _, w := range append(append([]Worker{}, p.cpuWorkers...), p.ioWorkers...) {
		if w.ID() != workerID {
			continue
		}
		if k, ok := w.(interface{ Kill() error }); ok {
			return k.Kill()
		}
		return fmt.Errorf("worker %s cannot be killed", workerID)
	}
	return fmt.Errorf("unknown worker %s", workerID)
}

// WorkerStatuses returns the live view of every worker.
func (p *ProcessPool) WorkerStatuses() []types.WorkerStatus {
	statuses := make([]types.WorkerStatus, 0, len(p.cpuWorkers)+len(p.ioWorkers))
	for _, w := range append(append([]Worker{}, p.cpuWorkers...), p.ioWorkers...) {
		statuses = append(statuses, w.Status())
	}
	return statuses
}

// Status returns a component snapshot.
func (p *ProcessPool) Status() types.ComponentStatus {
	statuses := p.WorkerStatuses()

	totalActive := 0
	deadWorkers := 0
	workers := make(map[string]any, len(statuses))
	for _, st := range statuses {
		totalActive += st.ActiveThreads
		if !st.Alive {
			deadWorkers++
		}
		workers[st.WorkerID] = map[string]any{
			"active_threads": st.ActiveThreads,
			"alive":          st.Alive,
		}
	}

	health := types.HealthHealthy
	switch {
	case deadWorkers == len(statuses) && len(statuses) > 0:
		health = types.HealthUnhealthy
	case deadWorkers > 0:
		health = types.HealthDegraded
	}

	return types.ComponentStatus{
		Name:   "process_pool",
		Health: health,
		Metrics: map[string]any{
			"cpu_bound_workers":    len(p.cpuWorkers),
			"io_bound_workers":     len(p.ioWorkers),
			"total_workers":        len(p.cpuWorkers) + len(p.ioWorkers),
			"total_active_threads": totalActive,
			"dead_workers":         deadWorkers,
			"workers":              workers,
		},
	}
}
