// Package worker implements the worker-process side of the engine: the
// in-process thread pool that drains a local task channel, the child
// process entry point, and the parent-side process handle.
package worker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vidinsight-labs/Axion/pkg/logger"
	"github.com/vidinsight-labs/Axion/pkg/types"
)

// Executor 执行单个任务并返回结果
type Executor interface {
	Execute(task *types.Task, execCtx *types.ExecutionContext) *types.Result
}

// ResultSink 接收已完成任务的结果
type ResultSink interface {
	Push(res *types.Result) error
}

// ThreadPool 管理一个 worker 进程内的执行线程池。
// 每个线程从本地通道取任务，调用 Executor，并把结果推给 sink。
type ThreadPool struct {
	size     int
	workerID string
	exec     Executor
	sink     ResultSink

	tasks  chan *types.Task
	active atomic.Int32
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewThreadPool 创建一个固定大小的线程池。
// channelSize 是本地任务通道的容量。
func NewThreadPool(size int, channelSize int, workerID string, exec Executor, sink ResultSink) *ThreadPool {
	if size < 1 {
		size = 1
	}
	if channelSize < 1 {
		channelSize = size * 2
	}
	return &ThreadPool{
		size:     size,
		workerID: workerID,
		exec:     exec,
		sink:     sink,
		tasks:    make(chan *types.Task, channelSize),
	}
}

// Start 启动所有执行线程。
func (p *ThreadPool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.size; i++ {
			p.wg.Add(1)
			go p.runLoop()
		}
	})
}

// Submit 将任务放入本地通道，通道满时阻塞。
// 池已关闭后提交会返回错误。
func (p *ThreadPool) Submit(task *types.Task) (err error) {
	defer func() {
		if recover() != nil {
			err = fmt.Errorf("thread pool is stopped")
		}
	}()
	p.tasks <- task
	return nil
}

// Stop 关闭任务入口并等待线程退出。
// 通道里尚未开始的任务会被执行完（排空）后才返回；
// 超过 grace 时限则直接放弃等待。
func (p *ThreadPool) Stop(grace time.Duration) bool {
	drained := true
	p.stopOnce.Do(func() {
		close(p.tasks)
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			drained = false
		}
	})
	return drained
}

// ActiveCount 返回正在执行任务的线程数。
func (p *ThreadPool) ActiveCount() int {
	return int(p.active.Load())
}

// QueueLen 返回本地通道中等待的任务数。
func (p *ThreadPool) QueueLen() int {
	return len(p.tasks)
}

// runLoop 是单个执行线程的主循环。
func (p *ThreadPool) runLoop() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.runOne(task)
	}
}

func (p *ThreadPool) runOne(task *types.Task) {
	p.active.Add(1)
	defer p.active.Add(-1)

	execCtx := &types.ExecutionContext{
		TaskID:   task.ID,
		WorkerID: p.workerID,
	}

	res := p.exec.Execute(task, execCtx)
	if res == nil {
		res = types.Failed(task.ID, "executor returned no result", map[string]any{
			"kind": "ExecutorError",
		}, time.Time{})
	}

	if err := p.sink.Push(res); err != nil {
		// 结果推送失败：构造 FAILED 结果再试一次，仍失败则丢弃
		failed := types.Failed(task.ID, fmt.Sprintf("result delivery failed: %v", err), map[string]any{
			"kind": "SinkError",
		}, res.StartedAt)
		if err := p.sink.Push(failed); err != nil {
			logger.Error("dropping result",
				zap.String("task_id", task.ID),
				zap.String("worker_id", p.workerID),
				zap.Error(err))
		}
	}
}
