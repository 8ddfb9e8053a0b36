// Package engine 提供任务执行引擎的公共 API。
//
// Engine 负责任务提交、结果收集和系统生命周期管理：
//
//	eng := engine.New(cfg)
//	_ = eng.Start()
//	id, _ := eng.SubmitTask(task)
//	res, _ := eng.GetResult(id, 5*time.Second)
//	_ = eng.Shutdown(true)
package engine

import (
	"fmt"
	"sync"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
	"go.uber.org/zap"

	"github.com/vidinsight-labs/Axion/internal/backpressure"
	"github.com/vidinsight-labs/Axion/internal/cache"
	"github.com/vidinsight-labs/Axion/internal/codec"
	"github.com/vidinsight-labs/Axion/internal/config"
	"github.com/vidinsight-labs/Axion/internal/dispatch"
	"github.com/vidinsight-labs/Axion/internal/pool"
	"github.com/vidinsight-labs/Axion/internal/queue"
	"github.com/vidinsight-labs/Axion/internal/workflow"
	"github.com/vidinsight-labs/Axion/pkg/logger"
	"github.com/vidinsight-labs/Axion/pkg/types"
)

// resultPollInterval 是 GetResult 单次排空输出队列的轮询上限。
const resultPollInterval = 100 * time.Millisecond

// submitRetryBackoff 是输入队列满时相邻重试的退避基数。
const submitRetryBackoff = 10 * time.Millisecond

type pendingEntry struct {
	task        *types.Task
	submittedAt time.Time
}

// Engine 是系统的中心控制点。
type Engine struct {
	cfg *config.Config
	log *zap.Logger

	mu      sync.Mutex
	started bool

	input      *queue.InputQueue
	output     *queue.OutputQueue
	cache      *cache.ShardedResultCache
	pool       *pool.ProcessPool
	dispatcher *dispatch.Dispatcher

	// pendingMu 只保护 pending；绝不在持有 cache 分片锁时获取。
	pendingMu sync.Mutex
	pending   map[string]pendingEntry

	wf *workflow.Manager
	bp *backpressure.Controller

	histMu sync.Mutex
	hist   *hdrhistogram.Histogram
}

// New 创建引擎；cfg 为 nil 时使用默认配置。
func New(cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Engine{
		cfg:     cfg,
		log:     logger.Named("engine"),
		pending: make(map[string]pendingEntry),
		// 延迟直方图：1ms ~ 1h，3 位有效数字
		hist: hdrhistogram.New(1, 3_600_000, 3),
	}
}

// Start 启动引擎：创建队列、结果缓存、进程池和分发线程。
// 已启动时为幂等 no-op。
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		e.log.Warn("engine already started")
		return nil
	}

	ec := &e.cfg.Engine
	e.input = queue.NewInputQueue(ec.InputQueueSize)
	e.output = queue.NewOutputQueue(ec.OutputQueueSize)
	e.cache = cache.NewShardedResultCache(ec.CacheShardCount, ec.CacheMaxPerShard)
	e.wf = workflow.NewManager()
	e.bp = backpressure.NewController(ec.BackpressureCPUThreshold, ec.BackpressureMemoryThreshold)

	e.pool = pool.New(pool.Config{
		CPUBoundCount:     ec.CPUBoundCount,
		IOBoundCount:      ec.ResolvedIOBoundCount(),
		CPUBoundTaskLimit: ec.CPUBoundTaskLimit,
		IOBoundTaskLimit:  ec.IOBoundTaskLimit,
		StatusPollTimeout: ec.StatusPollTimeout,
		Grace:             ec.ShutdownTimeout,
		LogLevel:          e.cfg.Logging.Level,
		Command:           ec.WorkerCommand,
	}, e.output)
	if err := e.pool.Start(); err != nil {
		e.pool.Stop(false)
		return fmt.Errorf("start process pool: %w", err)
	}

	e.dispatcher = dispatch.New(ec.QueueThreadCount, ec.QueuePollTimeout, e.input, e.pool)
	e.dispatcher.Start()

	e.started = true
	e.log.Info("engine started",
		zap.Int("cpu_workers", ec.CPUBoundCount),
		zap.Int("io_workers", ec.ResolvedIOBoundCount()),
		zap.Int("dispatcher_threads", ec.QueueThreadCount))
	return nil
}

// Shutdown 停止引擎。graceful 为 true 时先排空输入队列和 worker，
// 超过 shutdown_timeout 的残余进程会被强制终止；已停止时为 no-op。
func (e *Engine) Shutdown(graceful bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return nil
	}
	e.started = false

	wait := e.cfg.Engine.ShutdownTimeout
	if !graceful {
		wait = time.Second
	}
	if e.dispatcher != nil && !e.dispatcher.Stop(wait) {
		e.log.Warn("dispatcher did not drain within shutdown timeout")
	}
	if e.pool != nil {
		e.pool.Stop(graceful)
	}

	e.log.Info("engine stopped", zap.Bool("graceful", graceful))
	logger.Sync()
	return nil
}

// IsRunning 报告引擎是否在运行。
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// SubmitTask 提交一个任务并返回其 id。
// 引擎未启动、系统过载、编码失败或队列重试耗尽时返回结构化错误。
func (e *Engine) SubmitTask(task *types.Task) (string, error) {
	if task == nil || task.ScriptPath == "" {
		return "", types.ErrInvalidTask
	}
	if !task.Type.Valid() {
		return "", types.NewEngineError(types.CodeInvalidTask,
			fmt.Sprintf("unknown task type %q", task.Type), task.ID)
	}
	if !e.IsRunning() {
		return "", types.ErrEngineNotRunning
	}
	if !e.bp.ShouldAcceptTask() {
		return "", types.ErrBackpressure
	}
	if task.ID == "" {
		task.ID = types.NewTask(task.ScriptPath, task.Params, task.Type).ID
	}

	if !e.registerPending(task) {
		return "", types.NewEngineError(types.CodeInvalidTask,
			"duplicate task id", task.ID)
	}
	if err := e.enqueue(task); err != nil {
		e.removePending(task.ID)
		return "", err
	}
	return task.ID, nil
}

// SubmitWorkflow 提交一组带依赖的任务。
// 无依赖的任务立即进入队列；其余任务在依赖完成后自动释放。
func (e *Engine) SubmitWorkflow(tasks []*types.Task) ([]string, error) {
	if !e.IsRunning() {
		return nil, types.ErrEngineNotRunning
	}
	for _, t := range tasks {
		if t == nil || t.ScriptPath == "" || !t.Type.Valid() {
			return nil, types.ErrInvalidTask
		}
		if t.ID == "" {
			t.ID = types.NewTask(t.ScriptPath, t.Params, t.Type).ID
		}
	}

	ready, err := e.wf.Add(tasks)
	if err != nil {
		return nil, types.NewEngineError(types.CodeInvalidTask, err.Error(), "")
	}

	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		e.registerPending(t)
		ids = append(ids, t.ID)
	}
	for _, t := range ready {
		e.submitReleased(t)
	}
	return ids, nil
}

// GetResult 获取指定任务的结果，等待至多 timeout。
// 先查结果缓存，未命中则排空输出队列；排到别的任务的结果会进缓存。
// 超时返回 (nil, nil)，任务保持 pending。
func (e *Engine) GetResult(taskID string, timeout time.Duration) (*types.Result, error) {
	if !e.IsRunning() {
		return nil, types.ErrEngineNotRunning
	}

	deadline := time.Now().Add(timeout)
	for {
		if res := e.cache.Get(taskID); res != nil {
			e.deliver(res)
			return res, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		poll := remaining
		if poll > resultPollInterval {
			poll = resultPollInterval
		}

		item, ok := e.output.Get(poll)
		if !ok {
			continue
		}
		env, err := codec.Decode[types.ResultEnvelope](item)
		if err != nil {
			e.log.Error("undecodable result envelope", zap.Error(err))
			continue
		}
		res := types.ResultFromEnvelope(&env)

		// 无论结果属于谁，都先驱动工作流释放下游任务。
		for _, released := range e.wf.TaskCompleted(res) {
			e.submitReleased(released)
		}

		if res.TaskID == taskID {
			e.deliver(res)
			return res, nil
		}
		e.cache.Put(res.TaskID, res)
	}
}

// enqueue 将任务编码后放入输入队列，带满队列重试。
func (e *Engine) enqueue(task *types.Task) error {
	data, err := codec.Marshal(task.Envelope())
	if err != nil {
		return types.NewEngineError(types.CodeSerializationFailed, err.Error(), task.ID)
	}

	attempts := e.cfg.Engine.MaxQueueFullRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(submitRetryBackoff * time.Duration(attempt))
		}
		if e.input.TryPut(data) {
			return nil
		}
	}
	return types.NewEngineError(types.CodeQueueFull,
		fmt.Sprintf("input queue full after %d attempts", attempts), task.ID)
}

// submitReleased 提交一个工作流释放的任务。
// 提交失败时结果被伪造为 FAILED 放入缓存，调用方仍能收到结局。
func (e *Engine) submitReleased(task *types.Task) {
	if err := e.enqueue(task); err != nil {
		e.log.Error("enqueue released task", zap.String("task_id", task.ID), zap.Error(err))
		e.cache.Put(task.ID, types.Failed(task.ID, err.Error(), map[string]any{
			"kind": "EnqueueError",
		}, time.Time{}))
	}
}

// registerPending 登记任务；重复 id 返回 false。
func (e *Engine) registerPending(task *types.Task) bool {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	if _, exists := e.pending[task.ID]; exists {
		return false
	}
	e.pending[task.ID] = pendingEntry{task: task, submittedAt: time.Now()}
	return true
}

func (e *Engine) removePending(taskID string) {
	e.pendingMu.Lock()
	delete(e.pending, taskID)
	e.pendingMu.Unlock()
}

// deliver 在结果交付给调用方时更新 pending 集和延迟直方图。
func (e *Engine) deliver(res *types.Result) {
	e.pendingMu.Lock()
	entry, ok := e.pending[res.TaskID]
	if ok {
		delete(e.pending, res.TaskID)
	}
	e.pendingMu.Unlock()

	if ok {
		ms := time.Since(entry.submittedAt).Milliseconds()
		if ms < 1 {
			ms = 1
		}
		e.histMu.Lock()
		_ = e.hist.RecordValue(ms)
		e.histMu.Unlock()
	}
}

// PendingCount 返回已提交但尚未交付结果的任务数。
func (e *Engine) PendingCount() int {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	return len(e.pending)
}

// Run 以受限资源的方式运行引擎：启动后执行 fn，返回时优雅关闭。
func Run(cfg *config.Config, fn func(*Engine) error) error {
	e := New(cfg)
	if err := e.Start(); err != nil {
		return err
	}
	defer func() {
		_ = e.Shutdown(true)
	}()
	return fn(e)
}
