package engine

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidinsight-labs/Axion/internal/config"
	"github.com/vidinsight-labs/Axion/pkg/types"
)

func testConfig(t *testing.T, mutate func(*config.Config)) *config.Config {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Engine.WorkerCommand = []string{exe}
	cfg.Engine.CPUBoundCount = 1
	cfg.Engine.IOBoundCount = 2
	cfg.Engine.IOBoundTaskLimit = 4
	cfg.Engine.ShutdownTimeout = 5 * time.Second
	cfg.Logging.Level = "error"
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

func startEngine(t *testing.T, mutate func(*config.Config)) *Engine {
	t.Helper()
	eng := New(testConfig(t, mutate))
	require.NoError(t, eng.Start())
	t.Cleanup(func() {
		_ = eng.Shutdown(false)
	})
	return eng
}

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.js")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestSingleTaskRoundTrip(t *testing.T) {
	eng := startEngine(t, nil)
	script := writeScript(t, `function main(params, context) { return { result: params.v * 2 }; }`)

	task := types.NewTask(script, map[string]any{"v": 42}, types.TaskTypeIOBound)
	id, err := eng.SubmitTask(task)
	require.NoError(t, err)
	require.Equal(t, task.ID, id)

	res, err := eng.GetResult(id, 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, res, "timed out waiting for result")
	require.True(t, res.IsSuccess(), "error: %s", res.Error)
	assert.EqualValues(t, 84, res.Data.(map[string]any)["result"])
	assert.Equal(t, 0, eng.PendingCount())
}

func TestBatchOutOfOrderDelivery(t *testing.T) {
	eng := startEngine(t, func(cfg *config.Config) {
		cfg.Engine.IOBoundCount = 4
		cfg.Engine.IOBoundTaskLimit = 10
	})
	script := writeScript(t, `function main(params, context) { sleep(params.delay); return params.n; }`)

	const n = 100
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		delay := 10
		if rand.Intn(2) == 0 {
			delay = 500
		}
		task := types.NewTask(script, map[string]any{"n": i, "delay": delay}, types.TaskTypeIOBound)
		id, err := eng.SubmitTask(task)
		require.NoError(t, err)
		ids[i] = id
	}

	// Collect in the original submission order even though cross-queue
	// arrival order differs.
	for i, id := range ids {
		res, err := eng.GetResult(id, 30*time.Second)
		require.NoError(t, err)
		require.NotNil(t, res, "no result for task %d", i)
		require.True(t, res.IsSuccess(), "task %d failed: %s", i, res.Error)
		assert.EqualValues(t, i, res.Data)
	}
	assert.Equal(t, 0, eng.PendingCount())
}

func TestQueueOverflowReturnsQueueFull(t *testing.T) {
	eng := startEngine(t, func(cfg *config.Config) {
		cfg.Engine.InputQueueSize = 4
		cfg.Engine.MaxQueueFullRetries = 0
		cfg.Engine.QueueThreadCount = 1
		cfg.Engine.CPUBoundCount = 1
		cfg.Engine.IOBoundCount = 1
		cfg.Engine.IOBoundTaskLimit = 1
	})
	blocker := writeScript(t, `function main(params, context) { sleep(5000); return 1; }`)

	// Saturate the single worker thread and its local channel so the
	// child's command loop blocks on a handoff, then keep the one
	// dispatcher thread stalled in its status round-trip.
	for i := 0; i < 3; i++ {
		_, err := eng.SubmitTask(types.NewTask(blocker, nil, types.TaskTypeIOBound))
		require.NoError(t, err)
	}
	time.Sleep(700 * time.Millisecond)
	// This one blocks the child's command loop on the channel handoff.
	_, err := eng.SubmitTask(types.NewTask(blocker, nil, types.TaskTypeIOBound))
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	// And this one parks the dispatcher inside its status round-trip,
	// which now runs into the full poll timeout.
	_, err = eng.SubmitTask(types.NewTask(blocker, nil, types.TaskTypeIOBound))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	// Burst: the input queue holds 4; everything beyond that is rejected.
	accepted, rejected := 0, 0
	for i := 0; i < 6; i++ {
		_, err := eng.SubmitTask(types.NewTask(blocker, nil, types.TaskTypeIOBound))
		if err == nil {
			accepted++
		} else {
			require.ErrorIs(t, err, types.ErrQueueFull)
			rejected++
		}
	}
	assert.Equal(t, 4, accepted)
	assert.Equal(t, 2, rejected)
}

func TestWorkerCrashIsolation(t *testing.T) {
	eng := startEngine(t, func(cfg *config.Config) {
		cfg.Engine.IOBoundCount = 2
		cfg.Engine.IOBoundTaskLimit = 2
	})

	// goja offers no way for user code to kill the process, so the crash
	// is injected from outside: a long task is dispatched, then its
	// worker process is killed mid-flight.
	slow := writeScript(t, `function main(params, context) { sleep(30000); return 1; }`)
	task := types.NewTask(slow, nil, types.TaskTypeIOBound)
	_, err := eng.SubmitTask(task)
	require.NoError(t, err)
	time.Sleep(500 * time.Millisecond)

	killOneBusyWorker(t, eng)

	res, err := eng.GetResult(task.ID, 10*time.Second)
	require.NoError(t, err)
	require.NotNil(t, res, "crash produced no result")
	assert.False(t, res.IsSuccess())
	assert.Equal(t, "WorkerCrash", res.ErrorDetails["kind"])

	// Remaining workers keep servicing submissions.
	fine := writeScript(t, `function main(params, context) { return "ok"; }`)
	task2 := types.NewTask(fine, nil, types.TaskTypeIOBound)
	_, err = eng.SubmitTask(task2)
	require.NoError(t, err)
	res2, err := eng.GetResult(task2.ID, 10*time.Second)
	require.NoError(t, err)
	require.NotNil(t, res2)
	assert.True(t, res2.IsSuccess())
}

func TestModuleCacheInvalidation(t *testing.T) {
	eng := startEngine(t, nil)

	dir := t.TempDir()
	path := filepath.Join(dir, "versioned.js")
	require.NoError(t, os.WriteFile(path, []byte(`function main(p, c) { return { version: 1 }; }`), 0o644))

	task1 := types.NewTask(path, nil, types.TaskTypeIOBound)
	_, err := eng.SubmitTask(task1)
	require.NoError(t, err)
	res1, err := eng.GetResult(task1.ID, 10*time.Second)
	require.NoError(t, err)
	require.NotNil(t, res1)
	require.True(t, res1.IsSuccess(), "error: %s", res1.Error)
	assert.EqualValues(t, 1, res1.Data.(map[string]any)["version"])

	// Overwrite the script and bump its mtime; no engine restart.
	require.NoError(t, os.WriteFile(path, []byte(`function main(p, c) { return { version: 2 }; }`), 0o644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	task2 := types.NewTask(path, nil, types.TaskTypeIOBound)
	_, err = eng.SubmitTask(task2)
	require.NoError(t, err)
	res2, err := eng.GetResult(task2.ID, 10*time.Second)
	require.NoError(t, err)
	require.NotNil(t, res2)
	require.True(t, res2.IsSuccess(), "error: %s", res2.Error)
	assert.EqualValues(t, 2, res2.Data.(map[string]any)["version"])
}

func TestGetResultTimeoutLeavesTaskPending(t *testing.T) {
	eng := startEngine(t, nil)
	slow := writeScript(t, `function main(params, context) { sleep(2000); return 1; }`)

	task := types.NewTask(slow, nil, types.TaskTypeIOBound)
	_, err := eng.SubmitTask(task)
	require.NoError(t, err)

	res, err := eng.GetResult(task.ID, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 1, eng.PendingCount())

	// The result still arrives later.
	res, err = eng.GetResult(task.ID, 10*time.Second)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 0, eng.PendingCount())
}

func TestPendingCountTracksSubmissionsAndCollections(t *testing.T) {
	eng := startEngine(t, nil)
	script := writeScript(t, `function main(params, context) { return params.n; }`)

	var ids []string
	for i := 0; i < 10; i++ {
		task := types.NewTask(script, map[string]any{"n": i}, types.TaskTypeIOBound)
		_, err := eng.SubmitTask(task)
		require.NoError(t, err)
		ids = append(ids, task.ID)
		assert.Equal(t, i+1, eng.PendingCount())
	}

	for i, id := range ids {
		res, err := eng.GetResult(id, 10*time.Second)
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, len(ids)-i-1, eng.PendingCount())
	}
}

func TestSubmitRejectedWhenStopped(t *testing.T) {
	eng := New(testConfig(t, nil))

	_, err := eng.SubmitTask(types.NewTask("s.js", nil, types.TaskTypeIOBound))
	assert.ErrorIs(t, err, types.ErrEngineNotRunning)

	require.NoError(t, eng.Start())
	require.NoError(t, eng.Shutdown(true))

	_, err = eng.SubmitTask(types.NewTask("s.js", nil, types.TaskTypeIOBound))
	assert.ErrorIs(t, err, types.ErrEngineNotRunning)
}

func TestStartAndShutdownAreIdempotent(t *testing.T) {
	eng := New(testConfig(t, nil))
	require.NoError(t, eng.Start())
	require.NoError(t, eng.Start())
	assert.True(t, eng.IsRunning())

	require.NoError(t, eng.Shutdown(true))
	require.NoError(t, eng.Shutdown(true))
	assert.False(t, eng.IsRunning())
}

func TestDuplicateTaskIDRejected(t *testing.T) {
	eng := startEngine(t, nil)
	slow := writeScript(t, `function main(params, context) { sleep(1000); return 1; }`)

	task := types.NewTask(slow, nil, types.TaskTypeIOBound)
	_, err := eng.SubmitTask(task)
	require.NoError(t, err)

	dup := types.NewTask(slow, nil, types.TaskTypeIOBound)
	dup.ID = task.ID
	_, err = eng.SubmitTask(dup)
	require.Error(t, err)

	var engineErr *types.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, types.CodeInvalidTask, engineErr.Code)
}

func TestInvalidTaskRejected(t *testing.T) {
	eng := startEngine(t, nil)

	_, err := eng.SubmitTask(nil)
	assert.ErrorIs(t, err, types.ErrInvalidTask)

	_, err = eng.SubmitTask(&types.Task{ScriptPath: ""})
	assert.ErrorIs(t, err, types.ErrInvalidTask)

	task := types.NewTask("s.js", nil, types.TaskType("gpu_bound"))
	_, err = eng.SubmitTask(task)
	require.Error(t, err)
}

func TestGracefulShutdownDrainsInFlightWork(t *testing.T) {
	eng := startEngine(t, func(cfg *config.Config) {
		cfg.Engine.IOBoundCount = 1
		cfg.Engine.IOBoundTaskLimit = 2
	})
	script := writeScript(t, `function main(params, context) { sleep(300); return params.n; }`)

	for i := 0; i < 4; i++ {
		_, err := eng.SubmitTask(types.NewTask(script, map[string]any{"n": i}, types.TaskTypeIOBound))
		require.NoError(t, err)
	}

	start := time.Now()
	require.NoError(t, eng.Shutdown(true))
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.False(t, eng.IsRunning())
}

func TestGetStatusAggregatesComponents(t *testing.T) {
	eng := startEngine(t, nil)

	st := eng.GetStatus()
	require.True(t, st.Running)
	for _, name := range []string{"input_queue", "output_queue", "process_pool", "result_cache", "dispatcher"} {
		_, ok := st.Components[name]
		assert.True(t, ok, "missing component %s", name)
	}

	comp, err := eng.GetComponentStatus("input_queue")
	require.NoError(t, err)
	assert.Equal(t, "input_queue", comp.Name)

	_, err = eng.GetComponentStatus("warp_drive")
	assert.Error(t, err)

	health := eng.GetHealth()
	assert.Equal(t, types.HealthHealthy, health.Status)
}

func TestScopedRun(t *testing.T) {
	var observed bool
	err := Run(testConfig(t, nil), func(eng *Engine) error {
		observed = eng.IsRunning()
		return nil
	})
	require.NoError(t, err)
	assert.True(t, observed)
}

func TestLoadBalancingSpreadsAcrossWorkers(t *testing.T) {
	if testing.Short() {
		t.Skip("load test")
	}
	const workers = 4
	const tasks = 120

	eng := startEngine(t, func(cfg *config.Config) {
		cfg.Engine.IOBoundCount = workers
		cfg.Engine.IOBoundTaskLimit = 10
	})
	script := writeScript(t, `function main(params, context) { sleep(200); return { worker: context.worker_id }; }`)

	start := time.Now()
	ids := make([]string, tasks)
	for i := 0; i < tasks; i++ {
		task := types.NewTask(script, nil, types.TaskTypeIOBound)
		_, err := eng.SubmitTask(task)
		require.NoError(t, err)
		ids[i] = task.ID
	}

	perWorker := make(map[string]int)
	for _, id := range ids {
		res, err := eng.GetResult(id, 60*time.Second)
		require.NoError(t, err)
		require.NotNil(t, res)
		require.True(t, res.IsSuccess(), "error: %s", res.Error)
		perWorker[res.Data.(map[string]any)["worker"].(string)]++
	}
	elapsed := time.Since(start)

	// 120 tasks of 200ms across 4 workers x 10 threads is 3 rounds, or
	// 12 rounds on a single worker in the broken fixed-zero-count case.
	assert.Less(t, elapsed, 8*time.Second, "load balancing too slow: %s", elapsed)

	// Every worker carried a meaningful share.
	assert.Len(t, perWorker, workers, "distribution: %v", perWorker)
	for id, n := range perWorker {
		assert.Greater(t, n, tasks/workers/4, "worker %s starved: %v", id, perWorker)
	}
}

func TestWorkflowDependenciesDeliverUpstreamData(t *testing.T) {
	eng := startEngine(t, nil)
	producer := writeScript(t, `function main(params, context) { return { result: params.v }; }`)
	joiner := writeScript(t, `
function main(params, context) {
    var upstream = params.upstream_results || {};
    var total = 0;
    for (var id in upstream) {
        total += upstream[id].result;
    }
    return { total: total };
}
`)

	a := types.NewTask(producer, map[string]any{"v": 2}, types.TaskTypeIOBound)
	b := types.NewTask(producer, map[string]any{"v": 3}, types.TaskTypeIOBound)
	join := types.NewTask(joiner, map[string]any{}, types.TaskTypeIOBound)
	join.Dependencies = []string{a.ID, b.ID}

	ids, err := eng.SubmitWorkflow([]*types.Task{a, b, join})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	res, err := eng.GetResult(join.ID, 20*time.Second)
	require.NoError(t, err)
	require.NotNil(t, res, "join task never completed")
	require.True(t, res.IsSuccess(), "error: %s", res.Error)
	assert.EqualValues(t, 5, res.Data.(map[string]any)["total"])

	// The producers' results remain collectable.
	for _, id := range []string{a.ID, b.ID} {
		got, err := eng.GetResult(id, 5*time.Second)
		require.NoError(t, err)
		require.NotNil(t, got)
	}
	assert.Equal(t, 0, eng.PendingCount())
}

func TestTaskIDMultisetRoundTrip(t *testing.T) {
	eng := startEngine(t, func(cfg *config.Config) {
		cfg.Engine.IOBoundCount = 2
		cfg.Engine.IOBoundTaskLimit = 8
	})
	script := writeScript(t, `function main(params, context) { return params.n; }`)

	submitted := make(map[string]bool)
	for i := 0; i < 40; i++ {
		task := types.NewTask(script, map[string]any{"n": i}, types.TaskTypeIOBound)
		_, err := eng.SubmitTask(task)
		require.NoError(t, err)
		submitted[task.ID] = true
	}

	collected := make(map[string]bool)
	for id := range submitted {
		res, err := eng.GetResult(id, 20*time.Second)
		require.NoError(t, err)
		require.NotNil(t, res, "no result for %s", id)
		require.False(t, collected[res.TaskID], "duplicate result for %s", res.TaskID)
		require.True(t, submitted[res.TaskID], "phantom result %s", res.TaskID)
		collected[res.TaskID] = true
	}
	assert.Equal(t, len(submitted), len(collected))
}

func killOneBusyWorker(t *testing.T, eng *Engine) {
	t.Helper()
	// Find the worker with an active task via the pool status and kill its
	// process through the OS.
	st := eng.GetStatus()
	poolStatus := st.Components["process_pool"]
	workersAny, ok := poolStatus.Metrics["workers"].(map[string]any)
	require.True(t, ok)

	busyID := ""
	for id, info := range workersAny {
		m := info.(map[string]any)
		if m["active_threads"].(int) > 0 {
			busyID = id
			break
		}
	}
	require.NotEmpty(t, busyID, "no busy worker found: %v", workersAny)
	require.NoError(t, eng.pool.KillWorker(busyID))
}
