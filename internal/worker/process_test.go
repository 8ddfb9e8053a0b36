package worker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidinsight-labs/Axion/internal/codec"
	"github.com/vidinsight-labs/Axion/internal/queue"
	"github.com/vidinsight-labs/Axion/pkg/types"
)

// testCommand re-executes the test binary; TestMain routes it into the
// child loop.
func testCommand(t *testing.T) []string {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return []string{exe}
}

func writeTestScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.js")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func startTestProcess(t *testing.T, output *queue.OutputQueue, threads int) *Process {
	t.Helper()
	proc := NewProcess(ProcessConfig{
		WorkerID:          "io-0",
		TaskType:          types.TaskTypeIOBound,
		Threads:           threads,
		ChannelSize:       threads * 2,
		Command:           testCommand(t),
		StatusPollTimeout: 100 * time.Millisecond,
		Grace:             5 * time.Second,
		LogLevel:          "error",
	}, output)
	require.NoError(t, proc.Start())
	return proc
}

func drainResult(t *testing.T, output *queue.OutputQueue, timeout time.Duration) *types.Result {
	t.Helper()
	item, ok := output.Get(timeout)
	require.True(t, ok, "no result within %s", timeout)
	env, err := codec.Decode[types.ResultEnvelope](item)
	require.NoError(t, err)
	return types.ResultFromEnvelope(&env)
}

func TestProcessExecutesTask(t *testing.T) {
	output := queue.NewOutputQueue(100)
	proc := startTestProcess(t, output, 2)
	defer proc.Stop(false)

	script := writeTestScript(t, `function main(p, c) { return { result: p.v * 2 }; }`)
	task := types.NewTask(script, map[string]any{"v": 21}, types.TaskTypeIOBound)
	require.NoError(t, proc.Submit(task))

	res := drainResult(t, output, 10*time.Second)
	assert.Equal(t, task.ID, res.TaskID)
	require.True(t, res.IsSuccess(), "error: %s", res.Error)
	assert.EqualValues(t, 42, res.Data.(map[string]any)["result"])

	require.NoError(t, proc.Stop(true))
	assert.False(t, proc.Alive())
}

func TestProcessStatusRoundTrip(t *testing.T) {
	output := queue.NewOutputQueue(100)
	proc := startTestProcess(t, output, 4)
	defer proc.Stop(false)

	// Idle worker reports zero active threads.
	assert.Equal(t, 0, proc.ActiveThreadCount())

	// Occupy threads with sleeping tasks and observe a non-zero count.
	script := writeTestScript(t, `function main(p, c) { sleep(1500); return 1; }`)
	for i := 0; i < 3; i++ {
		require.NoError(t, proc.Submit(types.NewTask(script, nil, types.TaskTypeIOBound)))
	}
	time.Sleep(500 * time.Millisecond)
	count := proc.ActiveThreadCount()
	assert.Greater(t, count, 0)
	assert.LessOrEqual(t, count, 3)
}

func TestProcessUserFailureDoesNotKillWorker(t *testing.T) {
	output := queue.NewOutputQueue(100)
	proc := startTestProcess(t, output, 2)
	defer proc.Stop(false)

	bad := writeTestScript(t, `function main(p, c) { throw new Error("boom"); }`)
	task := types.NewTask(bad, nil, types.TaskTypeIOBound)
	require.NoError(t, proc.Submit(task))

	res := drainResult(t, output, 10*time.Second)
	assert.Equal(t, task.ID, res.TaskID)
	assert.False(t, res.IsSuccess())
	assert.Contains(t, res.Error, "boom")

	// The worker keeps servicing tasks after a user-code failure.
	good := writeTestScript(t, `function main(p, c) { return "fine"; }`)
	task2 := types.NewTask(good, nil, types.TaskTypeIOBound)
	require.NoError(t, proc.Submit(task2))

	res2 := drainResult(t, output, 10*time.Second)
	assert.Equal(t, task2.ID, res2.TaskID)
	assert.True(t, res2.IsSuccess())
	assert.True(t, proc.Alive())
}

func TestProcessCrashFabricatesFailedResults(t *testing.T) {
	output := queue.NewOutputQueue(100)
	proc := startTestProcess(t, output, 2)

	// Keep a task in flight, then kill the child out from under it.
	script := writeTestScript(t, `function main(p, c) { sleep(30000); return 1; }`)
	task := types.NewTask(script, nil, types.TaskTypeIOBound)
	require.NoError(t, proc.Submit(task))
	time.Sleep(300 * time.Millisecond)

	require.NoError(t, proc.cmd.Process.Kill())

	res := drainResult(t, output, 10*time.Second)
	assert.Equal(t, task.ID, res.TaskID)
	assert.False(t, res.IsSuccess())
	assert.Contains(t, res.Error, "terminated unexpectedly")
	assert.Equal(t, "WorkerCrash", res.ErrorDetails["kind"])

	assert.Eventually(t, func() bool { return !proc.Alive() }, 5*time.Second, 50*time.Millisecond)
}

func TestProcessSubmitAfterDeath(t *testing.T) {
	output := queue.NewOutputQueue(100)
	proc := startTestProcess(t, output, 1)
	require.NoError(t, proc.cmd.Process.Kill())
	require.Eventually(t, func() bool { return !proc.Alive() }, 5*time.Second, 50*time.Millisecond)

	err := proc.Submit(types.NewTask("x.js", nil, types.TaskTypeIOBound))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrWorkerUnreachable)

	// Dead workers report zero load.
	assert.Equal(t, 0, proc.ActiveThreadCount())
}

func TestProcessGracefulStopDrains(t *testing.T) {
	output := queue.NewOutputQueue(100)
	proc := startTestProcess(t, output, 1)

	script := writeTestScript(t, `function main(p, c) { sleep(200); return p.n; }`)
	var ids []string
	for i := 0; i < 3; i++ {
		task := types.NewTask(script, map[string]any{"n": i}, types.TaskTypeIOBound)
		require.NoError(t, proc.Submit(task))
		ids = append(ids, task.ID)
	}

	require.NoError(t, proc.Stop(true))

	// Every queued task produced a result before the child exited.
	got := make(map[string]bool)
	for range ids {
		res := drainResult(t, output, 5*time.Second)
		got[res.TaskID] = true
	}
	for _, id := range ids {
		assert.True(t, got[id], "missing result for %s", id)
	}
}
