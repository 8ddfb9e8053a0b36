package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskDefaults(t *testing.T) {
	task := NewTask("scripts/x.js", nil, TaskTypeCPUBound)
	assert.NotEmpty(t, task.ID)
	assert.NotNil(t, task.Params)
	assert.Equal(t, 3, task.MaxRetries)
	assert.False(t, task.CreatedAt.IsZero())
}

func TestTaskFromEnvelopeDefaultsUnknownType(t *testing.T) {
	task := TaskFromEnvelope(&TaskEnvelope{
		TaskID:     "t1",
		ScriptPath: "x.js",
		TaskType:   "quantum_bound",
	})
	assert.Equal(t, TaskTypeIOBound, task.Type)
	assert.NotNil(t, task.Params)
}

func TestResultDuration(t *testing.T) {
	started := time.Now().Add(-time.Second)
	res := Success("t1", nil, started)
	assert.InDelta(t, time.Second.Seconds(), res.Duration().Seconds(), 0.5)

	unknown := &Result{TaskID: "t2", Status: ResultFailed, CompletedAt: time.Now()}
	assert.Zero(t, unknown.Duration())
}

func TestResultEnvelopeRoundTrip(t *testing.T) {
	res := Failed("t1", "boom", map[string]any{"kind": "Exception"}, time.Now().Add(-time.Minute))
	back := ResultFromEnvelope(res.Envelope())

	assert.Equal(t, res.TaskID, back.TaskID)
	assert.Equal(t, res.Status, back.Status)
	assert.Equal(t, res.Error, back.Error)
	require.NotNil(t, back.ErrorDetails)
	assert.WithinDuration(t, res.StartedAt, back.StartedAt, time.Millisecond)
}

func TestEngineErrorMatchingByCode(t *testing.T) {
	err := NewEngineError(CodeQueueFull, "queue saturated", "t1")
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.NotErrorIs(t, err, ErrEngineNotRunning)
	assert.Contains(t, err.Error(), "QUEUE_FULL")
	assert.Contains(t, err.Error(), "t1")

	var engineErr *EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, "t1", engineErr.TaskID)
}
