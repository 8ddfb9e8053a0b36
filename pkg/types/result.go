package types

import "time"

// ResultStatus is the terminal outcome of a task.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "SUCCESS"
	ResultFailed  ResultStatus = "FAILED"
)

// Result is the outcome of executing a Task. Exactly one Result exists per
// task id for the life of the engine.
type Result struct {
	TaskID       string
	Status       ResultStatus
	Data         any
	Error        string
	ErrorDetails map[string]any
	StartedAt    time.Time
	CompletedAt  time.Time
}

// IsSuccess reports whether the task completed without error.
func (r *Result) IsSuccess() bool {
	return r.Status == ResultSuccess
}

// Duration returns the execution wall time, or zero if the start time is
// unknown.
func (r *Result) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Success builds a successful result.
func Success(taskID string, data any, startedAt time.Time) *Result {
	return &Result{
		TaskID:      taskID,
		Status:      ResultSuccess,
		Data:        data,
		StartedAt:   startedAt,
		CompletedAt: time.Now().UTC(),
	}
}

// Failed builds a failed result.
func Failed(taskID string, errMsg string, details map[string]any, startedAt time.Time) *Result {
	return &Result{
		TaskID:       taskID,
		Status:       ResultFailed,
		Error:        errMsg,
		ErrorDetails: details,
		StartedAt:    startedAt,
		CompletedAt:  time.Now().UTC(),
	}
}

// Envelope converts the result to its wire form. Timestamps are RFC 3339.
func (r *Result) Envelope() *ResultEnvelope {
	env := &ResultEnvelope{
		TaskID:       r.TaskID,
		Status:       string(r.Status),
		Data:         r.Data,
		Error:        r.Error,
		ErrorDetails: r.ErrorDetails,
		CompletedAt:  r.CompletedAt.Format(time.RFC3339Nano),
	}
	if !r.StartedAt.IsZero() {
		env.StartedAt = r.StartedAt.Format(time.RFC3339Nano)
	}
	return env
}

// ResultFromEnvelope rebuilds a result from its wire form.
func ResultFromEnvelope(env *ResultEnvelope) *Result {
	status := ResultStatus(env.Status)
	if status != ResultSuccess {
		status = ResultFailed
	}
	res := &Result{
		TaskID:       env.TaskID,
		Status:       status,
		Data:         env.Data,
		Error:        env.Error,
		ErrorDetails: env.ErrorDetails,
	}
	if env.StartedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, env.StartedAt); err == nil {
			res.StartedAt = ts
		}
	}
	if env.CompletedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, env.CompletedAt); err == nil {
			res.CompletedAt = ts
		}
	}
	return res
}
