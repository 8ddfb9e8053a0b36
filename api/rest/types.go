package rest

import "github.com/vidinsight-labs/Axion/pkg/types"

// TaskRequest is the POST /api/v1/tasks body.
type TaskRequest struct {
	TaskID       string         `json:"task_id,omitempty"`
	ScriptPath   string         `json:"script_path"`
	Params       map[string]any `json:"params,omitempty"`
	TaskType     string         `json:"task_type"`
	MaxRetries   int            `json:"max_retries,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
}

// WorkflowRequest is the POST /api/v1/workflows body.
type WorkflowRequest struct {
	Tasks []TaskRequest `json:"tasks"`
}

// SubmitResponse acknowledges an accepted task.
type SubmitResponse struct {
	TaskID string `json:"task_id"`
}

// WorkflowResponse acknowledges an accepted workflow.
type WorkflowResponse struct {
	TaskIDs []string `json:"task_ids"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// toTask converts a request into the engine's task type.
func (r *TaskRequest) toTask() *types.Task {
	task := types.TaskFromEnvelope(&types.TaskEnvelope{
		TaskID:       r.TaskID,
		ScriptPath:   r.ScriptPath,
		Params:       r.Params,
		TaskType:     r.TaskType,
		MaxRetries:   r.MaxRetries,
		Dependencies: r.Dependencies,
	})
	return task
}
