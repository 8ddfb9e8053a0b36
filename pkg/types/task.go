package types

import (
	"time"

	"github.com/google/uuid"
)

// TaskType decides which worker group services a task.
type TaskType string

const (
	// TaskTypeCPUBound marks compute-heavy tasks; routed to the CPU group.
	TaskTypeCPUBound TaskType = "cpu_bound"
	// TaskTypeIOBound marks tasks dominated by waiting; routed to the I/O group.
	TaskTypeIOBound TaskType = "io_bound"
)

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	return t == TaskTypeCPUBound || t == TaskTypeIOBound
}

// Task is a request to execute a script with the given parameters.
type Task struct {
	ID           string
	ScriptPath   string
	Params       map[string]any
	Type         TaskType
	MaxRetries   int
	Dependencies []string
	CreatedAt    time.Time
}

// NewTask creates a task with a fresh UUID.
func NewTask(scriptPath string, params map[string]any, taskType TaskType) *Task {
	if params == nil {
		params = make(map[string]any)
	}
	return &Task{
		ID:         uuid.NewString(),
		ScriptPath: scriptPath,
		Params:     params,
		Type:       taskType,
		MaxRetries: 3,
		CreatedAt:  time.Now().UTC(),
	}
}

// Envelope converts the task to its wire form.
func (t *Task) Envelope() *TaskEnvelope {
	return &TaskEnvelope{
		TaskID:       t.ID,
		ScriptPath:   t.ScriptPath,
		Params:       t.Params,
		TaskType:     string(t.Type),
		MaxRetries:   t.MaxRetries,
		Dependencies: t.Dependencies,
	}
}

// TaskFromEnvelope rebuilds a task from its wire form.
func TaskFromEnvelope(env *TaskEnvelope) *Task {
	taskType := TaskType(env.TaskType)
	if !taskType.Valid() {
		taskType = TaskTypeIOBound
	}
	id := env.TaskID
	if id == "" {
		id = uuid.NewString()
	}
	params := env.Params
	if params == nil {
		params = make(map[string]any)
	}
	return &Task{
		ID:           id,
		ScriptPath:   env.ScriptPath,
		Params:       params,
		Type:         taskType,
		MaxRetries:   env.MaxRetries,
		Dependencies: env.Dependencies,
	}
}
