package types

// Wire formats crossing the input queue, the command pipe and the output
// queue. Field names are fixed; workers written in other languages must be
// able to decode them.

// TaskEnvelope is the serialized form of a Task.
type TaskEnvelope struct {
	TaskID       string         `json:"task_id"`
	ScriptPath   string         `json:"script_path"`
	Params       map[string]any `json:"params"`
	TaskType     string         `json:"task_type"`
	MaxRetries   int            `json:"max_retries"`
	Dependencies []string       `json:"dependencies,omitempty"`
}

// ResultEnvelope is the serialized form of a Result.
type ResultEnvelope struct {
	TaskID       string         `json:"task_id"`
	Status       string         `json:"status"`
	Data         any            `json:"data"`
	Error        string         `json:"error,omitempty"`
	ErrorDetails map[string]any `json:"error_details,omitempty"`
	StartedAt    string         `json:"started_at,omitempty"`
	CompletedAt  string         `json:"completed_at"`
}

// Commands accepted on a worker's command pipe.
const (
	CommandExecuteTask = "execute_task"
	CommandGetStatus   = "get_status"
	CommandStop        = "stop"
)

// CommandEnvelope is a single parent-to-worker instruction.
type CommandEnvelope struct {
	Command string        `json:"command"`
	Task    *TaskEnvelope `json:"task,omitempty"`
}

// StatusReply is a worker's answer to a get_status command.
type StatusReply struct {
	ActiveThreads int `json:"active_threads"`
}
