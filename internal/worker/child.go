package worker

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vidinsight-labs/Axion/internal/codec"
	"github.com/vidinsight-labs/Axion/internal/executor"
	"github.com/vidinsight-labs/Axion/pkg/logger"
	"github.com/vidinsight-labs/Axion/pkg/types"
)

// SpecEnv carries the child spec from parent to worker process.
const SpecEnv = "AXION_WORKER_SPEC"

// statusPipeFD is the file descriptor of the status pipe in the child.
// stdin is the command pipe, stdout the result stream, stderr the log.
const statusPipeFD = 3

// maxLineSize bounds a single envelope line on any pipe.
const maxLineSize = 16 * 1024 * 1024

// ChildSpec is the configuration a worker child receives at spawn.
type ChildSpec struct {
	WorkerID    string `json:"worker_id"`
	TaskType    string `json:"task_type"`
	Threads     int    `json:"threads"`
	ChannelSize int    `json:"channel_size"`
	GraceMillis int64  `json:"grace_ms"`
	LogLevel    string `json:"log_level"`
}

// Grace returns the drain interval for a graceful stop.
func (s *ChildSpec) Grace() time.Duration {
	if s.GraceMillis <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.GraceMillis) * time.Millisecond
}

// RunChildFromEnv decodes the spec from the environment and runs the child
// loop on the standard pipes. It is the body of the hidden "worker"
// subcommand and of the test helper process.
func RunChildFromEnv() error {
	raw := os.Getenv(SpecEnv)
	if raw == "" {
		return fmt.Errorf("%s is not set; this command is spawned by the engine", SpecEnv)
	}
	spec, err := codec.Decode[ChildSpec]([]byte(raw))
	if err != nil {
		return fmt.Errorf("decode worker spec: %w", err)
	}
	return RunChild(spec, os.Stdin, os.Stdout, os.NewFile(statusPipeFD, "status"))
}

// RunChild runs the worker main loop: one dedicated command-loop thread
// reading envelopes from cmdR, a thread pool executing tasks, results
// streamed to resultW and status replies to statusW.
func RunChild(spec ChildSpec, cmdR io.Reader, resultW io.Writer, statusW io.Writer) error {
	logger.Init(&logger.Config{
		Level:  spec.LogLevel,
		Format: "console",
		Output: "stderr",
	})
	log := logger.Named("worker").With(zap.String("worker_id", spec.WorkerID))

	sink := newLineSink(resultW)
	status := newLineSink(statusW)

	pool := NewThreadPool(spec.Threads, spec.ChannelSize, spec.WorkerID, executor.New(), sink)
	pool.Start()
	log.Info("worker started", zap.Int("threads", spec.Threads), zap.String("task_type", spec.TaskType))

	scanner := bufio.NewScanner(cmdR)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		env, err := codec.Decode[types.CommandEnvelope](line)
		if err != nil {
			log.Error("bad command envelope", zap.Error(err))
			continue
		}

		switch env.Command {
		case types.CommandExecuteTask:
			if env.Task == nil {
				log.Error("execute_task without task payload")
				continue
			}
			task := types.TaskFromEnvelope(env.Task)
			if err := pool.Submit(task); err != nil {
				log.Error("submit to thread pool", zap.String("task_id", task.ID), zap.Error(err))
			}
		case types.CommandGetStatus:
			if err := status.push(&types.StatusReply{ActiveThreads: pool.ActiveCount()}); err != nil {
				log.Error("status reply", zap.Error(err))
			}
		case types.CommandStop:
			log.Info("stop command received")
			if !pool.Stop(spec.Grace()) {
				log.Warn("thread pool did not drain within grace")
			}
			return nil
		default:
			log.Error("unknown command", zap.String("command", env.Command))
		}
	}

	// Command pipe closed: the parent is gone. Drain and exit.
	log.Info("command pipe closed, draining")
	pool.Stop(spec.Grace())
	return scanner.Err()
}

// lineSink serializes envelopes as JSON lines onto a shared writer.
type lineSink struct {
	mu sync.Mutex
	w  io.Writer
}

func newLineSink(w io.Writer) *lineSink {
	return &lineSink{w: w}
}

// Push implements ResultSink.
func (s *lineSink) Push(res *types.Result) error {
	return s.push(res.Envelope())
}

func (s *lineSink) push(v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	_, err = s.w.Write([]byte{'\n'})
	return err
}
