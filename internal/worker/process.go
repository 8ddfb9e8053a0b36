package worker

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vidinsight-labs/Axion/internal/codec"
	"github.com/vidinsight-labs/Axion/internal/queue"
	"github.com/vidinsight-labs/Axion/pkg/logger"
	"github.com/vidinsight-labs/Axion/pkg/types"
)

// ProcessConfig configures a single worker child process.
type ProcessConfig struct {
	WorkerID    string
	TaskType    types.TaskType
	Threads     int
	ChannelSize int

	// Command is the argv to spawn. Empty means the running binary with
	// the "worker" subcommand.
	Command []string

	// StatusPollTimeout caps the status round-trip.
	StatusPollTimeout time.Duration

	// Grace is the drain interval granted to the child on stop.
	Grace time.Duration

	LogLevel string
}

// Process is the parent-side handle of one worker child. It owns the
// command pipe (stdin), the status pipe (fd 3) and the result stream
// (stdout), which it drains into the shared output queue.
type Process struct {
	cfg    ProcessConfig
	output *queue.OutputQueue
	log    *zap.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	// cmdMu guards writes on the command pipe. statusMu serializes whole
	// status round-trips so replies cannot be attributed to the wrong
	// caller. Lock order: statusMu before cmdMu.
	cmdMu    sync.Mutex
	statusMu sync.Mutex
	statusCh chan int

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	alive    atomic.Bool
	stopping atomic.Bool
	done     chan struct{}
}

// NewProcess creates a handle; Start spawns the child.
func NewProcess(cfg ProcessConfig, output *queue.OutputQueue) *Process {
	if cfg.StatusPollTimeout <= 0 {
		cfg.StatusPollTimeout = 100 * time.Millisecond
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 10 * time.Second
	}
	return &Process{
		cfg:      cfg,
		output:   output,
		log:      logger.Named("process").With(zap.String("worker_id", cfg.WorkerID)),
		statusCh: make(chan int, 4),
		inflight: make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// ID returns the stable worker identity ("cpu-k" / "io-k").
func (p *Process) ID() string { return p.cfg.WorkerID }

// Start spawns the child process and begins draining its pipes.
func (p *Process) Start() error {
	argv := p.cfg.Command
	if len(argv) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable: %w", err)
		}
		argv = []string{exe, "worker"}
	}

	spec := ChildSpec{
		WorkerID:    p.cfg.WorkerID,
		TaskType:    string(p.cfg.TaskType),
		Threads:     p.cfg.Threads,
		ChannelSize: p.cfg.ChannelSize,
		GraceMillis: p.cfg.Grace.Milliseconds(),
		LogLevel:    p.cfg.LogLevel,
	}
	specJSON, err := codec.Marshal(&spec)
	if err != nil {
		return fmt.Errorf("encode worker spec: %w", err)
	}

	statusR, statusW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("status pipe: %w", err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), SpecEnv+"="+string(specJSON))
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{statusW}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		statusR.Close()
		statusW.Close()
		return fmt.Errorf("command pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		statusR.Close()
		statusW.Close()
		return fmt.Errorf("result pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		statusR.Close()
		statusW.Close()
		return fmt.Errorf("spawn worker %s: %w", p.cfg.WorkerID, err)
	}
	statusW.Close() // child's end

	p.cmd = cmd
	p.stdin = stdin
	p.alive.Store(true)

	go p.drainResults(stdout)
	go p.drainStatus(statusR)
	go p.waitExit()

	p.log.Info("worker spawned", zap.Int("pid", cmd.Process.Pid))
	return nil
}

// Submit writes an execute_task envelope on the command pipe.
func (p *Process) Submit(task *types.Task) error {
	if !p.alive.Load() {
		return types.NewEngineError(types.CodeWorkerUnreachable,
			fmt.Sprintf("worker %s is not running", p.cfg.WorkerID), task.ID)
	}
	p.trackInflight(task.ID)
	err := p.writeCommand(&types.CommandEnvelope{
		Command: types.CommandExecuteTask,
		Task:    task.Envelope(),
	})
	if err != nil {
		p.untrackInflight(task.ID)
		return types.NewEngineError(types.CodeWorkerUnreachable,
			fmt.Sprintf("dispatch to worker %s: %v", p.cfg.WorkerID, err), task.ID)
	}
	return nil
}

// ActiveThreadCount queries the child's live thread count over IPC. On
// timeout or a dead worker the reported load is 0, so the broken worker
// keeps receiving work and the liveness problem surfaces instead of being
// hidden.
func (p *Process) ActiveThreadCount() int {
	if !p.alive.Load() {
		return 0
	}

	p.statusMu.Lock()
	defer p.statusMu.Unlock()

	// Discard stale replies from an earlier timed-out round-trip.
	for {
		select {
		case <-p.statusCh:
			continue
		default:
		}
		break
	}

	if err := p.writeCommand(&types.CommandEnvelope{Command: types.CommandGetStatus}); err != nil {
		return 0
	}

	timer := time.NewTimer(p.cfg.StatusPollTimeout)
	defer timer.Stop()
	select {
	case n := <-p.statusCh:
		return n
	case <-timer.C:
		return 0
	}
}

// Stop terminates the child: graceful sends a stop command and waits out
// the grace interval before killing; forced kills immediately.
func (p *Process) Stop(graceful bool) error {
	if p.cmd == nil {
		return nil
	}
	p.stopping.Store(true)

	if graceful && p.alive.Load() {
		if err := p.writeCommand(&types.CommandEnvelope{Command: types.CommandStop}); err == nil {
			timer := time.NewTimer(p.cfg.Grace + time.Second)
			defer timer.Stop()
			select {
			case <-p.done:
				return nil
			case <-timer.C:
				p.log.Warn("worker did not exit within grace, killing")
			}
		}
	}

	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	<-p.done
	return nil
}

// Kill terminates the child without marking the stop as requested, so the
// exit is treated as a crash and every in-flight task gets a fabricated
// FAILED result.
func (p *Process) Kill() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return fmt.Errorf("worker %s is not running", p.cfg.WorkerID)
	}
	return p.cmd.Process.Kill()
}

// Alive reports whether the child process is still running.
func (p *Process) Alive() bool { return p.alive.Load() }

// Status returns the parent-side view of this worker.
func (p *Process) Status() types.WorkerStatus {
	return types.WorkerStatus{
		WorkerID:      p.cfg.WorkerID,
		ActiveThreads: p.ActiveThreadCount(),
		Alive:         p.alive.Load(),
	}
}

func (p *Process) writeCommand(env *types.CommandEnvelope) error {
	data, err := codec.Marshal(env)
	if err != nil {
		return err
	}
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()
	if _, err := p.stdin.Write(data); err != nil {
		return err
	}
	_, err = p.stdin.Write([]byte{'\n'})
	return err
}

// drainResults forwards the child's result stream into the shared output
// queue, clearing the in-flight record as each result passes through.
func (p *Process) drainResults(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		env, err := codec.Decode[types.ResultEnvelope](line)
		if err != nil {
			p.log.Error("bad result envelope", zap.Error(err))
			continue
		}
		p.untrackInflight(env.TaskID)
		item := make([]byte, len(line))
		copy(item, line)
		p.pushResult(item, env.TaskID)
	}
}

func (p *Process) pushResult(item []byte, taskID string) {
	for attempt := 0; attempt < 3; attempt++ {
		if p.output.Put(item, time.Second) {
			return
		}
	}
	p.log.Error("output queue full, dropping result", zap.String("task_id", taskID))
}

func (p *Process) drainStatus(r io.Reader) {
	defer func() {
		if c, ok := r.(io.Closer); ok {
			c.Close()
		}
	}()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		reply, err := codec.Decode[types.StatusReply](line)
		if err != nil {
			continue
		}
		select {
		case p.statusCh <- reply.ActiveThreads:
		default:
		}
	}
}

// waitExit reaps the child. An exit that was not requested fabricates
// FAILED results for every task still in flight, so no submitter is left
// without an outcome.
func (p *Process) waitExit() {
	err := p.cmd.Wait()
	p.alive.Store(false)
	if !p.stopping.Load() {
		p.log.Error("worker exited unexpectedly", zap.Error(err))
		p.failInflight()
	}
	close(p.done)
}

func (p *Process) trackInflight(taskID string) {
	p.inflightMu.Lock()
	p.inflight[taskID] = struct{}{}
	p.inflightMu.Unlock()
}

func (p *Process) untrackInflight(taskID string) {
	p.inflightMu.Lock()
	delete(p.inflight, taskID)
	p.inflightMu.Unlock()
}

func (p *Process) failInflight() {
	p.inflightMu.Lock()
	orphans := make([]string, 0, len(p.inflight))
	for id := range p.inflight {
		orphans = append(orphans, id)
	}
	p.inflight = make(map[string]struct{})
	p.inflightMu.Unlock()

	for _, id := range orphans {
		res := types.Failed(id, fmt.Sprintf("worker %s terminated unexpectedly", p.cfg.WorkerID),
			map[string]any{
				"kind":      "WorkerCrash",
				"worker_id": p.cfg.WorkerID,
			}, time.Time{})
		data, err := codec.Marshal(res.Envelope())
		if err != nil {
			continue
		}
		p.pushResult(data, id)
	}
}
