// Package executor runs user scripts through the goja JavaScript engine.
//
// Two script shapes are supported:
//
//	function main(params, context) { ... return data; }
//
// or a factory:
//
//	function module() { return { run: function(params) { ... } }; }
//
// Compiled programs are cached per path and recompiled when the file's
// modification time changes. Runtimes are not shared between executions;
// a goja.Runtime is not goroutine-safe.
package executor

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/vidinsight-labs/Axion/pkg/types"
)

// ScriptExecutor 脚本执行器（带编译缓存）
type ScriptExecutor struct {
	mu    sync.Mutex
	cache map[string]*cachedProgram
}

type cachedProgram struct {
	program *goja.Program
	mtime   time.Time
}

// New creates a script executor with an empty program cache.
func New() *ScriptExecutor {
	return &ScriptExecutor{cache: make(map[string]*cachedProgram)}
}

// Execute runs the task's script and always returns a Result; user-code
// failures become FAILED Results, never errors.
func (e *ScriptExecutor) Execute(task *types.Task, execCtx *types.ExecutionContext) (res *types.Result) {
	startedAt := time.Now().UTC()

	defer func() {
		if r := recover(); r != nil {
			res = types.Failed(task.ID, fmt.Sprintf("script panicked: %v", r), map[string]any{
				"kind": "panic",
			}, startedAt)
		}
	}()

	prog, err := e.load(task.ScriptPath)
	if err != nil {
		return types.Failed(task.ID, err.Error(), map[string]any{
			"kind": fmt.Sprintf("%T", err),
		}, startedAt)
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	setupConsole(vm, execCtx.WorkerID)
	setupSleep(vm)

	if _, err := vm.RunProgram(prog); err != nil {
		return failedFromJSError(task.ID, err, startedAt)
	}

	ctxObj := map[string]any{
		"task_id":   execCtx.TaskID,
		"worker_id": execCtx.WorkerID,
	}

	data, err := invoke(vm, task.Params, ctxObj)
	if err != nil {
		return failedFromJSError(task.ID, err, startedAt)
	}
	return types.Success(task.ID, data, startedAt)
}

// invoke calls main(params, context), or falls back to the module()
// factory's run(params) method.
func invoke(vm *goja.Runtime, params map[string]any, ctxObj map[string]any) (any, error) {
	if mainFn, ok := goja.AssertFunction(vm.Get("main")); ok {
		v, err := mainFn(goja.Undefined(), vm.ToValue(params), vm.ToValue(ctxObj))
		if err != nil {
			return nil, err
		}
		return exportValue(v), nil
	}

	factory, ok := goja.AssertFunction(vm.Get("module"))
	if !ok {
		return nil, fmt.Errorf("script defines neither main(params, context) nor module()")
	}
	instance, err := factory(goja.Undefined())
	if err != nil {
		return nil, err
	}
	obj := instance.ToObject(vm)
	if obj == nil {
		return nil, fmt.Errorf("module() did not return an object")
	}
	runFn, ok := goja.AssertFunction(obj.Get("run"))
	if !ok {
		return nil, fmt.Errorf("module() object has no run(params) method")
	}
	v, err := runFn(obj, vm.ToValue(params))
	if err != nil {
		return nil, err
	}
	return exportValue(v), nil
}

func exportValue(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

// load returns the compiled program for path, recompiling when the file's
// mtime differs from the cached one.
func (e *ScriptExecutor) load(path string) (*goja.Program, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat script: %w", err)
	}
	mtime := info.ModTime()

	e.mu.Lock()
	entry, ok := e.cache[path]
	e.mu.Unlock()
	if ok && entry.mtime.Equal(mtime) {
		return entry.program, nil
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	prog, err := goja.Compile(path, string(src), false)
	if err != nil {
		return nil, fmt.Errorf("compile script: %w", err)
	}

	e.mu.Lock()
	e.cache[path] = &cachedProgram{program: prog, mtime: mtime}
	e.mu.Unlock()
	return prog, nil
}

// CachedPrograms returns the number of cached compilations.
func (e *ScriptExecutor) CachedPrograms() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cache)
}

func failedFromJSError(taskID string, err error, startedAt time.Time) *types.Result {
	details := map[string]any{
		"kind": fmt.Sprintf("%T", err),
	}
	if ex, ok := err.(*goja.Exception); ok {
		details["kind"] = "Exception"
		details["traceback"] = ex.String()
	}
	return types.Failed(taskID, err.Error(), details, startedAt)
}
