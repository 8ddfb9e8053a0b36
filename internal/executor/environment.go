package executor

import (
	"fmt"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/vidinsight-labs/Axion/pkg/logger"
)

// setupConsole installs console.log/warn/error, routed to the process
// logger tagged with the worker id.
func setupConsole(vm *goja.Runtime, workerID string) {
	log := logger.Named("script").With(zap.String("worker_id", workerID))

	console := vm.NewObject()
	_ = console.Set("log", func(args ...any) {
		log.Info(formatArgs(args))
	})
	_ = console.Set("warn", func(args ...any) {
		log.Warn(formatArgs(args))
	})
	_ = console.Set("error", func(args ...any) {
		log.Error(formatArgs(args))
	})
	_ = vm.Set("console", console)
}

// setupSleep installs sleep(ms) for scripts that model I/O waits.
func setupSleep(vm *goja.Runtime) {
	_ = vm.Set("sleep", func(ms float64) {
		if ms > 0 {
			time.Sleep(time.Duration(ms * float64(time.Millisecond)))
		}
	})
}

func formatArgs(args []any) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%v", a)
	}
	return out
}
