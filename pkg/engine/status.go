package engine

import (
	"fmt"

	"github.com/vidinsight-labs/Axion/pkg/types"
)

// GetStatus 汇总各组件的状态快照，可并发调用。
func (e *Engine) GetStatus() *types.SystemStatus {
	running := e.IsRunning()

	status := &types.SystemStatus{
		Running:      running,
		PendingCount: e.PendingCount(),
		Components:   make(map[string]types.ComponentStatus),
	}
	if !running {
		return status
	}

	status.Latency = e.latencySnapshot()
	status.Components["input_queue"] = e.input.Status()
	status.Components["output_queue"] = e.output.Status()
	status.Components["process_pool"] = e.pool.Status()
	status.Components["result_cache"] = e.cache.Status()
	status.Components["dispatcher"] = e.dispatcher.Status()
	return status
}

// GetComponentStatus 返回指定组件的状态。
func (e *Engine) GetComponentStatus(name string) (*types.ComponentStatus, error) {
	if !e.IsRunning() {
		return nil, types.ErrEngineNotRunning
	}
	var st types.ComponentStatus
	switch name {
	case "input_queue":
		st = e.input.Status()
	case "output_queue":
		st = e.output.Status()
	case "process_pool":
		st = e.pool.Status()
	case "result_cache":
		st = e.cache.Status()
	case "dispatcher":
		st = e.dispatcher.Status()
	default:
		return nil, fmt.Errorf("unknown component %q", name)
	}
	return &st, nil
}

// GetHealth 返回面向探针的压缩健康视图。
func (e *Engine) GetHealth() *types.SystemHealth {
	health := &types.SystemHealth{
		Status:     types.HealthUnhealthy,
		Components: make(map[string]string),
	}
	if !e.IsRunning() {
		health.Backpressure = string(e.backpressureLevel())
		return health
	}

	components := map[string]types.ComponentStatus{
		"input_queue":  e.input.Status(),
		"output_queue": e.output.Status(),
		"process_pool": e.pool.Status(),
	}
	worst := types.HealthHealthy
	for name, st := range components {
		health.Components[name] = st.Health
		switch st.Health {
		case types.HealthUnhealthy:
			worst = types.HealthUnhealthy
		case types.HealthDegraded:
			if worst == types.HealthHealthy {
				worst = types.HealthDegraded
			}
		}
	}
	health.Status = worst
	health.Backpressure = string(e.backpressureLevel())
	return health
}

func (e *Engine) backpressureLevel() string {
	if e.bp == nil {
		return ""
	}
	return string(e.bp.CheckHealth())
}

func (e *Engine) latencySnapshot() types.LatencySnapshot {
	e.histMu.Lock()
	defer e.histMu.Unlock()
	return types.LatencySnapshot{
		Count: e.hist.TotalCount(),
		P50:   float64(e.hist.ValueAtQuantile(50)),
		P95:   float64(e.hist.ValueAtQuantile(95)),
		P99:   float64(e.hist.ValueAtQuantile(99)),
		Max:   float64(e.hist.Max()),
	}
}
