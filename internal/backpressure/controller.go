// Package backpressure gates task admission on system load.
package backpressure

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Level is the admission verdict derived from system load.
type Level string

const (
	LevelHealthy  Level = "healthy"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// probeInterval throttles system probes; load does not move faster.
const probeInterval = time.Second

// Controller samples CPU and memory utilisation and decides whether new
// tasks should be admitted. Thresholds of 100 effectively disable it.
type Controller struct {
	cpuThreshold float64
	memThreshold float64

	mu        sync.Mutex
	lastCheck time.Time
	cached    Level
}

// NewController creates a controller with utilisation thresholds in
// percent.
func NewController(cpuThreshold, memThreshold float64) *Controller {
	if cpuThreshold <= 0 {
		cpuThreshold = 100
	}
	if memThreshold <= 0 {
		memThreshold = 100
	}
	return &Controller{
		cpuThreshold: cpuThreshold,
		memThreshold: memThreshold,
		cached:       LevelHealthy,
	}
}

// CheckHealth probes the system, at most once per second.
func (c *Controller) CheckHealth() Level {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Sub(c.lastCheck) < probeInterval {
		return c.cached
	}
	c.lastCheck = now

	cpuPercent := 0.0
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}
	memPercent := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		memPercent = vm.UsedPercent
	}

	switch {
	case cpuPercent > c.cpuThreshold || memPercent > c.memThreshold:
		c.cached = LevelCritical
	case cpuPercent > c.cpuThreshold*0.8:
		c.cached = LevelWarning
	default:
		c.cached = LevelHealthy
	}
	return c.cached
}

// ShouldAcceptTask reports whether a new task may be admitted.
func (c *Controller) ShouldAcceptTask() bool {
	return c.CheckHealth() != LevelCritical
}
