package config

import (
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
)

// ResolvedIOBoundCount returns the effective I/O worker count, deriving the
// auto value from the machine's logical CPU count.
func (c *EngineConfig) ResolvedIOBoundCount() int {
	if c.IOBoundCount > 0 {
		return c.IOBoundCount
	}
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return 1
	}
	if n-1 < 1 {
		return 1
	}
	return n - 1
}

// Validate checks every configured bound.
func (c *Config) Validate() error {
	e := &c.Engine
	if e.InputQueueSize < 1 {
		return fmt.Errorf("input_queue_size must be at least 1")
	}
	if e.OutputQueueSize < 1 {
		return fmt.Errorf("output_queue_size must be at least 1")
	}
	if e.CPUBoundCount < 1 {
		return fmt.Errorf("cpu_bound_count must be at least 1")
	}
	if e.IOBoundCount < 0 {
		return fmt.Errorf("io_bound_count must not be negative")
	}
	if e.CPUBoundTaskLimit < 1 {
		return fmt.Errorf("cpu_bound_task_limit must be at least 1")
	}
	if e.IOBoundTaskLimit < 1 {
		return fmt.Errorf("io_bound_task_limit must be at least 1")
	}
	if e.QueueThreadCount < 1 {
		return fmt.Errorf("queue_thread_count must be at least 1")
	}
	if e.QueuePollTimeout <= 0 {
		return fmt.Errorf("queue_poll_timeout must be positive")
	}
	if e.MaxQueueFullRetries < 0 {
		return fmt.Errorf("max_queue_full_retries must not be negative")
	}
	if e.StatusPollTimeout <= 0 {
		return fmt.Errorf("status_poll_timeout must be positive")
	}
	if e.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if e.CacheShardCount < 1 {
		return fmt.Errorf("cache_shard_count must be at least 1")
	}
	if e.CacheMaxPerShard < 1 {
		return fmt.Errorf("cache_max_per_shard must be at least 1")
	}
	if e.BackpressureCPUThreshold <= 0 {
		return fmt.Errorf("backpressure_cpu_threshold must be positive")
	}
	if e.BackpressureMemoryThreshold <= 0 {
		return fmt.Errorf("backpressure_memory_threshold must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	return nil
}
