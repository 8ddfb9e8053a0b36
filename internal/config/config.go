// Package config loads and validates the engine configuration from
// defaults, a YAML file and AXION_-prefixed environment variables, in that
// order of precedence.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for the Axion engine.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig holds the scheduling core configuration.
type EngineConfig struct {
	// InputQueueSize bounds the task admission queue.
	InputQueueSize int `yaml:"input_queue_size" env:"AXION_INPUT_QUEUE_SIZE"`

	// OutputQueueSize bounds the shared result queue.
	OutputQueueSize int `yaml:"output_queue_size" env:"AXION_OUTPUT_QUEUE_SIZE"`

	// CPUBoundCount is the number of CPU-class worker processes.
	CPUBoundCount int `yaml:"cpu_bound_count" env:"AXION_CPU_BOUND_COUNT"`

	// IOBoundCount is the number of I/O-class worker processes.
	// Zero means auto: max(1, logical CPUs - 1).
	IOBoundCount int `yaml:"io_bound_count" env:"AXION_IO_BOUND_COUNT"`

	// CPUBoundTaskLimit is the thread count per CPU worker.
	CPUBoundTaskLimit int `yaml:"cpu_bound_task_limit" env:"AXION_CPU_BOUND_TASK_LIMIT"`

	// IOBoundTaskLimit is the thread count per I/O worker.
	IOBoundTaskLimit int `yaml:"io_bound_task_limit" env:"AXION_IO_BOUND_TASK_LIMIT"`

	// QueueThreadCount is the number of dispatcher threads. Must be >= 1.
	QueueThreadCount int `yaml:"queue_thread_count" env:"AXION_QUEUE_THREAD_COUNT"`

	// QueuePollTimeout caps every blocking poll in the engine.
	QueuePollTimeout time.Duration `yaml:"queue_poll_timeout" env:"AXION_QUEUE_POLL_TIMEOUT"`

	// MaxQueueFullRetries is the submit retry budget when the input queue
	// is full.
	MaxQueueFullRetries int `yaml:"max_queue_full_retries" env:"AXION_MAX_QUEUE_FULL_RETRIES"`

	// StatusPollTimeout caps the IPC status round-trip per worker.
	StatusPollTimeout time.Duration `yaml:"status_poll_timeout" env:"AXION_STATUS_POLL_TIMEOUT"`

	// ShutdownTimeout is the grace interval for draining workers.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"AXION_SHUTDOWN_TIMEOUT"`

	// CacheShardCount is the number of result cache shards.
	CacheShardCount int `yaml:"cache_shard_count" env:"AXION_CACHE_SHARD_COUNT"`

	// CacheMaxPerShard bounds each cache shard.
	CacheMaxPerShard int `yaml:"cache_max_per_shard" env:"AXION_CACHE_MAX_PER_SHARD"`

	// BackpressureCPUThreshold is the CPU utilisation percentage above
	// which new submissions are rejected. 100 disables the check.
	BackpressureCPUThreshold float64 `yaml:"backpressure_cpu_threshold" env:"AXION_BACKPRESSURE_CPU_THRESHOLD"`

	// BackpressureMemoryThreshold is the memory counterpart.
	BackpressureMemoryThreshold float64 `yaml:"backpressure_memory_threshold" env:"AXION_BACKPRESSURE_MEMORY_THRESHOLD"`

	// WorkerCommand overrides the argv used to spawn worker processes.
	// Empty means the running binary with the "worker" subcommand.
	WorkerCommand []string `yaml:"-"`
}

// ServerConfig holds the HTTP control surface configuration.
type ServerConfig struct {
	// Enabled toggles the REST surface.
	Enabled bool `yaml:"enabled" env:"AXION_SERVER_ENABLED"`

	// Address is the listen address (e.g. ":8080").
	Address string `yaml:"address" env:"AXION_SERVER_ADDRESS"`

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"AXION_SERVER_READ_TIMEOUT"`

	// WriteTimeout is the maximum duration for writing a response.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"AXION_SERVER_WRITE_TIMEOUT"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" env:"AXION_LOG_LEVEL"`
	Format   string `yaml:"format" env:"AXION_LOG_FORMAT"`
	Output   string `yaml:"output" env:"AXION_LOG_OUTPUT"`
	FilePath string `yaml:"file_path" env:"AXION_LOG_FILE_PATH"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			InputQueueSize:              1000,
			OutputQueueSize:             10000,
			CPUBoundCount:               1,
			IOBoundCount:                0, // auto
			CPUBoundTaskLimit:           1,
			IOBoundTaskLimit:            20,
			QueueThreadCount:            4,
			QueuePollTimeout:            time.Second,
			MaxQueueFullRetries:         3,
			StatusPollTimeout:           100 * time.Millisecond,
			ShutdownTimeout:             10 * time.Second,
			CacheShardCount:             16,
			CacheMaxPerShard:            100,
			BackpressureCPUThreshold:    100,
			BackpressureMemoryThreshold: 100,
		},
		Server: ServerConfig{
			Enabled:      true,
			Address:      ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
	}
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// WithConfigPath sets the path to the YAML configuration file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// Load builds the configuration: defaults, then YAML, then environment.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields tagged with env:"..." from the environment.
func applyEnv(cfg *Config) error {
	root := reflect.ValueOf(cfg).Elem()
	for i := 0; i < root.NumField(); i++ {
		section := root.Field(i)
		sectionType := section.Type()
		if sectionType.Kind() != reflect.Struct {
			continue
		}
		for j := 0; j < section.NumField(); j++ {
			tag := sectionType.Field(j).Tag.Get("env")
			if tag == "" {
				continue
			}
			raw, ok := os.LookupEnv(tag)
			if !ok {
				continue
			}
			if err := setField(section.Field(j), raw); err != nil {
				return fmt.Errorf("env %s: %w", tag, err)
			}
		}
	}
	return nil
}

func setField(field reflect.Value, raw string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(v)
	case reflect.Float64:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		field.SetFloat(v)
	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(v)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}
