// Package config holds the tunables the submitter consumes from its host
// process: timeouts, queueing thresholds, and logging. It follows
// determined-ai/determined's internal/config package convention of a single
// process-wide Config reachable through a sync.Once-guarded singleton, loaded
// with viper from a file, with environment overrides (see Load).
package config

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the complete set of tunables for one submitter instance.
type Config struct {
	Logger LoggerConfig `json:"logger"`

	// TimeoutMsTaskWaitForDeathInfo bounds how long a network-failed task
	// waits for a definitive DisconnectActor(dead=true) before it is
	// surfaced to the caller as ACTOR_DIED on the basis of the timeout
	// alone. Mirrors RayConfig::timeout_ms_task_wait_for_death_info.
	TimeoutMsTaskWaitForDeathInfo int64 `json:"timeout_ms_task_wait_for_death_info"`

	// ActorExcessQueueingWarnThreshold is the initial count of unprocessed
	// sequence numbers that triggers a soft queue-depth warning. The
	// threshold doubles every time it fires, to avoid log spam under
	// sustained backpressure.
	ActorExcessQueueingWarnThreshold int64 `json:"actor_excess_queueing_warn_threshold"`

	// TimeoutSweepInterval is how often the host process should invoke
	// CheckTimeoutTasks.
	TimeoutSweepInterval time.Duration `json:"timeout_sweep_interval"`
}

// DefaultConfig returns the default submitter configuration.
func DefaultConfig() *Config {
	return &Config{
		Logger:                           *DefaultLoggerConfig(),
		TimeoutMsTaskWaitForDeathInfo:    30_000,
		ActorExcessQueueingWarnThreshold: 5_000,
		TimeoutSweepInterval:             time.Second,
	}
}

// Validate reports configuration errors, if any.
func (c Config) Validate() []error {
	var errs []error
	errs = append(errs, c.Logger.Validate()...)
	if c.TimeoutMsTaskWaitForDeathInfo <= 0 {
		errs = append(errs, errors.New("timeout_ms_task_wait_for_death_info must be positive"))
	}
	if c.ActorExcessQueueingWarnThreshold <= 0 {
		errs = append(errs, errors.New("actor_excess_queueing_warn_threshold must be positive"))
	}
	return errs
}

var (
	once   sync.Once
	global *Config
)

// GetConfig returns the process-wide Config, initializing it to the default
// on first use. Mirrors the once/masterConfig pattern in
// determined-ai/determined/master/internal/config/config.go.
func GetConfig() *Config {
	once.Do(func() {
		global = DefaultConfig()
	})
	return global
}

// SetConfig replaces the process-wide Config. Intended for use at process
// startup, before any submitter is constructed.
func SetConfig(c *Config) {
	once.Do(func() {})
	global = c
}

// Load reads configuration from the given file path (if non-empty) via
// viper, with environment variables prefixed TASKSUBMITTER_ overriding keys
// the file sets, and returns the result. An empty path returns the defaults;
// the environment is then not read.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("tasksubmitter")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "reading submitter config")
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, errors.Wrap(err, "parsing submitter config")
		}
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errors.Errorf("invalid submitter config: %v", errs)
	}
	return cfg, nil
}
