package spancache

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/grafana/spancache/pkg/util"
)

const (
	defaultMaxTraces         = 1_000_000
	defaultTraceTTL          = 20 * time.Minute
	defaultSweepPeriod       = 10 * time.Second
	defaultFinalizeWorkers   = 4
	defaultFinalizeQueueSize = 10_000
)

// Config for the span cache.
type Config struct {
	MaxTraces        int           `yaml:"max_traces"`
	TraceTTL         time.Duration `yaml:"trace_ttl"`
	SweepPeriod      time.Duration `yaml:"sweep_period"`
	MaxSpansPerTrace int           `yaml:"max_spans_per_trace"`

	FinalizeWorkers   int `yaml:"finalize_workers"`
	FinalizeQueueSize int `yaml:"finalize_queue_size"`
}

// RegisterFlagsAndApplyDefaults registers the flags.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.MaxTraces, util.PrefixConfig(prefix, "max-traces"), defaultMaxTraces, "Maximum number of traces held in memory. The least recently used trace is finalized when a new one needs room.")
	f.DurationVar(&cfg.TraceTTL, util.PrefixConfig(prefix, "trace-ttl"), defaultTraceTTL, "Time after its first span at which a trace is considered complete.")
	f.DurationVar(&cfg.SweepPeriod, util.PrefixConfig(prefix, "sweep-period"), defaultSweepPeriod, "How often expired traces are looked for.")
	f.IntVar(&cfg.MaxSpansPerTrace, util.PrefixConfig(prefix, "max-spans-per-trace"), 0, "Maximum number of spans per trace, 0 to disable.")

	cfg.FinalizeWorkers = defaultFinalizeWorkers
	cfg.FinalizeQueueSize = defaultFinalizeQueueSize
}

func (cfg *Config) Validate() error {
	if cfg.MaxTraces <= 0 {
		return fmt.Errorf("max_traces must be positive, got %d", cfg.MaxTraces)
	}
	if cfg.TraceTTL <= 0 {
		return fmt.Errorf("trace_ttl must be positive, got %s", cfg.TraceTTL)
	}
	if cfg.SweepPeriod <= 0 {
		return fmt.Errorf("sweep_period must be positive, got %s", cfg.SweepPeriod)
	}
	if cfg.MaxSpansPerTrace < 0 {
		return errors.New("max_spans_per_trace must not be negative")
	}
	if cfg.FinalizeWorkers <= 0 {
		return fmt.Errorf("finalize_workers must be positive, got %d", cfg.FinalizeWorkers)
	}
	if cfg.FinalizeQueueSize < 0 {
		return errors.New("finalize_queue_size must not be negative")
	}
	return nil
}
