package finalizer

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"time"

	"github.com/grafana/dskit/backoff"

	"github.com/grafana/spancache/pkg/util"
)

type Config struct {
	LogTraces bool `yaml:"log_traces"`

	// ForwardEndpoint receives completed traces as zipkin v2 JSON. Empty
	// disables forwarding.
	ForwardEndpoint string     `yaml:"forward_endpoint"`
	OTLP            OTLPConfig `yaml:"otlp"`

	ForwardTimeout  time.Duration  `yaml:"forward_timeout"`
	Backoff         backoff.Config `yaml:"backoff"`
	BreakerFailures uint32         `yaml:"circuit_breaker_failures"`
	BreakerTimeout  time.Duration  `yaml:"circuit_breaker_timeout"`
}

// OTLPConfig configures forwarding of completed traces to an OTLP gRPC
// endpoint.
type OTLPConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	CertFile string `yaml:"cert_file"`
}

// RegisterFlagsAndApplyDefaults registers the flags.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.BoolVar(&cfg.LogTraces, util.PrefixConfig(prefix, "log-traces"), true, "Log a line for every completed trace.")
	f.StringVar(&cfg.ForwardEndpoint, util.PrefixConfig(prefix, "forward-endpoint"), "", "Zipkin v2 endpoint completed traces are posted to.")
	f.StringVar(&cfg.OTLP.Endpoint, util.PrefixConfig(prefix, "otlp.endpoint"), "", "OTLP gRPC endpoint completed traces are exported to.")
	f.BoolVar(&cfg.OTLP.Insecure, util.PrefixConfig(prefix, "otlp.insecure"), false, "Export without TLS.")
	f.StringVar(&cfg.OTLP.CertFile, util.PrefixConfig(prefix, "otlp.cert-file"), "", "CA certificate used to verify the OTLP endpoint.")

	f.DurationVar(&cfg.ForwardTimeout, util.PrefixConfig(prefix, "forward-timeout"), 10*time.Second, "Timeout of a single forward request.")
	f.DurationVar(&cfg.Backoff.MinBackoff, util.PrefixConfig(prefix, "backoff-min-period"), 100*time.Millisecond, "Minimum delay when backing off.")
	f.DurationVar(&cfg.Backoff.MaxBackoff, util.PrefixConfig(prefix, "backoff-max-period"), 5*time.Second, "Maximum delay when backing off.")
	f.IntVar(&cfg.Backoff.MaxRetries, util.PrefixConfig(prefix, "backoff-retries"), 5, "Number of attempts to forward a trace before giving up.")

	cfg.BreakerFailures = 10
	cfg.BreakerTimeout = 30 * time.Second
}

// Forwarding reports whether completed traces leave the process.
func (cfg *Config) Forwarding() bool {
	return cfg.ForwardEndpoint != "" || cfg.OTLP.Endpoint != ""
}

func (cfg *Config) Validate() error {
	if cfg.ForwardEndpoint != "" {
		u, err := url.Parse(cfg.ForwardEndpoint)
		if err != nil {
			return fmt.Errorf("invalid forward_endpoint: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("forward_endpoint must be an http or https url, got %q", cfg.ForwardEndpoint)
		}
	}

	if cfg.OTLP.Endpoint != "" && !cfg.OTLP.Insecure && cfg.OTLP.CertFile == "" {
		return errors.New("otlp.cert_file is required unless otlp.insecure is set")
	}

	if !cfg.Forwarding() {
		return nil
	}

	if cfg.ForwardTimeout <= 0 {
		return errors.New("positive forward_timeout required")
	}
	if cfg.Backoff.MinBackoff <= 0 {
		return errors.New("positive backoff min period required")
	}
	if cfg.Backoff.MaxBackoff < cfg.Backoff.MinBackoff {
		return errors.New("backoff max period must not be lower than the min period")
	}
	// zero would retry forever and stall a finalize worker
	if cfg.Backoff.MaxRetries <= 0 {
		return errors.New("positive backoff retries required")
	}
	if cfg.BreakerFailures > 0 && cfg.BreakerTimeout <= 0 {
		return errors.New("positive circuit_breaker_timeout required")
	}
	return nil
}
