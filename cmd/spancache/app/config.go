package app

import (
	"flag"

	"github.com/grafana/dskit/flagext"
	"github.com/grafana/dskit/server"

	"github.com/grafana/spancache/modules/receiver"
	"github.com/grafana/spancache/modules/spancache"
	"github.com/grafana/spancache/pkg/finalizer"
	"github.com/grafana/spancache/pkg/util"
)

// Config is the root config for App.
type Config struct {
	Server    server.Config    `yaml:"server,omitempty"`
	SpanCache spancache.Config `yaml:"span_cache,omitempty"`
	Receiver  receiver.Config  `yaml:"receiver,omitempty"`
	Finalizer finalizer.Config `yaml:"finalizer,omitempty"`
}

// RegisterFlagsAndApplyDefaults registers flag.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	// Server settings
	flagext.DefaultValues(&c.Server)
	c.Server.LogLevel.RegisterFlags(f)
	f.StringVar(&c.Server.LogFormat, "log.format", "logfmt", "Output log messages in the given format. Valid formats: [logfmt, json]")
	f.IntVar(&c.Server.HTTPListenPort, "server.http-listen-port", 3200, "HTTP server listen port.")
	f.IntVar(&c.Server.GRPCListenPort, "server.grpc-listen-port", 9095, "gRPC server listen port.")

	c.SpanCache.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "span-cache"), f)
	c.Receiver.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "receiver"), f)
	c.Finalizer.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "finalizer"), f)
}

// ConfigWarning bundles message and explanation strings in one structure.
type ConfigWarning struct {
	Message string
	Explain string
}

var (
	warnSweepPeriodTooLong = ConfigWarning{
		Message: "span_cache.sweep_period > span_cache.trace_ttl",
		Explain: "Expired traces stay in memory for up to sweep_period before they are finalized",
	}
	warnNoFinalizeQueue = ConfigWarning{
		Message: "span_cache.finalize_queue_size is 0",
		Explain: "Every eviction waits until a finalize worker is free",
	}
	warnNoFinalizer = ConfigWarning{
		Message: "finalizer.log_traces is false and no forward endpoint is set",
		Explain: "Completed traces are discarded",
	}
	warnNoRequestBytes = ConfigWarning{
		Message: "receiver.max_request_bytes <= 0",
		Explain: "Every push request with a body is rejected",
	}
)

// CheckConfig checks if config values are suspect and returns a bundled list of warnings and explanation.
func (c *Config) CheckConfig() []ConfigWarning {
	var warnings []ConfigWarning

	if c.SpanCache.SweepPeriod > c.SpanCache.TraceTTL {
		warnings = append(warnings, warnSweepPeriodTooLong)
	}

	if c.SpanCache.FinalizeQueueSize == 0 {
		warnings = append(warnings, warnNoFinalizeQueue)
	}

	if !c.Finalizer.LogTraces && !c.Finalizer.Forwarding() {
		warnings = append(warnings, warnNoFinalizer)
	}

	if c.Receiver.MaxRequestBytes <= 0 {
		warnings = append(warnings, warnNoRequestBytes)
	}

	return warnings
}

// Validate returns the first invalid setting.
func (c *Config) Validate() error {
	if err := c.SpanCache.Validate(); err != nil {
		return err
	}
	return c.Finalizer.Validate()
}
