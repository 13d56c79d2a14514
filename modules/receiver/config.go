package receiver

import (
	"flag"

	"github.com/grafana/spancache/pkg/util"
)

const defaultMaxRequestBytes = 10 << 20

type Config struct {
	MaxRequestBytes int64 `yaml:"max_request_bytes"`
}

// RegisterFlagsAndApplyDefaults registers the flags.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.Int64Var(&cfg.MaxRequestBytes, util.PrefixConfig(prefix, "max-request-bytes"), defaultMaxRequestBytes, "Maximum size of a push request body in bytes.")
}
