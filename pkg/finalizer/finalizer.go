// Package finalizer contains the consumers of completed traces.
package finalizer

import (
	"context"
	"io"
	"strings"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/multierr"

	"github.com/grafana/spancache/pkg/model"
	"github.com/grafana/spancache/pkg/tracecache"
)

type Trace = tracecache.EvictedTrace[*model.Span]

// New returns the finalizers enabled in cfg combined into one. Close releases
// their connections.
func New(cfg Config, logger kitlog.Logger) (Multi, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var m Multi
	if cfg.LogTraces {
		m = append(m, NewLogger(logger))
	}
	if cfg.ForwardEndpoint != "" {
		m = append(m, NewForwarder(cfg))
	}
	if cfg.OTLP.Endpoint != "" {
		f, err := NewOTLPForwarder(cfg)
		if err != nil {
			return nil, multierr.Append(err, m.Close())
		}
		m = append(m, f)
	}
	return m, nil
}

// Multi hands every trace to each of its finalizers.
type Multi []tracecache.Finalizer[*model.Span]

func (m Multi) Finalize(ctx context.Context, tr *Trace) error {
	var errs error
	for _, f := range m {
		errs = multierr.Append(errs, f.Finalize(ctx, tr))
	}
	return errs
}

// Close closes every finalizer holding a connection.
func (m Multi) Close() error {
	var errs error
	for _, f := range m {
		if c, ok := f.(io.Closer); ok {
			errs = multierr.Append(errs, c.Close())
		}
	}
	return errs
}

// Logger logs a summary line for each trace.
type Logger struct {
	logger kitlog.Logger
}

func NewLogger(logger kitlog.Logger) *Logger {
	return &Logger{logger: logger}
}

func (l *Logger) Finalize(_ context.Context, tr *Trace) error {
	start, end := model.Bounds(tr.Spans)

	level.Info(l.logger).Log(
		"msg", "trace completed",
		"traceID", tr.ID,
		"reason", tr.Reason.String(),
		"spans", len(tr.Spans),
		"services", strings.Join(model.Services(tr.Spans), ","),
		"duration", end.Sub(start),
		"age", tr.Evicted.Sub(tr.Created),
	)
	return nil
}
