package finalizer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/grafana/spancache/pkg/util/log"
)

var tracer = otel.Tracer("pkg/finalizer")

var metricForwardRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "spancache",
	Name:      "forwarder_requests_total",
	Help:      "The total number of forward requests by forwarder and result.",
}, []string{"forwarder", "result"})

// retrier sends with backoff behind a circuit breaker. Errors the downstream
// will keep returning, like 4xx responses, are neither retried nor counted
// against the breaker.
type retrier struct {
	name    string
	backoff backoff.Config
	breaker *gobreaker.CircuitBreaker
}

func newRetrier(name string, cfg Config) *retrier {
	r := &retrier{
		name:    name,
		backoff: cfg.Backoff,
	}
	if cfg.BreakerFailures > 0 {
		r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !retryable(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				level.Warn(log.Logger).Log("msg", "forwarder circuit breaker changed state", "forwarder", name, "from", from, "to", to)
			},
		})
	}
	return r
}

func (r *retrier) do(ctx context.Context, traceID string, send func(context.Context) error) (err error) {
	ctx, span := tracer.Start(ctx, "Forwarder.forward", trace.WithAttributes(
		attribute.String("forwarder", r.name),
		attribute.String("forwarded_trace_id", traceID),
	))
	attempts := 0
	defer func() {
		span.SetAttributes(attribute.Int("attempts", attempts))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
		}
		span.End()
	}()

	var lastErr error

	b := backoff.New(ctx, r.backoff)
	for b.Ongoing() {
		attempts++
		err := r.execute(ctx, send)
		if err == nil {
			metricForwardRequestsTotal.WithLabelValues(r.name, "success").Inc()
			return nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metricForwardRequestsTotal.WithLabelValues(r.name, "rejected").Inc()
			return errors.Wrapf(err, "failed to forward trace %s", traceID)
		}

		metricForwardRequestsTotal.WithLabelValues(r.name, "failure").Inc()
		if !retryable(err) {
			return errors.Wrapf(err, "failed to forward trace %s", traceID)
		}

		level.Warn(log.Logger).Log("msg", "failed to forward trace, retrying", "forwarder", r.name, "traceID", traceID, "err", err, "backoff", b.NextDelay())
		b.Wait()
	}

	return errors.Wrapf(multierr.Combine(lastErr, b.Err()), "failed to forward trace %s", traceID)
}

func (r *retrier) execute(ctx context.Context, send func(context.Context) error) error {
	if r.breaker == nil {
		return send(ctx)
	}
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, send(ctx)
	})
	return err
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// retryable reports whether sending again may succeed.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code/100 == 5
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted:
			return true
		default:
			return false
		}
	}

	// network errors and timeouts
	return true
}
