package receiver

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/collector/pdata/ptrace/ptraceotlp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/grafana/spancache/pkg/util/test"
)

func findSpan(t *testing.T, sr *tracetest.SpanRecorder, name string) sdktrace.ReadOnlySpan {
	t.Helper()

	for _, s := range sr.Ended() {
		if s.Name() == name {
			return s
		}
	}
	require.Failf(t, "span not found", "no ended span named %q", name)
	return nil
}

func attributes(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	res := map[attribute.Key]attribute.Value{}
	for _, kv := range s.Attributes() {
		res[kv.Key] = kv.Value
	}
	return res
}

// The only test in this package touching the global tracer provider: tracers
// obtained before the first SetTracerProvider delegate to that provider.
func TestPushIsTraced(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))

	t.Run("http", func(t *testing.T) {
		router := newTestRouter(t, &fakeAdder{})

		body, err := json.Marshal(test.MakeZipkinSpans(3))
		require.NoError(t, err)
		rec := do(router, http.MethodPost, PathZipkin, mimeTypeJSON, body)
		require.Equal(t, http.StatusAccepted, rec.Code)

		attrs := attributes(findSpan(t, sr, "Receiver.push"))
		require.Equal(t, protocolZipkin, attrs["protocol"].AsString())
		require.Equal(t, int64(http.StatusAccepted), attrs["status"].AsInt64())
		require.Equal(t, int64(3), attrs["spans"].AsInt64())
	})

	t.Run("grpc", func(t *testing.T) {
		client := newGRPCClient(t, &fakeAdder{})

		td := test.MakeOTLPTraces(2, [16]byte{1})
		_, err := client.Export(context.Background(), ptraceotlp.NewExportRequestFromTraces(td))
		require.NoError(t, err)

		s := findSpan(t, sr, "Receiver.Export")
		require.Equal(t, int64(2), attributes(s)["spans"].AsInt64())
		// child of the otelgrpc server span
		require.True(t, s.Parent().IsValid())
	})
}
