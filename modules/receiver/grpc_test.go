package receiver

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.opentelemetry.io/collector/pdata/ptrace/ptraceotlp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/grafana/spancache/modules/spancache"
	"github.com/grafana/spancache/pkg/util/test"
)

func newGRPCClient(t *testing.T, adder SpanAdder) ptraceotlp.GRPCClient {
	t.Helper()

	const size = 1024 * 1024
	l := bufconn.Listen(size)

	s := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	New(Config{MaxRequestBytes: size}, adder).RegisterGRPC(s)
	go func() {
		_ = s.Serve(l)
	}()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return l.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, conn.Close())
	})

	return ptraceotlp.NewGRPCClient(conn)
}

func TestOTLPGRPCExport(t *testing.T) {
	adder := &fakeAdder{}
	client := newGRPCClient(t, adder)

	td := test.MakeOTLPTraces(3, [16]byte{1}, [16]byte{2})
	_, err := client.Export(context.Background(), ptraceotlp.NewExportRequestFromTraces(td))
	require.NoError(t, err)

	require.Len(t, adder.spans, 6)
	require.Equal(t, "01000000000000000000000000000000", adder.spans[0].TraceID)
	require.Equal(t, "test-service", adder.spans[5].Service)
}

func TestOTLPGRPCExportErrors(t *testing.T) {
	td := ptrace.NewTraces()
	td.ResourceSpans().AppendEmpty().ScopeSpans().AppendEmpty().Spans().AppendEmpty()

	client := newGRPCClient(t, &fakeAdder{})
	_, err := client.Export(context.Background(), ptraceotlp.NewExportRequestFromTraces(td))
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	client = newGRPCClient(t, &fakeAdder{err: spancache.ErrNotRunning})
	_, err = client.Export(context.Background(), ptraceotlp.NewExportRequestFromTraces(test.MakeOTLPTraces(1, [16]byte{1})))
	require.Equal(t, codes.Unavailable, status.Code(err))
}
