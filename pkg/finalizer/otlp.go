package finalizer

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/collector/pdata/ptrace/ptraceotlp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/grafana/spancache/pkg/model"
)

// OTLPForwarder exports completed traces to an OTLP gRPC endpoint.
type OTLPForwarder struct {
	timeout time.Duration
	conn    *grpc.ClientConn
	client  ptraceotlp.GRPCClient
	retrier *retrier
}

// NewOTLPForwarder creates the client connection. Connecting happens lazily
// on the first export.
func NewOTLPForwarder(cfg Config, opts ...grpc.DialOption) (*OTLPForwarder, error) {
	var creds credentials.TransportCredentials
	if cfg.OTLP.Insecure {
		creds = insecure.NewCredentials()
	} else {
		var err error
		creds, err = credentials.NewClientTLSFromFile(cfg.OTLP.CertFile, "")
		if err != nil {
			return nil, fmt.Errorf("failed to load otlp tls certificate: %w", err)
		}
	}

	opts = append(opts,
		grpc.WithTransportCredentials(creds),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	conn, err := grpc.NewClient(cfg.OTLP.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp grpc client: %w", err)
	}

	return &OTLPForwarder{
		timeout: cfg.ForwardTimeout,
		conn:    conn,
		client:  ptraceotlp.NewGRPCClient(conn),
		retrier: newRetrier("otlp", cfg),
	}, nil
}

func (f *OTLPForwarder) Finalize(ctx context.Context, tr *Trace) error {
	td, err := model.ToOTLP(tr.Spans)
	if err != nil {
		return errors.Wrapf(err, "trace %s", tr.ID)
	}
	req := ptraceotlp.NewExportRequestFromTraces(td)

	return f.retrier.do(ctx, tr.ID, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()

		_, err := f.client.Export(ctx, req)
		return err
	})
}

func (f *OTLPForwarder) Close() error {
	return f.conn.Close()
}
