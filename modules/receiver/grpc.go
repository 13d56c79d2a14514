package receiver

import (
	"context"
	"errors"

	"go.opentelemetry.io/collector/pdata/ptrace/ptraceotlp"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/grafana/spancache/modules/spancache"
	"github.com/grafana/spancache/pkg/model"
)

const protocolOTLPGRPC = "otlp_grpc"

type otlpGRPCServer struct {
	ptraceotlp.UnimplementedGRPCServer

	spans SpanAdder
}

// RegisterGRPC adds the OTLP trace service to s. The dskit server installs the
// otelgrpc server handler, so Export spans join the caller's trace.
func (r *Receiver) RegisterGRPC(s *grpc.Server) {
	ptraceotlp.RegisterGRPCServer(s, &otlpGRPCServer{spans: r.spans})
}

func (o *otlpGRPCServer) Export(ctx context.Context, req ptraceotlp.ExportRequest) (ptraceotlp.ExportResponse, error) {
	_, span := tracer.Start(ctx, "Receiver.Export", trace.WithAttributes(attribute.String("protocol", protocolOTLPGRPC)))
	defer span.End()

	spans := model.FromOTLP(req.Traces())
	metricSpansTotal.WithLabelValues(protocolOTLPGRPC).Add(float64(len(spans)))
	span.SetAttributes(attribute.Int("spans", len(spans)))

	err := o.spans.AddSpans(spans)
	code := codes.OK
	switch {
	case err == nil:
	case errors.Is(err, spancache.ErrNotRunning):
		code = codes.Unavailable
	default:
		code = codes.InvalidArgument
	}
	metricRequestsTotal.WithLabelValues(protocolOTLPGRPC, code.String()).Inc()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return ptraceotlp.NewExportResponse(), status.Error(code, err.Error())
	}
	return ptraceotlp.NewExportResponse(), nil
}
