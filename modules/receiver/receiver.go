// Package receiver accepts spans over HTTP in the zipkin v2 JSON and OTLP
// encodings and adds them to the span cache.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	zipkinmodel "github.com/openzipkin/zipkin-go/model"
	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/grafana/spancache/modules/spancache"
	"github.com/grafana/spancache/pkg/model"
	"github.com/grafana/spancache/pkg/util/log"
)

const (
	PathZipkin = "/api/v2/spans"
	PathOTLP   = "/v1/traces"

	protocolZipkin = "zipkin"
	protocolOTLP   = "otlp_http"

	headerContentType     = "Content-Type"
	headerContentEncoding = "Content-Encoding"
	mimeTypeJSON          = "application/json"
	mimeTypeProtobuf      = "application/x-protobuf"
)

var (
	metricRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spancache",
		Name:      "receiver_requests_total",
		Help:      "The total number of push requests by protocol and response status.",
	}, []string{"protocol", "status"})
	metricSpansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spancache",
		Name:      "receiver_spans_total",
		Help:      "The total number of spans decoded from push requests.",
	}, []string{"protocol"})

	json = jsoniter.ConfigCompatibleWithStandardLibrary

	tracer = otel.Tracer("modules/receiver")
)

// SpanAdder is where decoded spans go.
type SpanAdder interface {
	AddSpans(spans []*model.Span) error
}

type Receiver struct {
	cfg   Config
	spans SpanAdder
}

func New(cfg Config, spans SpanAdder) *Receiver {
	return &Receiver{
		cfg:   cfg,
		spans: spans,
	}
}

// RegisterRoutes adds the push endpoints to router.
func (r *Receiver) RegisterRoutes(router *mux.Router) {
	router.Handle(PathZipkin, r.handler(protocolZipkin, decodeZipkin))
	router.Handle(PathOTLP, r.handler(protocolOTLP, decodeOTLP))
}

type decodeFunc func(contentType string, body []byte) ([]*model.Span, error)

func (r *Receiver) handler(protocol string, decode decodeFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx, span := tracer.Start(req.Context(), "Receiver.push", trace.WithAttributes(attribute.String("protocol", protocol)))
		defer span.End()

		status, err := r.push(ctx, w, req, decode, protocol)
		metricRequestsTotal.WithLabelValues(protocol, strconv.Itoa(status)).Inc()
		span.SetAttributes(attribute.Int("status", status))

		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			level.Debug(log.Logger).Log("msg", "push request failed", "protocol", protocol, "status", status, "err", err)
			http.Error(w, err.Error(), status)
			return
		}
		w.WriteHeader(status)
	})
}

func (r *Receiver) push(ctx context.Context, w http.ResponseWriter, req *http.Request, decode decodeFunc, protocol string) (int, error) {
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		return http.StatusMethodNotAllowed, errors.New("method not allowed")
	}

	body, err := r.readBody(w, req)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			return http.StatusRequestEntityTooLarge, err
		}
		return http.StatusBadRequest, err
	}

	spans, err := decode(mediaType(req.Header.Get(headerContentType)), body)
	if err != nil {
		return http.StatusBadRequest, err
	}
	metricSpansTotal.WithLabelValues(protocol).Add(float64(len(spans)))
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("spans", len(spans)))

	if err := r.spans.AddSpans(spans); err != nil {
		if errors.Is(err, spancache.ErrNotRunning) {
			return http.StatusServiceUnavailable, err
		}
		return http.StatusBadRequest, err
	}

	return http.StatusAccepted, nil
}

var errBodyTooLarge = errors.New("request body too large")

// readBody reads the request body, decompressing it according to its
// Content-Encoding. The limit applies to both the encoded and the decoded size.
func (r *Receiver) readBody(w http.ResponseWriter, req *http.Request) ([]byte, error) {
	limit := r.cfg.MaxRequestBytes
	var body io.Reader = http.MaxBytesReader(w, req.Body, limit)

	switch enc := req.Header.Get(headerContentEncoding); enc {
	case "", "identity":
	case "gzip":
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, readError(err, limit)
		}
		defer gz.Close()
		body = gz
	case "zstd":
		dec, err := zstd.NewReader(body)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "failed to create zstd reader")
		}
		defer dec.Close()
		body = dec
	default:
		return nil, pkgerrors.Errorf("unsupported content encoding %q", enc)
	}

	buf, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, readError(err, limit)
	}
	if int64(len(buf)) > limit {
		return nil, readError(errBodyTooLarge, limit)
	}
	return buf, nil
}

func readError(err error, limit int64) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) || errors.Is(err, errBodyTooLarge) {
		return fmt.Errorf("%w: limit is %s", errBodyTooLarge, humanize.Bytes(uint64(max(limit, 0))))
	}
	return pkgerrors.Wrap(err, "failed to read request body")
}

func decodeZipkin(_ string, body []byte) ([]*model.Span, error) {
	var zs []zipkinmodel.SpanModel
	if err := json.Unmarshal(body, &zs); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to decode zipkin spans")
	}

	spans := make([]*model.Span, 0, len(zs))
	for i := range zs {
		spans = append(spans, model.FromZipkin(&zs[i]))
	}
	return spans, nil
}

func decodeOTLP(contentType string, body []byte) ([]*model.Span, error) {
	var (
		td  ptrace.Traces
		err error
	)

	switch contentType {
	case mimeTypeJSON:
		td, err = (&ptrace.JSONUnmarshaler{}).UnmarshalTraces(body)
	case mimeTypeProtobuf, "":
		td, err = (&ptrace.ProtoUnmarshaler{}).UnmarshalTraces(body)
	default:
		return nil, pkgerrors.Errorf("unsupported content type %q", contentType)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to decode otlp traces")
	}

	return model.FromOTLP(td), nil
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return contentType
	}
	return mt
}
