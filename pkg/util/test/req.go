package test

import (
	"encoding/hex"
	"fmt"
	"math/rand"
	"time"

	zipkinmodel "github.com/openzipkin/zipkin-go/model"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/ptrace"

	"github.com/grafana/spancache/pkg/model"
)

// ValidTraceID returns traceID, or a random 128 bit trace ID in hex if
// traceID is empty.
func ValidTraceID(traceID string) string {
	if traceID != "" {
		return traceID
	}

	id := make([]byte, 16)
	_, _ = rand.Read(id)
	return hex.EncodeToString(id)
}

func MakeSpan(traceID string) *model.Span {
	id := make([]byte, 8)
	_, _ = rand.Read(id)

	return &model.Span{
		TraceID:  ValidTraceID(traceID),
		ID:       hex.EncodeToString(id),
		Name:     "test",
		Service:  "test-service",
		Start:    time.Now(),
		Duration: time.Duration(rand.Intn(1000)) * time.Millisecond,
	}
}

func MakeSpans(count int, traceID string) []*model.Span {
	traceID = ValidTraceID(traceID)

	spans := make([]*model.Span, 0, count)
	for i := 0; i < count; i++ {
		spans = append(spans, MakeSpan(traceID))
	}
	return spans
}

// MakeZipkinSpans returns count zipkin spans of one random trace. The first
// one is the root of the others.
func MakeZipkinSpans(count int) []zipkinmodel.SpanModel {
	traceID := zipkinmodel.TraceID{High: rand.Uint64(), Low: rand.Uint64()}
	root := zipkinmodel.ID(rand.Uint64() | 1)

	spans := make([]zipkinmodel.SpanModel, 0, count)
	for i := 0; i < count; i++ {
		s := zipkinmodel.SpanModel{
			SpanContext: zipkinmodel.SpanContext{
				TraceID: traceID,
				ID:      root + zipkinmodel.ID(i),
			},
			Name:          fmt.Sprintf("span-%d", i),
			Kind:          zipkinmodel.Server,
			Timestamp:     time.Now().Truncate(time.Microsecond),
			Duration:      time.Millisecond,
			LocalEndpoint: &zipkinmodel.Endpoint{ServiceName: "test-service"},
		}
		if i > 0 {
			parent := root
			s.ParentID = &parent
		}
		spans = append(spans, s)
	}
	return spans
}

// MakeOTLPTraces returns otlp traces with spansPerTrace spans for each of
// the given trace IDs.
func MakeOTLPTraces(spansPerTrace int, traceIDs ...[16]byte) ptrace.Traces {
	td := ptrace.NewTraces()
	rs := td.ResourceSpans().AppendEmpty()
	rs.Resource().Attributes().PutStr("service.name", "test-service")
	spans := rs.ScopeSpans().AppendEmpty().Spans()

	now := time.Now()
	for _, traceID := range traceIDs {
		for i := 0; i < spansPerTrace; i++ {
			var spanID [8]byte
			_, _ = rand.Read(spanID[:])

			s := spans.AppendEmpty()
			s.SetTraceID(pcommon.TraceID(traceID))
			s.SetSpanID(pcommon.SpanID(spanID))
			s.SetName(fmt.Sprintf("span-%d", i))
			s.SetStartTimestamp(pcommon.NewTimestampFromTime(now))
			s.SetEndTimestamp(pcommon.NewTimestampFromTime(now.Add(time.Millisecond)))
		}
	}
	return td
}
