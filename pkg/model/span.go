// Package model holds the span record passed between the receivers, the
// trace cache and the finalizers.
package model

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	zipkinmodel "github.com/openzipkin/zipkin-go/model"
	"github.com/pkg/errors"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/ptrace"
)

const serviceNameAttribute = "service.name"

// Span is a single unit of work of a trace. IDs are lower case hex.
type Span struct {
	TraceID  string            `json:"traceId"`
	ID       string            `json:"id"`
	ParentID string            `json:"parentId,omitempty"`
	Name     string            `json:"name,omitempty"`
	Kind     string            `json:"kind,omitempty"`
	Service  string            `json:"service,omitempty"`
	Start    time.Time         `json:"start"`
	Duration time.Duration     `json:"duration"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// End returns the end time of the span.
func (s *Span) End() time.Time {
	return s.Start.Add(s.Duration)
}

func FromZipkin(zs *zipkinmodel.SpanModel) *Span {
	s := &Span{
		TraceID:  zs.TraceID.String(),
		ID:       zs.ID.String(),
		Name:     zs.Name,
		Kind:     string(zs.Kind),
		Start:    zs.Timestamp,
		Duration: zs.Duration,
	}
	if zs.TraceID.Empty() {
		s.TraceID = ""
	}
	if zs.ParentID != nil {
		s.ParentID = zs.ParentID.String()
	}
	if zs.LocalEndpoint != nil {
		s.Service = zs.LocalEndpoint.ServiceName
	}
	if len(zs.Tags) > 0 {
		s.Tags = make(map[string]string, len(zs.Tags))
		for k, v := range zs.Tags {
			s.Tags[k] = v
		}
	}
	return s
}

// ToZipkin converts the span back to the zipkin v2 model. It fails if the IDs
// are not valid hex.
func (s *Span) ToZipkin() (*zipkinmodel.SpanModel, error) {
	traceID, err := zipkinmodel.TraceIDFromHex(s.TraceID)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid trace id %q", s.TraceID)
	}
	id, err := parseID(s.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid span id %q", s.ID)
	}

	zs := &zipkinmodel.SpanModel{
		SpanContext: zipkinmodel.SpanContext{
			TraceID: traceID,
			ID:      id,
		},
		Name:      s.Name,
		Kind:      zipkinmodel.Kind(s.Kind),
		Timestamp: s.Start,
		Duration:  s.Duration,
		Tags:      s.Tags,
	}
	if s.ParentID != "" {
		parentID, err := parseID(s.ParentID)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid parent span id %q", s.ParentID)
		}
		zs.ParentID = &parentID
	}
	if s.Service != "" {
		zs.LocalEndpoint = &zipkinmodel.Endpoint{ServiceName: s.Service}
	}
	return zs, nil
}

func parseID(h string) (zipkinmodel.ID, error) {
	id, err := strconv.ParseUint(h, 16, 64)
	if err != nil {
		return 0, err
	}
	return zipkinmodel.ID(id), nil
}

// FromOTLP flattens every span of td. Spans keep the service name of their
// resource and their attributes as string tags.
func FromOTLP(td ptrace.Traces) []*Span {
	spans := make([]*Span, 0, td.SpanCount())

	rss := td.ResourceSpans()
	for i := 0; i < rss.Len(); i++ {
		rs := rss.At(i)

		var service string
		if v, ok := rs.Resource().Attributes().Get(serviceNameAttribute); ok {
			service = v.AsString()
		}

		sss := rs.ScopeSpans()
		for j := 0; j < sss.Len(); j++ {
			ss := sss.At(j).Spans()
			for k := 0; k < ss.Len(); k++ {
				spans = append(spans, fromOTLPSpan(ss.At(k), service))
			}
		}
	}
	return spans
}

func fromOTLPSpan(span ptrace.Span, service string) *Span {
	s := &Span{
		TraceID: span.TraceID().String(),
		ID:      span.SpanID().String(),
		Name:    span.Name(),
		Kind:    otlpKind(span.Kind()),
		Service: service,
	}
	// zero means unset, keep the zero time rather than the unix epoch
	if span.StartTimestamp() != 0 {
		s.Start = span.StartTimestamp().AsTime()
	}
	if !span.ParentSpanID().IsEmpty() {
		s.ParentID = span.ParentSpanID().String()
	}
	if end := span.EndTimestamp(); span.StartTimestamp() != 0 && end > span.StartTimestamp() {
		s.Duration = end.AsTime().Sub(s.Start)
	}

	if attrs := span.Attributes(); attrs.Len() > 0 {
		s.Tags = make(map[string]string, attrs.Len())
		attrs.Range(func(k string, v pcommon.Value) bool {
			s.Tags[k] = v.AsString()
			return true
		})
	}
	return s
}

// otlpKind maps otlp span kinds onto the zipkin kind names.
func otlpKind(k ptrace.SpanKind) string {
	switch k {
	case ptrace.SpanKindClient:
		return string(zipkinmodel.Client)
	case ptrace.SpanKindServer:
		return string(zipkinmodel.Server)
	case ptrace.SpanKindProducer:
		return string(zipkinmodel.Producer)
	case ptrace.SpanKindConsumer:
		return string(zipkinmodel.Consumer)
	default:
		return string(zipkinmodel.Undetermined)
	}
}

// ToOTLP groups spans by service into otlp resource spans. It fails if an
// ID is not valid hex.
func ToOTLP(spans []*Span) (ptrace.Traces, error) {
	td := ptrace.NewTraces()
	byService := map[string]ptrace.SpanSlice{}

	for _, s := range spans {
		ss, ok := byService[s.Service]
		if !ok {
			rs := td.ResourceSpans().AppendEmpty()
			if s.Service != "" {
				rs.Resource().Attributes().PutStr(serviceNameAttribute, s.Service)
			}
			ss = rs.ScopeSpans().AppendEmpty().Spans()
			byService[s.Service] = ss
		}

		var traceID [16]byte
		if err := decodeHexID(traceID[:], s.TraceID); err != nil {
			return ptrace.Traces{}, errors.Wrapf(err, "invalid trace id %q", s.TraceID)
		}
		var spanID [8]byte
		if err := decodeHexID(spanID[:], s.ID); err != nil {
			return ptrace.Traces{}, errors.Wrapf(err, "invalid span id %q", s.ID)
		}

		span := ss.AppendEmpty()
		span.SetTraceID(pcommon.TraceID(traceID))
		span.SetSpanID(pcommon.SpanID(spanID))
		if s.ParentID != "" {
			var parentID [8]byte
			if err := decodeHexID(parentID[:], s.ParentID); err != nil {
				return ptrace.Traces{}, errors.Wrapf(err, "invalid parent span id %q", s.ParentID)
			}
			span.SetParentSpanID(pcommon.SpanID(parentID))
		}
		span.SetName(s.Name)
		span.SetKind(kindToOTLP(s.Kind))
		// zipkin spans may come without a timestamp, leave both unset
		if !s.Start.IsZero() {
			span.SetStartTimestamp(pcommon.NewTimestampFromTime(s.Start))
			span.SetEndTimestamp(pcommon.NewTimestampFromTime(s.End()))
		}
		for k, v := range s.Tags {
			span.Attributes().PutStr(k, v)
		}
	}
	return td, nil
}

// decodeHexID decodes h into dst, left padding shorter IDs with zeros.
func decodeHexID(dst []byte, h string) error {
	if h == "" || len(h) > 2*len(dst) {
		return fmt.Errorf("expected 1 to %d hex characters, got %d", 2*len(dst), len(h))
	}
	h = strings.Repeat("0", 2*len(dst)-len(h)) + h
	_, err := hex.Decode(dst, []byte(h))
	return err
}

func kindToOTLP(kind string) ptrace.SpanKind {
	switch zipkinmodel.Kind(kind) {
	case zipkinmodel.Client:
		return ptrace.SpanKindClient
	case zipkinmodel.Server:
		return ptrace.SpanKindServer
	case zipkinmodel.Producer:
		return ptrace.SpanKindProducer
	case zipkinmodel.Consumer:
		return ptrace.SpanKindConsumer
	default:
		return ptrace.SpanKindUnspecified
	}
}

// Services returns the distinct, sorted service names of spans.
func Services(spans []*Span) []string {
	seen := map[string]struct{}{}
	for _, s := range spans {
		if s.Service == "" {
			continue
		}
		seen[s.Service] = struct{}{}
	}

	res := make([]string, 0, len(seen))
	for svc := range seen {
		res = append(res, svc)
	}
	sort.Strings(res)
	return res
}

// Bounds returns the earliest start and the latest end of spans. Spans
// without a start time are ignored.
func Bounds(spans []*Span) (start, end time.Time) {
	for _, s := range spans {
		if s.Start.IsZero() {
			continue
		}
		if start.IsZero() || s.Start.Before(start) {
			start = s.Start
		}
		if e := s.End(); end.IsZero() || e.After(end) {
			end = e
		}
	}
	return start, end
}
