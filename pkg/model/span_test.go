package model

import (
	"testing"
	"time"

	zipkinmodel "github.com/openzipkin/zipkin-go/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/ptrace"
)

func TestZipkinRoundTrip(t *testing.T) {
	parent := zipkinmodel.ID(0x1)
	start := time.Unix(1600000000, 0).UTC()

	zs := &zipkinmodel.SpanModel{
		SpanContext: zipkinmodel.SpanContext{
			TraceID:  zipkinmodel.TraceID{High: 0xa, Low: 0xb},
			ID:       zipkinmodel.ID(0x2),
			ParentID: &parent,
		},
		Name:          "get /api",
		Kind:          zipkinmodel.Server,
		Timestamp:     start,
		Duration:      150 * time.Millisecond,
		LocalEndpoint: &zipkinmodel.Endpoint{ServiceName: "frontend"},
		Tags:          map[string]string{"http.method": "GET"},
	}

	s := FromZipkin(zs)
	assert.Equal(t, "000000000000000a000000000000000b", s.TraceID)
	assert.Equal(t, "0000000000000002", s.ID)
	assert.Equal(t, "0000000000000001", s.ParentID)
	assert.Equal(t, "get /api", s.Name)
	assert.Equal(t, "SERVER", s.Kind)
	assert.Equal(t, "frontend", s.Service)
	assert.Equal(t, start, s.Start)
	assert.Equal(t, start.Add(150*time.Millisecond), s.End())
	assert.Equal(t, map[string]string{"http.method": "GET"}, s.Tags)

	// tags are copied
	zs.Tags["http.method"] = "POST"
	assert.Equal(t, "GET", s.Tags["http.method"])

	back, err := s.ToZipkin()
	require.NoError(t, err)
	assert.Equal(t, zs.TraceID, back.TraceID)
	assert.Equal(t, zs.ID, back.ID)
	require.NotNil(t, back.ParentID)
	assert.Equal(t, parent, *back.ParentID)
	assert.Equal(t, zs.Name, back.Name)
	assert.Equal(t, zs.Kind, back.Kind)
	assert.Equal(t, "frontend", back.LocalEndpoint.ServiceName)
}

func TestFromZipkinRootSpan(t *testing.T) {
	zs := &zipkinmodel.SpanModel{
		SpanContext: zipkinmodel.SpanContext{
			TraceID: zipkinmodel.TraceID{Low: 0xff},
			ID:      zipkinmodel.ID(0x1),
		},
	}

	s := FromZipkin(zs)
	assert.Equal(t, "00000000000000ff", s.TraceID)
	assert.Empty(t, s.ParentID)
	assert.Empty(t, s.Service)
	assert.Nil(t, s.Tags)

	back, err := s.ToZipkin()
	require.NoError(t, err)
	assert.Nil(t, back.ParentID)
	assert.Nil(t, back.LocalEndpoint)
}

func TestFromZipkinEmptyTraceID(t *testing.T) {
	s := FromZipkin(&zipkinmodel.SpanModel{
		SpanContext: zipkinmodel.SpanContext{ID: zipkinmodel.ID(1)},
	})
	assert.Empty(t, s.TraceID)
}

func TestToZipkinInvalidIDs(t *testing.T) {
	tests := []struct {
		name string
		span Span
	}{
		{
			name: "trace id",
			span: Span{TraceID: "not-hex", ID: "01"},
		},
		{
			name: "span id",
			span: Span{TraceID: "0a", ID: "zz"},
		},
		{
			name: "parent id",
			span: Span{TraceID: "0a", ID: "01", ParentID: "zz"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.span.ToZipkin()
			require.Error(t, err)
		})
	}
}

func TestFromOTLP(t *testing.T) {
	start := time.Unix(1600000000, 0).UTC()

	td := ptrace.NewTraces()
	rs := td.ResourceSpans().AppendEmpty()
	rs.Resource().Attributes().PutStr(serviceNameAttribute, "checkout")

	spans := rs.ScopeSpans().AppendEmpty().Spans()
	root := spans.AppendEmpty()
	root.SetTraceID(pcommon.TraceID([16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}))
	root.SetSpanID(pcommon.SpanID([8]byte{1, 1, 1, 1, 1, 1, 1, 1}))
	root.SetName("checkout")
	root.SetKind(ptrace.SpanKindServer)
	root.SetStartTimestamp(pcommon.NewTimestampFromTime(start))
	root.SetEndTimestamp(pcommon.NewTimestampFromTime(start.Add(time.Second)))
	root.Attributes().PutStr("http.method", "POST")
	root.Attributes().PutInt("http.status_code", 200)

	child := spans.AppendEmpty()
	child.SetTraceID(root.TraceID())
	child.SetSpanID(pcommon.SpanID([8]byte{2, 2, 2, 2, 2, 2, 2, 2}))
	child.SetParentSpanID(root.SpanID())
	child.SetName("db")
	child.SetKind(ptrace.SpanKindClient)
	child.SetStartTimestamp(pcommon.NewTimestampFromTime(start))

	other := td.ResourceSpans().AppendEmpty()
	orphan := other.ScopeSpans().AppendEmpty().Spans().AppendEmpty()
	orphan.SetTraceID(pcommon.TraceID([16]byte{0xff}))
	orphan.SetSpanID(pcommon.SpanID([8]byte{3}))

	got := FromOTLP(td)
	require.Len(t, got, 3)

	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", got[0].TraceID)
	assert.Equal(t, "0101010101010101", got[0].ID)
	assert.Empty(t, got[0].ParentID)
	assert.Equal(t, "SERVER", got[0].Kind)
	assert.Equal(t, "checkout", got[0].Service)
	assert.Equal(t, time.Second, got[0].Duration)
	assert.Equal(t, map[string]string{"http.method": "POST", "http.status_code": "200"}, got[0].Tags)

	assert.Equal(t, got[0].TraceID, got[1].TraceID)
	assert.Equal(t, "0101010101010101", got[1].ParentID)
	assert.Equal(t, "CLIENT", got[1].Kind)
	assert.Equal(t, time.Duration(0), got[1].Duration)
	assert.Nil(t, got[1].Tags)

	assert.Equal(t, "ff000000000000000000000000000000", got[2].TraceID)
	assert.Empty(t, got[2].Service)
	assert.Equal(t, "", got[2].Kind)
}

func TestFromOTLPEmptyTraceID(t *testing.T) {
	td := ptrace.NewTraces()
	td.ResourceSpans().AppendEmpty().ScopeSpans().AppendEmpty().Spans().AppendEmpty()

	got := FromOTLP(td)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].TraceID)
}

func TestServicesAndBounds(t *testing.T) {
	start := time.Unix(100, 0)
	spans := []*Span{
		{Service: "b", Start: start.Add(time.Second), Duration: 5 * time.Second},
		{Service: "a", Start: start, Duration: time.Second},
		{Service: "b", Start: start.Add(2 * time.Second), Duration: time.Second},
		{Start: start.Add(time.Second)},
	}

	assert.Equal(t, []string{"a", "b"}, Services(spans))

	s, e := Bounds(spans)
	assert.Equal(t, start, s)
	assert.Equal(t, start.Add(6*time.Second), e)

	s, e = Bounds(nil)
	assert.True(t, s.IsZero())
	assert.True(t, e.IsZero())
}

func TestToOTLP(t *testing.T) {
	start := time.Unix(1600000000, 0).UTC()
	spans := []*Span{
		{
			TraceID:  "0102030405060708090a0b0c0d0e0f10",
			ID:       "0101010101010101",
			Name:     "checkout",
			Kind:     "SERVER",
			Service:  "checkout",
			Start:    start,
			Duration: time.Second,
			Tags:     map[string]string{"http.method": "POST"},
		},
		{
			TraceID:  "0102030405060708090a0b0c0d0e0f10",
			ID:       "0202020202020202",
			ParentID: "0101010101010101",
			Name:     "db",
			Kind:     "CLIENT",
			Service:  "db",
			Start:    start,
		},
		{
			TraceID: "0102030405060708090a0b0c0d0e0f10",
			ID:      "ff",
			Service: "checkout",
			Start:   start,
		},
	}

	td, err := ToOTLP(spans)
	require.NoError(t, err)
	require.Equal(t, 3, td.SpanCount())
	require.Equal(t, 2, td.ResourceSpans().Len())

	// back to the span model, grouped by service
	got := FromOTLP(td)
	require.Len(t, got, 3)

	assert.Equal(t, spans[0], got[0])
	assert.Equal(t, "00000000000000ff", got[1].ID)
	assert.Equal(t, "checkout", got[1].Service)
	assert.Equal(t, spans[1].ParentID, got[2].ParentID)
	assert.Equal(t, "CLIENT", got[2].Kind)
	assert.Equal(t, "db", got[2].Service)
}

func TestToOTLPInvalidIDs(t *testing.T) {
	tests := []struct {
		name string
		span Span
	}{
		{name: "trace id", span: Span{TraceID: "xyz", ID: "01"}},
		{name: "empty span id", span: Span{TraceID: "0a"}},
		{name: "long span id", span: Span{TraceID: "0a", ID: "010203040506070809"}},
		{name: "parent id", span: Span{TraceID: "0a", ID: "01", ParentID: "zz"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ToOTLP([]*Span{&tc.span})
			require.Error(t, err)
		})
	}
}

func TestToOTLPWithoutTimestamp(t *testing.T) {
	// zipkin v2 allows spans without a timestamp
	s := FromZipkin(&zipkinmodel.SpanModel{
		SpanContext: zipkinmodel.SpanContext{
			TraceID: zipkinmodel.TraceID{Low: 0x2},
			ID:      zipkinmodel.ID(0x3),
		},
		Name: "x",
	})
	require.True(t, s.Start.IsZero())

	td, err := ToOTLP([]*Span{s})
	require.NoError(t, err)
	require.Equal(t, 1, td.SpanCount())

	span := td.ResourceSpans().At(0).ScopeSpans().At(0).Spans().At(0)
	assert.Equal(t, pcommon.Timestamp(0), span.StartTimestamp())
	assert.Equal(t, pcommon.Timestamp(0), span.EndTimestamp())

	back := FromOTLP(td)
	require.Len(t, back, 1)
	assert.True(t, back[0].Start.IsZero())
	assert.Equal(t, time.Duration(0), back[0].Duration)
}

func TestBoundsIgnoresSpansWithoutStart(t *testing.T) {
	start := time.Unix(100, 0)
	spans := []*Span{
		{Name: "no timestamp"},
		{Start: start, Duration: time.Second},
		{Name: "no timestamp", Duration: time.Hour},
	}

	s, e := Bounds(spans)
	assert.Equal(t, start, s)
	assert.Equal(t, start.Add(time.Second), e)

	s, e = Bounds([]*Span{{Name: "no timestamp"}})
	assert.True(t, s.IsZero())
	assert.True(t, e.IsZero())
}
