package traceparent

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSpanSource struct {
	traceID string
	spanID  string
}

func (f fixedSpanSource) TraceID() string      { return f.traceID }
func (f fixedSpanSource) CurrentSpanID() string { return f.spanID }

func TestInject_WithActiveSpan(t *testing.T) {
	src := fixedSpanSource{
		traceID: "4bf92f35-77b3-4da6-a3ce-929d0e0e4736",
		spanID:  "00f067aa0ba902b7",
	}

	header, err := Inject(src)
	require.NoError(t, err)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", header)
}

func TestInject_GeneratesRandomParentWhenNoSpanActive(t *testing.T) {
	src := fixedSpanSource{traceID: "4bf92f35-77b3-4da6-a3ce-929d0e0e4736"}

	header, err := Inject(src)
	require.NoError(t, err)

	tp, err := FromTraceparent(header)
	require.NoError(t, err)
	assert.NotEqual(t, "0000000000000000", tp.ParentID)
	assert.Len(t, tp.ParentID, 16)
}

func TestInject_GoldenHeaderFormat(t *testing.T) {
	src := fixedSpanSource{
		traceID: "4bf92f35-77b3-4da6-a3ce-929d0e0e4736",
		spanID:  "00f067aa0ba902b7",
	}
	header, err := Inject(src)
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
	g.Assert(t, "traceparent_header", []byte(header))
}

func TestExtract_ValidHeader(t *testing.T) {
	headers := map[string]string{
		"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	}
	tp := Extract(headers)
	require.NotNil(t, tp)
	assert.Equal(t, "00", tp.Version)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", tp.TraceID)
	assert.Equal(t, "00f067aa0ba902b7", tp.ParentID)
}

func TestExtract_CaseInsensitiveHeaderLookup(t *testing.T) {
	headers := map[string]string{
		"Traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	}
	tp := Extract(headers)
	require.NotNil(t, tp)
}

func TestExtract_MissingHeaderReturnsNil(t *testing.T) {
	assert.Nil(t, Extract(map[string]string{}))
}

func TestExtract_MalformedHeaderReturnsNil(t *testing.T) {
	assert.Nil(t, Extract(map[string]string{"traceparent": "not-a-traceparent"}))
}

func TestFromTraceparent_RejectsReservedVersion(t *testing.T) {
	_, err := FromTraceparent("ff-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	assert.Error(t, err)
}

func TestFromTraceparent_RejectsAllZeroTraceID(t *testing.T) {
	_, err := FromTraceparent("00-00000000000000000000000000000000-00f067aa0ba902b7-01")
	assert.Error(t, err)
}

func TestFromTraceparent_RejectsAllZeroParentID(t *testing.T) {
	_, err := FromTraceparent("00-4bf92f3577b34da6a3ce929d0e0e4736-0000000000000000-01")
	assert.Error(t, err)
}

func TestUUID_RoundTripsThroughHexAndBack(t *testing.T) {
	original := "4bf92f35-77b3-4da6-a3ce-929d0e0e4736"
	hexForm := UUIDToHex(original)
	tp := &TraceParent{TraceID: hexForm}
	assert.Equal(t, original, tp.UUID())
}

func TestInjectExtractRoundTrip_PreservesTraceID(t *testing.T) {
	original := "4bf92f35-77b3-4da6-a3ce-929d0e0e4736"
	src := fixedSpanSource{traceID: original, spanID: "00f067aa0ba902b7"}

	header, err := Inject(src)
	require.NoError(t, err)

	tp := Extract(map[string]string{"traceparent": header})
	require.NotNil(t, tp)
	assert.Equal(t, original, tp.UUID())
}
