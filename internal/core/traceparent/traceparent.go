// Package traceparent implements the W3C traceparent wire format (spec §4.7,
// §6) used to carry trace identity across process boundaries and to
// reconcile it with dispatch's internal UUID-form trace IDs.
package traceparent

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// TraceParent is a parsed W3C traceparent header.
type TraceParent struct {
	Version  string // 2 hex chars, not "ff"
	TraceID  string // 32 hex chars, not all zero
	ParentID string // 16 hex chars, not all zero
	Flags    string // 2 hex chars
}

// header matches "version-traceid-parentid-flags", each field lowercase hex
// of the fixed width the W3C spec mandates.
var header = regexp.MustCompile(`^([0-9a-f]{2})-([0-9a-f]{32})-([0-9a-f]{16})-([0-9a-f]{2})$`)

const headerName = "traceparent"

// SpanSource supplies the current top-of-stack span ID for Inject, and a
// way to read the shared trace ID and UUID-form trace identifier off a
// call context without traceparent importing the core context package
// (which itself may want to use traceparent.Inject for propagation).
type SpanSource interface {
	// TraceID returns the context's UUID-form trace ID.
	TraceID() string
	// CurrentSpanID returns the top of the tracing span stack, or "" if
	// none is active.
	CurrentSpanID() string
}

// Inject emits the traceparent header value for ctx: "00-<32 hex
// trace-id>-<16 hex parent-id>-01". The 32-hex trace-id is ctx's trace ID
// with dashes removed. The parent-id is the top of the span stack if one
// is active, otherwise a fresh random 64-bit hex value.
func Inject(ctx SpanSource) (string, error) {
	traceHex := strings.ReplaceAll(ctx.TraceID(), "-", "")
	if len(traceHex) != 32 {
		return "", fmt.Errorf("traceparent: trace ID %q does not encode to 32 hex chars", ctx.TraceID())
	}

	parent := ctx.CurrentSpanID()
	if parent == "" {
		var err error
		parent, err = randomHex(8)
		if err != nil {
			return "", fmt.Errorf("traceparent: generating parent id: %w", err)
		}
	}

	return fmt.Sprintf("00-%s-%s-01", traceHex, parent), nil
}

// Extract parses the traceparent header from headers (a simple key lookup;
// callers adapt from http.Header, metadata.MD, etc. by passing a map).
// Returns nil if the header is absent. Returns nil (there is no error
// result) for a malformed or reserved header too — extraction degrades to
// "no trace context available" rather than failing the call, matching
// spec §4.7's "extract(headers) -> TraceParent | null" contract.
func Extract(headers map[string]string) *TraceParent {
	raw, ok := lookup(headers, headerName)
	if !ok {
		return nil
	}
	tp, err := parse(raw)
	if err != nil {
		return nil
	}
	return tp
}

// FromTraceparent is the strict variant: it returns an error instead of
// nil for a malformed or reserved header, for callers that want to
// guarantee validity (spec §4.7).
func FromTraceparent(s string) (*TraceParent, error) {
	return parse(s)
}

func parse(s string) (*TraceParent, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	m := header.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("traceparent: %q does not match the W3C header format", s)
	}

	tp := &TraceParent{Version: m[1], TraceID: m[2], ParentID: m[3], Flags: m[4]}

	if tp.Version == "ff" {
		return nil, fmt.Errorf("traceparent: version \"ff\" is reserved")
	}
	if isAllZero(tp.TraceID) {
		return nil, fmt.Errorf("traceparent: trace-id must not be all zero")
	}
	if isAllZero(tp.ParentID) {
		return nil, fmt.Errorf("traceparent: parent-id must not be all zero")
	}

	return tp, nil
}

func isAllZero(hexStr string) bool {
	for _, r := range hexStr {
		if r != '0' {
			return false
		}
	}
	return true
}

// UUID converts the 32-hex TraceID back into dashed UUID form
// (8-4-4-4-12) so internal logs and the Context's trace ID agree with
// what external systems saw on the wire.
func (tp *TraceParent) UUID() string {
	h := tp.TraceID
	return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:12], h[12:16], h[16:20], h[20:32])
}

// UUIDToHex converts a dashed UUID string back into the 32-hex form used
// on the wire, the inverse of UUID.
func UUIDToHex(uuidStr string) string {
	return strings.ReplaceAll(uuidStr, "-", "")
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func lookup(headers map[string]string, key string) (string, bool) {
	if v, ok := headers[key]; ok {
		return v, true
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}
