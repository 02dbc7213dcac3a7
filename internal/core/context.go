package core

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dispatchkit/core/internal/core/traceparent"
)

// CancelToken is a cooperative cancellation flag shared by every context in
// a trace. Tripping it (via Cancel) is observed by the executor before
// execution and may be polled by a module's own Execute implementation.
type CancelToken struct {
	mu        sync.Mutex
	cancelled bool
	reason    string
}

// NewCancelToken returns an untripped token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel trips the token. Safe to call more than once; only the first
// reason sticks.
func (c *CancelToken) Cancel(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cancelled {
		c.cancelled = true
		c.reason = reason
	}
}

// Cancelled reports whether the token has been tripped.
func (c *CancelToken) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// Reason returns the reason passed to the first Cancel call, or "".
func (c *CancelToken) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Context carries trace identity and per-call state through a dispatch
// tree (spec §3). Context.data and Context.cancelToken are shared by
// reference across every Context derived from the same root, by design:
// middleware keeps span/timing stacks in data without plumbing them
// through every call site.
type Context struct {
	traceID       string
	callerID      string
	callChain     []string
	identity      *Identity
	redactedInputs map[string]any

	mu   *sync.Mutex
	data map[string]any

	cancelToken *CancelToken
}

// CreateOptions configures a root Context.
type CreateOptions struct {
	Identity    *Identity
	TraceParent string // optional W3C traceparent header to continue
}

// Create builds a root Context: a fresh trace ID (UUIDv7, time-sortable),
// or — if TraceParent is supplied — the UUID form of its 32-hex trace-id,
// so dispatch's logs agree with whatever upstream system emitted the
// header.
func Create(opts CreateOptions) (*Context, error) {
	traceID := uuid.Must(uuid.NewV7()).String()

	if opts.TraceParent != "" {
		tp, err := traceparent.FromTraceparent(opts.TraceParent)
		if err != nil {
			return nil, err
		}
		traceID = tp.UUID()
	}

	return &Context{
		traceID:     traceID,
		identity:    opts.Identity,
		mu:          &sync.Mutex{},
		data:        make(map[string]any),
		cancelToken: NewCancelToken(),
	}, nil
}

// Child derives a context for invoking moduleID from parent. The new
// context's callChain is parent's callChain with moduleID appended;
// callerID becomes the last element of parent's callChain (or "" if
// parent's chain is empty, i.e. parent is a root context and this is a
// top-level call); data and
// cancelToken are the same map/token as parent's, by reference.
// redactedInputs resets to nil: it is set fresh at validation time for
// each level (spec invariant: "reset per level").
func (c *Context) Child(moduleID string) *Context {
	chain := make([]string, len(c.callChain)+1)
	copy(chain, c.callChain)
	chain[len(chain)-1] = moduleID

	callerID := ""
	if len(c.callChain) > 0 {
		callerID = c.callChain[len(c.callChain)-1]
	}

	return &Context{
		traceID:     c.traceID,
		callerID:    callerID,
		callChain:   chain,
		identity:    c.identity,
		mu:          c.mu,
		data:        c.data,
		cancelToken: c.cancelToken,
	}
}

// TraceID returns the UUID-form trace ID stable for the whole call tree.
func (c *Context) TraceID() string { return c.traceID }

// CallerID returns the module that initiated this call, or "" for a root
// context and for a top-level call derived from one (external caller).
func (c *Context) CallerID() string { return c.callerID }

// CallChain returns a snapshot of the ordered module IDs from root to the
// current call, inclusive.
func (c *Context) CallChain() []string {
	out := make([]string, len(c.callChain))
	copy(out, c.callChain)
	return out
}

// Identity returns the acting identity, or nil for an anonymous/external
// caller.
func (c *Context) Identity() *Identity { return c.identity }

// CancelToken returns the trace-wide cancellation token.
func (c *Context) CancelToken() *CancelToken { return c.cancelToken }

// RedactedInputs returns the inputs recorded by SetRedactedInputs for this
// specific context level, or nil if validation hasn't run yet at this
// level.
func (c *Context) RedactedInputs() map[string]any { return c.redactedInputs }

// SetRedactedInputs records the redacted view of this call's inputs,
// computed by the executor at validation time (spec §4.1 step 6). It is
// local to this context value, not shared across the trace.
func (c *Context) SetRedactedInputs(redacted map[string]any) {
	c.redactedInputs = redacted
}

// DataGet reads key from the trace-shared data map.
func (c *Context) DataGet(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

// DataSet writes key into the trace-shared data map, visible to every
// context derived from the same root (parent and children alike).
// Framework-internal keys are prefixed with "_" by convention (spec §5);
// user-facing serialization must strip them (see DataPublic).
func (c *Context) DataSet(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

// DataPublic returns a snapshot of the shared data map with
// underscore-prefixed (framework-internal) keys stripped, suitable for
// JSON serialization back to a caller.
func (c *Context) DataPublic() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.data))
	for k, v := range c.data {
		if strings.HasPrefix(k, "_") {
			continue
		}
		out[k] = v
	}
	return out
}

// PushSpan pushes a span ID onto the "_tracing_spans" stack kept in the
// shared data map, used by the traceparent codec's Inject to find the
// current parent-id.
func (c *Context) PushSpan(spanID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stack, _ := c.data["_tracing_spans"].([]string)
	c.data["_tracing_spans"] = append(stack, spanID)
}

// PopSpan pops the most recently pushed span ID, if any.
func (c *Context) PopSpan() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stack, _ := c.data["_tracing_spans"].([]string)
	if len(stack) == 0 {
		return "", false
	}
	top := stack[len(stack)-1]
	c.data["_tracing_spans"] = stack[:len(stack)-1]
	return top, true
}

// CurrentSpanID implements traceparent.SpanSource: it returns the top of
// the tracing span stack, or "" if none is active.
func (c *Context) CurrentSpanID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	stack, _ := c.data["_tracing_spans"].([]string)
	if len(stack) == 0 {
		return ""
	}
	return stack[len(stack)-1]
}
