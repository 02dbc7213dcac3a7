package core

import "context"

// Record is the generic key-value payload that flows through the
// pipeline: module inputs, module outputs, and middleware before/after
// replacements are all Records (spec §3).
type Record map[string]any

// Annotations describes a module's declared behavioral properties
// (spec §3 ModuleDescriptor.annotations).
type Annotations struct {
	ReadOnly         bool
	Destructive      bool
	Idempotent       bool
	RequiresApproval bool
	OpenWorld        bool
	Streaming        bool
}

// Example is one documented input/output pair for a module.
type Example struct {
	Title       string
	Inputs      Record
	Output      Record
	Description string
}

// ModuleDescriptor is the read-only metadata the registry exposes for a
// registered module (spec §3).
type ModuleDescriptor struct {
	ModuleID      string
	Name          string
	Description   string
	Documentation string
	InputSchema   map[string]any
	OutputSchema  map[string]any
	Version       string
	Tags          []string
	Annotations   Annotations
	Examples      []Example
	Metadata      map[string]any
}

// StreamChunk is one element yielded by a streaming module's Stream
// method.
type StreamChunk struct {
	Record Record
	Err    error
}

// Module is the capability set the executor requires of a unit of work
// (spec §3). Execute is mandatory; Stream, OnLoad and OnUnload are
// optional and detected via the Streamer/Loader/Unloader interfaces below.
type Module interface {
	InputSchema() map[string]any
	OutputSchema() map[string]any
	Description() string
	Execute(ctx context.Context, inputs Record, callCtx *Context) (Record, error)
}

// Streamer is implemented by modules that support the streaming call
// variant (spec §4.1 "Streaming variant").
type Streamer interface {
	Stream(ctx context.Context, inputs Record, callCtx *Context) (<-chan StreamChunk, error)
}

// Loader is implemented by modules with registration-time setup.
// onLoad failure aborts registration (spec §4.2).
type Loader interface {
	OnLoad(ctx context.Context) error
}

// Unloader is implemented by modules with teardown logic. onUnload
// failures are swallowed and logged (spec §4.2).
type Unloader interface {
	OnUnload(ctx context.Context) error
}

// Annotated lets a module report its own Annotations; modules that don't
// implement it are treated as having the zero value (no special
// annotations) until metadata merge (spec §4.2 step 8) overrides them.
type Annotated interface {
	ModuleAnnotations() Annotations
}

// ExampleProvider lets a module report its own documented input/output
// examples; modules that don't implement it are treated as having none
// until metadata merge (spec §4.2 step 8) supplies them from YAML.
type ExampleProvider interface {
	ModuleExamples() []Example
}

// DependencyInfo declares one edge in the registry's discovery dependency
// graph (spec §3, §4.2 step 6-7).
type DependencyInfo struct {
	ModuleID string
	Version  string // empty means unconstrained
	Optional bool
}

// TaskStatus is one of the TaskInfo lifecycle states (spec §3).
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// ApprovalStatus is the decision an ApprovalHandler returns (spec §3).
type ApprovalStatus string

const (
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalTimeout  ApprovalStatus = "timeout"
	ApprovalPending  ApprovalStatus = "pending"
)

// ApprovalRequest is the phase-A payload offered to an approval handler
// (spec §3).
type ApprovalRequest struct {
	ModuleID    string
	Arguments   Record
	Context     *Context
	Annotations Annotations
	Description string
	Tags        []string
}

// ApprovalResult is an approval handler's decision (spec §3).
type ApprovalResult struct {
	Status     ApprovalStatus
	ApprovedBy string
	Reason     string
	ApprovalID string
	Metadata   map[string]any
}
