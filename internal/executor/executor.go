// Package executor implements Executor.Call (spec §4.1): the ordered
// ten-step dispatch pipeline that every module invocation passes through.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dispatchkit/core/internal/acl"
	"github.com/dispatchkit/core/internal/approval"
	"github.com/dispatchkit/core/internal/core"
	"github.com/dispatchkit/core/internal/core/config"
	"github.com/dispatchkit/core/internal/core/errs"
	"github.com/dispatchkit/core/internal/middleware"
	"github.com/dispatchkit/core/internal/registry"
	"github.com/dispatchkit/core/internal/schema"
)

// ReservedApprovalTokenKey is the reserved input key that routes a call
// through approval phase B (spec §6 "Reserved input key").
const ReservedApprovalTokenKey = "_approval_token"

// Default configuration values (spec §4.1 "Configuration").
const (
	DefaultTimeout         = 30 * time.Second
	DefaultMaxCallDepth    = 32
	DefaultMaxModuleRepeat = 3
)

// Executor drives the call pipeline over a Registry, with an optional ACL,
// middleware chain, approval handler and schema validator.
type Executor struct {
	registry  *registry.Registry
	acl       *acl.ACL
	mw        *middleware.Manager
	approvalH approval.Handler
	validator schema.Validator
	logger    *slog.Logger

	defaultTimeout  time.Duration
	maxCallDepth    int
	maxModuleRepeat int
}

// Option configures an Executor at construction.
type Option func(*Executor)

// WithACL installs an access-control check (spec §4.1 step 4). Without one,
// every call is allowed.
func WithACL(a *acl.ACL) Option { return func(e *Executor) { e.acl = a } }

// WithMiddleware installs the before/after/onError chain (spec §4.1 steps
// 7 and 10). Without one, the chain is empty.
func WithMiddleware(m *middleware.Manager) Option { return func(e *Executor) { e.mw = m } }

// WithApprovalHandler installs the approval gate (spec §4.1 step 5).
// Without one, modules flagged requires-approval skip the gate entirely.
func WithApprovalHandler(h approval.Handler) Option { return func(e *Executor) { e.approvalH = h } }

// WithValidator overrides the schema validator used for input/output
// validation (spec §4.1 steps 6 and 9). Defaults to schema.DefaultValidator.
func WithValidator(v schema.Validator) Option { return func(e *Executor) { e.validator = v } }

// WithLogger overrides the executor's structured logger. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option { return func(e *Executor) { e.logger = l } }

// WithDefaultTimeout overrides the per-call execution timeout. Zero
// disables the timer (a warning is logged on each call); negative values
// are rejected by New.
func WithDefaultTimeout(d time.Duration) Option { return func(e *Executor) { e.defaultTimeout = d } }

// WithMaxCallDepth overrides the maximum callChain length.
func WithMaxCallDepth(n int) Option { return func(e *Executor) { e.maxCallDepth = n } }

// WithMaxModuleRepeat overrides the maximum times a module ID may recur in
// a single callChain.
func WithMaxModuleRepeat(n int) Option { return func(e *Executor) { e.maxModuleRepeat = n } }

// WithConfig reads the recognized executor.* keys off cfg (spec §4.1
// "Configuration (recognized options)": executor.default_timeout,
// executor.max_call_depth, executor.max_module_repeat) and applies
// whichever are present, leaving New's defaults in place for the rest.
// Place it before any explicit With* option in the option list so a
// caller-supplied override still wins.
func WithConfig(cfg *config.Accessor) Option {
	return func(e *Executor) {
		e.defaultTimeout = cfg.GetDuration("executor.default_timeout", e.defaultTimeout)
		e.maxCallDepth = cfg.GetInt("executor.max_call_depth", e.maxCallDepth)
		e.maxModuleRepeat = cfg.GetInt("executor.max_module_repeat", e.maxModuleRepeat)
	}
}

// New builds an Executor over reg. A negative WithDefaultTimeout is
// rejected (spec §4.1 "negative → InvalidInputError").
func New(reg *registry.Registry, opts ...Option) (*Executor, error) {
	e := &Executor{
		registry:        reg,
		validator:       schema.DefaultValidator{},
		logger:          slog.Default(),
		defaultTimeout:  DefaultTimeout,
		maxCallDepth:    DefaultMaxCallDepth,
		maxModuleRepeat: DefaultMaxModuleRepeat,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.defaultTimeout < 0 {
		return nil, errs.New(errs.CodeGeneralInvalidInput, "executor: default timeout must not be negative")
	}
	return e, nil
}

// deriveContext implements spec §4.1 step 1: always produce a child
// context for moduleID, creating a root first if none was supplied.
func deriveContext(moduleID string, callCtx *core.Context) (*core.Context, error) {
	if callCtx == nil {
		root, err := core.Create(core.CreateOptions{})
		if err != nil {
			return nil, err
		}
		return root.Child(moduleID), nil
	}
	return callCtx.Child(moduleID), nil
}

// checkSafety implements spec §4.1 step 2: depth, cycle and frequency
// limits over the child context's callChain.
func (e *Executor) checkSafety(moduleID string, chain []string) error {
	n := len(chain)

	if n > e.maxCallDepth {
		depthErr := errs.New(errs.CodeCallDepthExceeded, fmt.Sprintf("call depth %d exceeds max %d", n, e.maxCallDepth)).WithDetails(map[string]any{"call_chain": chain})
		depthErr.CallChain = chain
		return depthErr
	}

	lastOccurrence := -1
	count := 0
	for i, id := range chain {
		if id != moduleID {
			continue
		}
		count++
		if i < n-1 {
			lastOccurrence = i
		}
	}
	// A prior occurrence with at least one element strictly between it and
	// the final (current) entry is a cycle (A -> B -> A). An occurrence
	// immediately preceding the current entry is a same-module repeat,
	// governed by the frequency check instead.
	if lastOccurrence >= 0 && lastOccurrence < n-2 {
		cyclePath := chain[lastOccurrence:]
		cycleErr := errs.New(errs.CodeCircularCall, fmt.Sprintf("circular call detected: %v", cyclePath)).WithDetails(map[string]any{"call_chain": cyclePath})
		cycleErr.CallChain = cyclePath
		return cycleErr
	}

	if count > e.maxModuleRepeat {
		freqErr := errs.New(errs.CodeCallFrequencyExceeded, fmt.Sprintf("module %q called %d times, exceeding max %d", moduleID, count, e.maxModuleRepeat)).WithDetails(map[string]any{"call_chain": chain})
		freqErr.CallChain = chain
		return freqErr
	}

	return nil
}
