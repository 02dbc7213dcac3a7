// Package extension implements the typed plug-in registry (spec §2
// "Extension manager"): a home for discoverer, middleware, acl, exporter,
// validator and approval extensions, each capability-checked against its
// declared Kind at registration time so a middleware extension can never
// be wired in where a validator is expected.
//
// Grounded on pumped-fn-pumped-go's Extension/BaseExtension lifecycle
// (Init/Dispose hooks into a Scope), adapted from its dependency-injection
// domain into dispatch's plug-in domain: Init/Dispose keep the same
// lifecycle shape, Wrap/OnError (meaningful only around a generic resolve
// operation there) are dropped since each Kind already has its own
// execution contract (Before/After/OnError for middleware, Check for acl,
// and so on) defined by the packages those extensions plug into.
package extension

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dispatchkit/core/internal/core/errs"
)

// Kind identifies what an Extension plugs into. Registering an Extension
// under the wrong Kind is rejected.
type Kind string

const (
	KindDiscoverer Kind = "discoverer"
	KindMiddleware Kind = "middleware"
	KindACL        Kind = "acl"
	KindExporter   Kind = "exporter"
	KindValidator  Kind = "validator"
	KindApproval   Kind = "approval"
)

var validKinds = map[Kind]bool{
	KindDiscoverer: true,
	KindMiddleware: true,
	KindACL:        true,
	KindExporter:   true,
	KindValidator:  true,
	KindApproval:   true,
}

// Extension is a plug-in point. Name identifies it in diagnostics; Kind
// declares which registry slot it belongs in; Order sequences extensions
// sharing a Kind (lower runs first); Init/Dispose are lifecycle hooks run
// when the Manager starts up and shuts down.
type Extension interface {
	Name() string
	Kind() Kind
	Order() int
	Init(ctx context.Context) error
	Dispose(ctx context.Context) error
}

// Base implements Name, Kind and Order from its fields and provides no-op
// Init/Dispose, so a concrete extension can embed it, fill in the fields
// and override only the hooks it needs (spec's BaseExtension-style
// default-method embedding).
type Base struct {
	ExtName  string
	ExtKind  Kind
	ExtOrder int
}

func (b Base) Name() string     { return b.ExtName }
func (b Base) Kind() Kind       { return b.ExtKind }
func (b Base) Order() int       { return b.ExtOrder }
func (b Base) Init(context.Context) error    { return nil }
func (b Base) Dispose(context.Context) error { return nil }

// Manager holds every registered Extension, grouped by Kind and ordered
// within each group.
type Manager struct {
	mu         sync.Mutex
	byKind     map[Kind][]Extension
	initialized []Extension
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{byKind: make(map[Kind][]Extension)}
}

// Register adds ext under its declared Kind, re-sorting that Kind's group
// by Order (ties broken by registration order, via a stable sort). It
// rejects an ext whose Kind() is not one of the six known kinds.
func (m *Manager) Register(ext Extension) error {
	kind := ext.Kind()
	if !validKinds[kind] {
		return errs.New(errs.CodeConfigInvalid, fmt.Sprintf("extension: unknown kind %q for extension %q", kind, ext.Name()))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKind[kind] = append(m.byKind[kind], ext)
	group := m.byKind[kind]
	sort.SliceStable(group, func(i, j int) bool { return group[i].Order() < group[j].Order() })
	return nil
}

// Get returns the ordered extensions registered under kind.
func (m *Manager) Get(kind Kind) []Extension {
	m.mu.Lock()
	defer m.mu.Unlock()
	group := m.byKind[kind]
	out := make([]Extension, len(group))
	copy(out, group)
	return out
}

// InitAll calls Init on every registered extension, kind by kind
// (discoverer, middleware, acl, exporter, validator, approval) and by
// Order within each kind. It does not track earlier runs: calling it again
// calls Init again on every extension, including those already
// initialized. On the first failure it stops and returns the error without
// initializing the remainder; already initialized extensions are left
// initialized (the caller decides whether to call DisposeAll to unwind).
func (m *Manager) InitAll(ctx context.Context) error {
	m.mu.Lock()
	var all []Extension
	for _, kind := range []Kind{KindDiscoverer, KindMiddleware, KindACL, KindExporter, KindValidator, KindApproval} {
		all = append(all, m.byKind[kind]...)
	}
	m.mu.Unlock()

	for _, ext := range all {
		if err := ext.Init(ctx); err != nil {
			return errs.Wrap(errs.CodeGeneralInternalError, fmt.Sprintf("extension: init failed for %q", ext.Name()), err)
		}
		m.mu.Lock()
		m.initialized = append(m.initialized, ext)
		m.mu.Unlock()
	}
	return nil
}

// DisposeAll calls Dispose, in reverse initialization order, on every
// extension InitAll successfully initialized. Errors are collected but do
// not stop the sweep, so one misbehaving extension can't block the others
// from tearing down.
func (m *Manager) DisposeAll(ctx context.Context) []error {
	m.mu.Lock()
	toDispose := make([]Extension, len(m.initialized))
	copy(toDispose, m.initialized)
	m.initialized = nil
	m.mu.Unlock()

	var errors []error
	for i := len(toDispose) - 1; i >= 0; i-- {
		if err := toDispose[i].Dispose(ctx); err != nil {
			errors = append(errors, errs.Wrap(errs.CodeGeneralInternalError, fmt.Sprintf("extension: dispose failed for %q", toDispose[i].Name()), err))
		}
	}
	return errors
}
