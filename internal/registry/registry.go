// Package registry implements module storage and dependency-ordered
// discovery (spec §4.2): register/unregister/lookup, event callbacks, and
// the scan → load → validate → sort → register discovery pipeline.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/dispatchkit/core/internal/core"
	"github.com/dispatchkit/core/internal/core/errs"
)

// Event names accepted by On.
const (
	EventRegister   = "register"
	EventUnregister = "unregister"
)

// entry is the registry's internal bookkeeping for one registered module.
type entry struct {
	module     core.Module
	descriptor core.ModuleDescriptor
}

// ListFilter narrows Registry.List (spec §4.2 "list(filter? = {prefix, tags})").
type ListFilter struct {
	Prefix string
	Tags   []string
}

// Registry stores registered modules and exposes the 8-step discovery
// pipeline (see discover.go).
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	schemas map[string]any // derived schema cache, cleared by ClearCache

	listenerMu sync.Mutex
	listeners  map[string][]func(moduleID string)

	functions *FunctionRegistry
}

// New returns an empty Registry. fns resolves binding-manifest "callable"
// names during Discover; pass nil if Discover will not be used.
func New(fns *FunctionRegistry) *Registry {
	return &Registry{
		entries:   make(map[string]*entry),
		schemas:   make(map[string]any),
		listeners: make(map[string][]func(moduleID string)),
		functions: fns,
	}
}

// Register adds module under moduleID, invoking its OnLoad hook (if any)
// first. Empty IDs and duplicate IDs are rejected (spec invariant: "A
// registered module's ID is unique in a registry; re-registration fails").
// If OnLoad fails, the module is never registered and the error propagates.
func (r *Registry) Register(ctx context.Context, moduleID string, module core.Module, descriptor core.ModuleDescriptor) error {
	if moduleID == "" {
		return errs.New(errs.CodeGeneralInvalidInput, "registry: module id must not be empty")
	}

	r.mu.Lock()
	if _, exists := r.entries[moduleID]; exists {
		r.mu.Unlock()
		return errs.New(errs.CodeGeneralInvalidInput, fmt.Sprintf("registry: module %q is already registered", moduleID))
	}
	r.mu.Unlock()

	if loader, ok := module.(core.Loader); ok {
		if err := loader.OnLoad(ctx); err != nil {
			return errs.Wrap(errs.CodeModuleLoadError, fmt.Sprintf("registry: onLoad failed for %q", moduleID), err)
		}
	}

	descriptor.ModuleID = moduleID

	r.mu.Lock()
	r.entries[moduleID] = &entry{module: module, descriptor: descriptor}
	r.mu.Unlock()

	r.emit(EventRegister, moduleID)
	return nil
}

// RegisterBindings loads path as a Binding YAML document (spec §6
// "Binding YAML") and registers every entry it resolves, in file order. It
// returns the count registered before any error.
func (r *Registry) RegisterBindings(ctx context.Context, path string) (int, error) {
	if r.functions == nil {
		return 0, errs.New(errs.CodeConfigInvalid, "registry: RegisterBindings requires a FunctionRegistry")
	}
	modules, err := LoadBindings(path, r.functions)
	if err != nil {
		return 0, err
	}
	for i, dm := range modules {
		if err := r.Register(ctx, dm.id, dm.module, dm.descriptor); err != nil {
			return i, err
		}
	}
	return len(modules), nil
}

// Unregister removes moduleID, invoking its OnUnload hook (if any). Errors
// from OnUnload are logged as warnings and swallowed (spec §4.2). Returns
// false if moduleID was
// not registered.
func (r *Registry) Unregister(ctx context.Context, moduleID string) bool {
	r.mu.Lock()
	e, ok := r.entries[moduleID]
	if ok {
		delete(r.entries, moduleID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	if unloader, ok := e.module.(core.Unloader); ok {
		if err := unloader.OnUnload(ctx); err != nil {
			slog.WarnContext(ctx, "registry: onUnload failed", "module_id", moduleID, "error", err)
		}
	}

	r.emit(EventUnregister, moduleID)
	return true
}

// Get returns the module registered under moduleID, or false if absent.
func (r *Registry) Get(moduleID string) (core.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[moduleID]
	if !ok {
		return nil, false
	}
	return e.module, true
}

// Has reports whether moduleID is registered.
func (r *Registry) Has(moduleID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[moduleID]
	return ok
}

// GetDefinition returns the ModuleDescriptor for moduleID, or false if
// absent.
func (r *Registry) GetDefinition(moduleID string) (core.ModuleDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[moduleID]
	if !ok {
		return core.ModuleDescriptor{}, false
	}
	return e.descriptor, true
}

// List returns the sorted IDs of registered modules matching filter. A
// zero-value ListFilter matches everything.
func (r *Registry) List(filter ListFilter) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		if filter.Prefix != "" && !strings.HasPrefix(id, filter.Prefix) {
			continue
		}
		if len(filter.Tags) > 0 && !hasAnyTag(e.descriptor.Tags, filter.Tags) {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

// ModuleIDs returns the sorted IDs of every registered module.
func (r *Registry) ModuleIDs() []string {
	return r.List(ListFilter{})
}

// Count returns the number of registered modules.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Iter returns a snapshot of every registered descriptor, sorted by module
// ID for determinism.
func (r *Registry) Iter() []core.ModuleDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]core.ModuleDescriptor, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.entries[id].descriptor)
	}
	return out
}

// On registers callback to be invoked when event fires. Unknown event
// names return an error; callback panics/errors during emission are
// swallowed (spec §4.2).
func (r *Registry) On(event string, callback func(moduleID string)) error {
	if event != EventRegister && event != EventUnregister {
		return errs.New(errs.CodeGeneralInvalidInput, fmt.Sprintf("registry: unknown event %q", event))
	}
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.listeners[event] = append(r.listeners[event], callback)
	return nil
}

func (r *Registry) emit(event, moduleID string) {
	r.listenerMu.Lock()
	callbacks := make([]func(string), len(r.listeners[event]))
	copy(callbacks, r.listeners[event])
	r.listenerMu.Unlock()

	for _, cb := range callbacks {
		func() {
			defer func() { _ = recover() }()
			cb(moduleID)
		}()
	}
}

// ClearCache clears the derived schema cache, preserving registered
// modules (spec §4.2).
func (r *Registry) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas = make(map[string]any)
}

// CachedSchema retrieves a previously cached compiled schema for key.
func (r *Registry) CachedSchema(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.schemas[key]
	return v, ok
}

// CacheSchema stores a compiled schema for key.
func (r *Registry) CacheSchema(key string, schema any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[key] = schema
}
