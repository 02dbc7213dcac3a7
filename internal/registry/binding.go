package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dispatchkit/core/internal/core"
	"github.com/dispatchkit/core/internal/core/errs"
)

// Factory builds a fresh Module instance. Registered factories are looked
// up by name from a *.module.yaml manifest's "callable" field during
// Discover, or from a Binding YAML entry's target during LoadBindings —
// the idiomatic-Go stand-in for the reference pipeline's dynamic
// load-module-by-file-path step, since Go has no runtime import-by-path.
type Factory func() (core.Module, error)

// FunctionRegistry is the in-process table of callables a binding manifest
// or Binding YAML file may reference. Application code registers its
// module constructors here once, at startup, before calling
// Registry.Discover or Registry.RegisterBindings.
type FunctionRegistry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewFunctionRegistry returns an empty FunctionRegistry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{factories: make(map[string]Factory)}
}

// Register binds name to factory. Registering the same name twice
// overwrites the previous binding.
func (f *FunctionRegistry) Register(name string, factory Factory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.factories[name] = factory
}

// Resolve looks up name, returning errs.CodeBindingCallableNotFound if it
// was never registered.
func (f *FunctionRegistry) Resolve(name string) (Factory, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	factory, ok := f.factories[name]
	if !ok {
		return nil, errs.New(errs.CodeBindingCallableNotFound, fmt.Sprintf("registry: no callable registered for %q", name))
	}
	return factory, nil
}

// bindingDoc is the top-level shape of a Binding YAML file (spec §6
// "Binding YAML"): zero-code module registration, distinct from the
// *.module.yaml manifests Discover scans. Each entry's target names an
// in-process callable rather than a dynamically importable file, since Go
// has no runtime import-by-path (spec §9 Design Notes).
type bindingDoc struct {
	Bindings []bindingEntry `yaml:"bindings"`
}

type bindingEntry struct {
	ModuleID     string         `yaml:"module_id"`
	Target       string         `yaml:"target"`
	InputSchema  map[string]any `yaml:"input_schema"`
	OutputSchema map[string]any `yaml:"output_schema"`
	SchemaRef    string         `yaml:"schema_ref"`
}

// permissiveSchema is the Record<string, unknown> fallback a binding gets
// when it declares neither input_schema/output_schema nor schema_ref
// (spec §6: "else a permissive Record<string, unknown>/Record<string,
// unknown> pair").
var permissiveSchema = map[string]any{"type": "object"}

// LoadBindings parses path as a Binding YAML document and resolves every
// entry's target against fns, returning one discoveredModule per binding
// ready for registration. It fails on the first invalid or unresolvable
// entry rather than skipping it, since a Binding YAML file is an explicit
// zero-code registration request, not a best-effort scan.
func LoadBindings(path string, fns *FunctionRegistry) ([]*discoveredModule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.CodeBindingFileInvalid, fmt.Sprintf("registry: reading bindings %s", path), err)
	}
	var doc bindingDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errs.Wrap(errs.CodeBindingFileInvalid, fmt.Sprintf("registry: parsing bindings %s", path), err)
	}

	dir := filepath.Dir(path)
	out := make([]*discoveredModule, 0, len(doc.Bindings))
	for _, b := range doc.Bindings {
		if b.ModuleID == "" {
			return nil, errs.New(errs.CodeBindingFileInvalid, fmt.Sprintf("registry: binding in %s is missing module_id", path))
		}

		callable, verr := validateBindingTarget(b.Target)
		if verr != nil {
			return nil, verr
		}

		factory, rerr := fns.Resolve(callable)
		if rerr != nil {
			return nil, errs.New(errs.CodeBindingModuleNotFound, fmt.Sprintf("registry: binding %q: no callable registered for target %q", b.ModuleID, b.Target))
		}
		mod, cerr := factory()
		if cerr != nil {
			return nil, errs.Wrap(errs.CodeBindingNotCallable, fmt.Sprintf("registry: binding %q: constructing %q", b.ModuleID, b.Target), cerr)
		}

		inSchema, outSchema, serr := resolveBindingSchemas(dir, b)
		if serr != nil {
			return nil, serr
		}

		descriptor := core.ModuleDescriptor{
			ModuleID:     b.ModuleID,
			Description:  mod.Description(),
			InputSchema:  inSchema,
			OutputSchema: outSchema,
		}
		if annotated, ok := mod.(core.Annotated); ok {
			descriptor.Annotations = annotated.ModuleAnnotations()
		}
		if provider, ok := mod.(core.ExampleProvider); ok {
			descriptor.Examples = provider.ModuleExamples()
		}

		out = append(out, &discoveredModule{id: b.ModuleID, module: mod, descriptor: descriptor})
	}
	return out, nil
}

// validateBindingTarget checks target against spec §6's "target must not
// contain .. segments or file: URLs" and splits it into its callable half
// ("module.path:callable" → "callable"), the name resolved against a
// FunctionRegistry.
func validateBindingTarget(target string) (string, error) {
	if target == "" {
		return "", errs.New(errs.CodeBindingInvalidTarget, "registry: binding target must not be empty")
	}
	if strings.HasPrefix(target, "file:") {
		return "", errs.New(errs.CodeBindingInvalidTarget, fmt.Sprintf("registry: binding target %q must not be a file: URL", target))
	}

	idx := strings.LastIndex(target, ":")
	if idx <= 0 || idx == len(target)-1 {
		return "", errs.New(errs.CodeBindingInvalidTarget, fmt.Sprintf("registry: binding target %q must have the form \"module.path:callable\"", target))
	}
	modulePath, callable := target[:idx], target[idx+1:]
	for _, seg := range strings.Split(modulePath, "/") {
		if seg == ".." {
			return "", errs.New(errs.CodeBindingInvalidTarget, fmt.Sprintf("registry: binding target %q must not contain \"..\" segments", target))
		}
	}
	return callable, nil
}

// resolveBindingSchemas resolves one binding's effective input/output
// schemas: schema_ref (relative to the Binding YAML's own directory) wins
// if set, else the inline input_schema/output_schema, else the permissive
// fallback (spec §6).
func resolveBindingSchemas(dir string, b bindingEntry) (map[string]any, map[string]any, error) {
	if b.SchemaRef != "" {
		refPath := filepath.Join(dir, b.SchemaRef)
		raw, err := os.ReadFile(refPath)
		if err != nil {
			return nil, nil, errs.Wrap(errs.CodeBindingSchemaMissing, fmt.Sprintf("registry: binding %q: reading schema_ref %s", b.ModuleID, refPath), err)
		}
		var ref struct {
			InputSchema  map[string]any `yaml:"input_schema"`
			OutputSchema map[string]any `yaml:"output_schema"`
		}
		if err := yaml.Unmarshal(raw, &ref); err != nil {
			return nil, nil, errs.Wrap(errs.CodeBindingFileInvalid, fmt.Sprintf("registry: binding %q: parsing schema_ref %s", b.ModuleID, refPath), err)
		}
		if ref.InputSchema == nil || ref.OutputSchema == nil {
			return nil, nil, errs.New(errs.CodeBindingSchemaMissing, fmt.Sprintf("registry: binding %q: schema_ref %s must declare both input_schema and output_schema", b.ModuleID, refPath))
		}
		return ref.InputSchema, ref.OutputSchema, nil
	}

	in, out := b.InputSchema, b.OutputSchema
	if in == nil {
		in = permissiveSchema
	}
	if out == nil {
		out = permissiveSchema
	}
	return in, out, nil
}
