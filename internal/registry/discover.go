package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dispatchkit/core/internal/core"
	"github.com/dispatchkit/core/internal/core/errs"
	"github.com/dispatchkit/core/internal/schema"
)

// manifestExt is the extension a discovery scan looks for. Files with any
// other extension, and dot- or underscore-prefixed entries, are skipped.
const manifestExt = ".module.yaml"

// noiseDirs are directory names a scan never descends into.
var noiseDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	".git":         true,
	"testdata":     true,
}

// DiscoveryRoot is one tree a Discover scan walks.
type DiscoveryRoot struct {
	Path string
	// Namespace, if set, is prepended to every module ID found under
	// Path ("namespace.moduleId"). Required when more than one root is
	// scanned (spec §4.2 step 1: "multi-root scans prepend a namespace
	// segment and reject duplicate namespaces").
	Namespace string
}

// DiscoverConfig configures one Discover call.
type DiscoverConfig struct {
	Roots    []DiscoveryRoot
	MaxDepth int // 0 means unlimited
}

// skipResult records why a candidate manifest or module was dropped
// (spec §4.2 step 5: "drop invalid ones with a recorded reason").
type skipResult struct {
	Path   string
	Reason string
}

// discoveredModule is a fully loaded, validated, not-yet-registered module
// awaiting dependency-ordered registration.
type discoveredModule struct {
	id           string
	module       core.Module
	descriptor   core.ModuleDescriptor
	dependencies []core.DependencyInfo
}

// Discover runs the 8-step discovery pipeline (spec §4.2) over cfg.Roots
// and registers every module that survives validation and dependency
// resolution, in dependency order. It returns the number of modules
// registered.
func (r *Registry) Discover(ctx context.Context, cfg DiscoverConfig) (int, error) {
	if r.functions == nil {
		return 0, errs.New(errs.CodeConfigInvalid, "registry: Discover requires a FunctionRegistry")
	}
	if len(cfg.Roots) > 1 {
		seen := make(map[string]bool)
		for _, root := range cfg.Roots {
			if root.Namespace == "" {
				return 0, errs.New(errs.CodeConfigInvalid, "registry: every root needs a namespace when scanning more than one")
			}
			if seen[root.Namespace] {
				return 0, errs.New(errs.CodeConfigInvalid, fmt.Sprintf("registry: duplicate namespace %q across discovery roots", root.Namespace))
			}
			seen[root.Namespace] = true
		}
	}

	var paths []string
	for _, root := range cfg.Roots {
		found, err := scan(root.Path, cfg.MaxDepth)
		if err != nil {
			return 0, err
		}
		paths = append(paths, found...)
	}

	rootForPath := func(p string) DiscoveryRoot {
		for _, root := range cfg.Roots {
			if strings.HasPrefix(p, root.Path) {
				return root
			}
		}
		return DiscoveryRoot{}
	}

	discovered := make(map[string]*discoveredModule)
	var skipped []skipResult

	for _, path := range paths {
		m, err := loadManifest(path)
		if err != nil {
			skipped = append(skipped, skipResult{Path: path, Reason: err.Error()})
			continue
		}

		idmap, err := loadIDMap(rootForPath(path).Path)
		if err != nil {
			skipped = append(skipped, skipResult{Path: path, Reason: err.Error()})
			continue
		}
		if override, ok := idmap[relPath(rootForPath(path).Path, path)]; ok {
			if override.ID != "" {
				m.ModuleID = override.ID
			}
			if override.Class != "" {
				m.Callable = override.Class
			}
		}

		moduleID := m.ModuleID
		if ns := rootForPath(path).Namespace; ns != "" {
			moduleID = ns + "." + moduleID
		}

		factory, err := r.functions.Resolve(m.Callable)
		if err != nil {
			skipped = append(skipped, skipResult{Path: path, Reason: err.Error()})
			continue
		}
		mod, err := factory()
		if err != nil {
			skipped = append(skipped, skipResult{Path: path, Reason: err.Error()})
			continue
		}

		if reason, ok := invalidModule(mod); ok {
			skipped = append(skipped, skipResult{Path: path, Reason: reason})
			continue
		}

		descriptor := m.descriptor()
		descriptor.ModuleID = moduleID
		if annotated, ok := mod.(core.Annotated); ok {
			descriptor.Annotations = mergeAnnotations(annotated.ModuleAnnotations(), descriptor.Annotations)
		}
		if provider, ok := mod.(core.ExampleProvider); ok {
			descriptor.Examples = mergeExamples(provider.ModuleExamples(), descriptor.Examples)
		}

		if res := schema.ValidateDescriptorMetadata(descriptor.Version, descriptor.Tags); !res.Valid {
			skipped = append(skipped, skipResult{Path: path, Reason: fmt.Sprintf("invalid descriptor metadata: %v", res.Errors)})
			continue
		}

		if _, dup := discovered[moduleID]; dup {
			skipped = append(skipped, skipResult{Path: path, Reason: fmt.Sprintf("duplicate module id %q", moduleID)})
			continue
		}

		discovered[moduleID] = &discoveredModule{
			id:           moduleID,
			module:       mod,
			descriptor:   descriptor,
			dependencies: m.dependencies(),
		}
	}

	order, err := topoSort(discovered)
	if err != nil {
		return 0, err
	}

	registered := 0
	for _, id := range order {
		dm := discovered[id]
		if err := r.Register(ctx, dm.id, dm.module, dm.descriptor); err != nil {
			return registered, err
		}
		registered++
	}

	return registered, nil
}

// mergeAnnotations applies yamlAnnotations on top of codeAnnotations: a
// true value in yaml wins; otherwise the code-declared value is kept
// (spec §4.2 step 8: "YAML overrides code-declared ... annotations").
func mergeAnnotations(code, yamlAnn core.Annotations) core.Annotations {
	merge := func(c, y bool) bool {
		if y {
			return true
		}
		return c
	}
	return core.Annotations{
		ReadOnly:         merge(code.ReadOnly, yamlAnn.ReadOnly),
		Destructive:      merge(code.Destructive, yamlAnn.Destructive),
		Idempotent:       merge(code.Idempotent, yamlAnn.Idempotent),
		RequiresApproval: merge(code.RequiresApproval, yamlAnn.RequiresApproval),
		OpenWorld:        merge(code.OpenWorld, yamlAnn.OpenWorld),
		Streaming:        merge(code.Streaming, yamlAnn.Streaming),
	}
}

// mergeExamples applies yamlExamples on top of codeExamples: a non-empty
// yaml list wins in full; otherwise the code-declared examples are kept
// (spec §4.2 step 8: "YAML overrides code-declared ... examples").
func mergeExamples(code, yamlExamples []core.Example) []core.Example {
	if len(yamlExamples) > 0 {
		return yamlExamples
	}
	return code
}

// invalidModule duck-checks a loaded module's capability set (spec §4.2
// step 5). Go's static interface already guarantees the method set exists;
// this catches the remaining structural requirements the type system
// cannot: non-nil schemas and a non-empty description.
func invalidModule(mod core.Module) (string, bool) {
	if mod.InputSchema() == nil {
		return "inputSchema must not be nil", true
	}
	if mod.OutputSchema() == nil {
		return "outputSchema must not be nil", true
	}
	if strings.TrimSpace(mod.Description()) == "" {
		return "description must not be empty", true
	}
	return "", false
}

// scan walks root (bounded by maxDepth, 0 meaning unlimited) collecting
// manifest files, skipping dot/underscore-prefixed entries and noiseDirs
// (spec §4.2 step 1).
func scan(root string, maxDepth int) ([]string, error) {
	var out []string
	rootDepth := strings.Count(filepath.Clean(root), string(filepath.Separator))

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if path != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if noiseDirs[name] {
				return filepath.SkipDir
			}
			if maxDepth > 0 {
				depth := strings.Count(filepath.Clean(path), string(filepath.Separator)) - rootDepth
				if depth >= maxDepth {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if strings.HasSuffix(name, manifestExt) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.CodeBindingFileInvalid, fmt.Sprintf("registry: scanning %s", root), err)
	}
	sort.Strings(out)
	return out, nil
}

func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}

// idMapEntry is one override record in a root's idmap.yaml "mappings"
// list (spec §6 "ID-map YAML: mappings: [{ file: <relpath>, id:
// <override-id>, class: <str?> }]"). Class is the optional entry-point
// hint mentioned by spec §4.2 step 2 ("...and an entry-point hint");
// present, it overrides the manifest's callable the same way
// entry_point does in the module metadata YAML.
type idMapEntry struct {
	File  string `yaml:"file"`
	ID    string `yaml:"id"`
	Class string `yaml:"class"`
}

// idMapDoc is the top-level shape of an idmap.yaml file.
type idMapDoc struct {
	Mappings []idMapEntry `yaml:"mappings"`
}

// loadIDMap parses root's idmap.yaml, if present, into a map keyed by the
// relative file path each mapping overrides. A missing file is not an
// error (spec invariant: an ID-map is optional).
func loadIDMap(root string) (map[string]idMapEntry, error) {
	path := filepath.Join(root, "idmap.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]idMapEntry{}, nil
		}
		return nil, errs.Wrap(errs.CodeBindingFileInvalid, fmt.Sprintf("registry: reading %s", path), err)
	}

	var doc idMapDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errs.Wrap(errs.CodeBindingFileInvalid, fmt.Sprintf("registry: parsing %s", path), err)
	}

	out := make(map[string]idMapEntry, len(doc.Mappings))
	for _, entry := range doc.Mappings {
		out[entry.File] = entry
	}
	return out, nil
}
