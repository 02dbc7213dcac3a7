package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dispatchkit/core/internal/core"
	"github.com/dispatchkit/core/internal/core/errs"
)

// manifest is one binding manifest file on disk: the declarative
// description of a module plus the name of the Go factory that builds it
// (spec §4.2 steps 2-6, adapted for static Go module resolution).
type manifest struct {
	ModuleID      string            `yaml:"module_id"`
	Name          string            `yaml:"name"`
	Description   string            `yaml:"description"`
	Documentation string            `yaml:"documentation"`
	Version       string            `yaml:"version"`
	Tags          []string          `yaml:"tags"`
	Callable      string            `yaml:"callable"`
	Annotations   yaml.Node         `yaml:"annotations"`
	Dependencies  []manifestDepends `yaml:"dependencies"`
	Examples      []manifestExample `yaml:"examples"`
	Metadata      map[string]any    `yaml:"metadata"`
	EntryPoint    string            `yaml:"entry_point"`
}

type manifestDepends struct {
	ModuleID string `yaml:"module_id"`
	Version  string `yaml:"version"`
	Optional bool   `yaml:"optional"`
}

// manifestExample is one entry of the manifest's `examples:` list (spec
// §6 "examples: [{ title, inputs, output, description? }]").
type manifestExample struct {
	Title       string         `yaml:"title"`
	Inputs      map[string]any `yaml:"inputs"`
	Output      map[string]any `yaml:"output"`
	Description string         `yaml:"description"`
}

// loadManifest parses one manifest file. A missing annotations block
// yields the zero-value Annotations (spec invariant: absent metadata is
// not an error).
func loadManifest(path string) (*manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.CodeBindingFileInvalid, fmt.Sprintf("registry: reading manifest %s", path), err)
	}

	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, errs.Wrap(errs.CodeBindingFileInvalid, fmt.Sprintf("registry: parsing manifest %s", path), err)
	}
	if m.ModuleID == "" {
		return nil, errs.New(errs.CodeBindingFileInvalid, fmt.Sprintf("registry: manifest %s is missing module_id", path))
	}
	// entry_point is the spec's own field name (spec §6: `entry_point:
	// "module:ClassName"`); callable is this loader's Go-native name for
	// the same override. Accept either, callable taking precedence.
	if m.Callable == "" {
		m.Callable = m.EntryPoint
	}
	if m.Callable == "" {
		return nil, errs.New(errs.CodeBindingFileInvalid, fmt.Sprintf("registry: manifest %s is missing callable", path))
	}
	return &m, nil
}

// annotations decodes the manifest's annotations block. Both snake_case
// (requires_approval) and camelCase (requiresApproval) spellings are
// accepted for every field, since the source ecosystem is inconsistent
// about it (spec §9 open question); this is the read side. There is no
// write side: nothing in this repository serializes core.ModuleDescriptor
// or core.Annotations back out, so no canonical spelling is ever emitted.
func (m *manifest) annotations() (core.Annotations, error) {
	var raw map[string]any
	if m.Annotations.Kind != 0 {
		if err := m.Annotations.Decode(&raw); err != nil {
			return core.Annotations{}, errs.Wrap(errs.CodeBindingFileInvalid, "registry: decoding annotations", err)
		}
	}

	pick := func(snake, camel string) bool {
		if v, ok := raw[snake].(bool); ok {
			return v
		}
		if v, ok := raw[camel].(bool); ok {
			return v
		}
		return false
	}

	return core.Annotations{
		ReadOnly:         pick("read_only", "readOnly"),
		Destructive:      pick("destructive", "destructive"),
		Idempotent:       pick("idempotent", "idempotent"),
		RequiresApproval: pick("requires_approval", "requiresApproval"),
		OpenWorld:        pick("open_world", "openWorld"),
		Streaming:        pick("streaming", "streaming"),
	}, nil
}

func (m *manifest) dependencies() []core.DependencyInfo {
	out := make([]core.DependencyInfo, 0, len(m.Dependencies))
	for _, d := range m.Dependencies {
		out = append(out, core.DependencyInfo{ModuleID: d.ModuleID, Version: d.Version, Optional: d.Optional})
	}
	return out
}

// examples converts the manifest's examples list, if any, to
// core.Example. A manifest with no examples block and one with an empty
// examples list both yield nil, so mergeExamples (discover.go) treats
// the two alike.
func (m *manifest) examples() []core.Example {
	if len(m.Examples) == 0 {
		return nil
	}
	out := make([]core.Example, 0, len(m.Examples))
	for _, e := range m.Examples {
		out = append(out, core.Example{
			Title:       e.Title,
			Inputs:      core.Record(e.Inputs),
			Output:      core.Record(e.Output),
			Description: e.Description,
		})
	}
	return out
}

func (m *manifest) descriptor() core.ModuleDescriptor {
	ann, _ := m.annotations()
	return core.ModuleDescriptor{
		ModuleID:      m.ModuleID,
		Name:          m.Name,
		Description:   m.Description,
		Documentation: m.Documentation,
		Version:       m.Version,
		Tags:          m.Tags,
		Annotations:   ann,
		Examples:      m.examples(),
		Metadata:      m.Metadata,
	}
}
