package acl

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dispatchkit/core/internal/core/errs"
)

// yamlConditions mirrors Conditions for YAML (de)serialization.
type yamlConditions struct {
	IdentityTypes []string `yaml:"identity_types,omitempty"`
	Roles         []string `yaml:"roles,omitempty"`
	MaxCallDepth  *int     `yaml:"max_call_depth,omitempty"`
}

// yamlRule mirrors Rule for YAML (de)serialization (spec §6 ACL YAML shape).
type yamlRule struct {
	Callers     []string        `yaml:"callers"`
	Targets     []string        `yaml:"targets"`
	Effect      string          `yaml:"effect"`
	Description string          `yaml:"description,omitempty"`
	Conditions  *yamlConditions `yaml:"conditions,omitempty"`
}

// yamlDoc mirrors the top-level ACL YAML document.
type yamlDoc struct {
	DefaultEffect string     `yaml:"default_effect"`
	Rules         []yamlRule `yaml:"rules"`
}

// LoadFromYAML parses an ACL document from path (spec §6). The returned ACL
// remembers path so a later Reload re-reads it.
func LoadFromYAML(path string) (*ACL, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.CodeConfigNotFound, fmt.Sprintf("acl: reading %s", path), err)
	}

	a, err := parseYAML(raw)
	if err != nil {
		return nil, err
	}
	a.sourcePath = path
	return a, nil
}

// Reload re-parses the ACL's source file (set by LoadFromYAML) and swaps in
// the new rule list and default effect atomically. Returns an error if the
// ACL was not constructed via LoadFromYAML, or if the file fails to parse.
func (a *ACL) Reload() error {
	a.mu.RLock()
	path := a.sourcePath
	a.mu.RUnlock()

	if path == "" {
		return errs.New(errs.CodeConfigInvalid, "acl: Reload requires an ACL loaded via LoadFromYAML")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return errs.Wrap(errs.CodeConfigNotFound, fmt.Sprintf("acl: reloading %s", path), err)
	}

	fresh, err := parseYAML(raw)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.rules = fresh.rules
	a.defaultEffect = fresh.defaultEffect
	a.mu.Unlock()
	return nil
}

func parseYAML(raw []byte) (*ACL, error) {
	var doc yamlDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errs.Wrap(errs.CodeConfigInvalid, "acl: parsing YAML", err)
	}

	effect := Effect(doc.DefaultEffect)
	if effect == "" {
		effect = Deny
	}

	rules := make([]Rule, 0, len(doc.Rules))
	for _, yr := range doc.Rules {
		rule := Rule{
			Callers:     yr.Callers,
			Targets:     yr.Targets,
			Effect:      Effect(yr.Effect),
			Description: yr.Description,
		}
		if yr.Conditions != nil {
			rule.Conditions = &Conditions{
				IdentityTypes: yr.Conditions.IdentityTypes,
				Roles:         yr.Conditions.Roles,
				MaxCallDepth:  yr.Conditions.MaxCallDepth,
			}
		}
		rules = append(rules, rule)
	}

	return New(effect, rules)
}
