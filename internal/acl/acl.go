// Package acl implements the ordered pattern-rule access control evaluator
// (spec §4.3): first-match-wins rules with optional conditions, live
// reload, and the glob pattern matcher from internal/core/pattern.
package acl

import (
	"fmt"
	"sync"

	"github.com/dispatchkit/core/internal/core"
	"github.com/dispatchkit/core/internal/core/errs"
	"github.com/dispatchkit/core/internal/core/pattern"
)

// Effect is a rule's or the ACL's default disposition.
type Effect string

const (
	Allow Effect = "allow"
	Deny  Effect = "deny"
)

// Conditions narrows when a Rule applies, beyond caller/target pattern
// matching (spec §4.3). Unrecognized YAML keys are ignored at load time;
// only these three are evaluated.
type Conditions struct {
	IdentityTypes []string
	Roles         []string
	MaxCallDepth  *int
}

// Rule is one ACL entry (spec §3 ACLRule).
type Rule struct {
	Callers     []string
	Targets     []string
	Effect      Effect
	Description string
	Conditions  *Conditions
}

// ACL evaluates calls against an ordered rule list.
type ACL struct {
	mu            sync.RWMutex
	rules         []Rule
	defaultEffect Effect
	sourcePath    string // set by LoadFromYAML; empty means Reload is unsupported
}

// New builds an ACL with the given default effect and initial rule order.
// defaultEffect must be Allow or Deny.
func New(defaultEffect Effect, rules []Rule) (*ACL, error) {
	if defaultEffect != Allow && defaultEffect != Deny {
		return nil, errs.New(errs.CodeConfigInvalid, fmt.Sprintf("acl: default effect must be %q or %q, got %q", Allow, Deny, defaultEffect))
	}
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	return &ACL{rules: cp, defaultEffect: defaultEffect}, nil
}

// Check evaluates callerID -> targetID under ctx (spec §4.3). An empty
// callerID is normalized to pattern.External. Rules are evaluated in
// order; the first whose callers and targets both match (any pattern in
// either list) and whose conditions all pass determines the result. If no
// rule matches, the ACL's default effect applies.
func (a *ACL) Check(callerID, targetID string, ctx *core.Context) bool {
	if callerID == "" {
		callerID = pattern.External
	}

	a.mu.RLock()
	rules := make([]Rule, len(a.rules))
	copy(rules, a.rules)
	defaultEffect := a.defaultEffect
	a.mu.RUnlock()

	var identity pattern.IdentityType
	if ctx != nil && ctx.Identity() != nil {
		identity = ctx.Identity()
	}

	for _, rule := range rules {
		if !pattern.MatchAny(rule.Callers, callerID, identity) {
			continue
		}
		if !pattern.MatchAny(rule.Targets, targetID, identity) {
			continue
		}
		if !evaluateConditions(rule.Conditions, ctx) {
			continue
		}
		return rule.Effect == Allow
	}

	return defaultEffect == Allow
}

func evaluateConditions(c *Conditions, ctx *core.Context) bool {
	if c == nil {
		return true
	}
	if ctx == nil {
		return false
	}

	if len(c.IdentityTypes) > 0 {
		if ctx.Identity() == nil {
			return false
		}
		matched := false
		for _, t := range c.IdentityTypes {
			if ctx.Identity().Type() == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(c.Roles) > 0 {
		if ctx.Identity() == nil || !ctx.Identity().HasAnyRole(c.Roles) {
			return false
		}
	}

	if c.MaxCallDepth != nil {
		if len(ctx.CallChain()) > *c.MaxCallDepth {
			return false
		}
	}

	return true
}

// AddRule prepends rule so it evaluates before every existing rule
// (spec invariant: "prepending via addRule must take effect immediately").
func (a *ACL) AddRule(rule Rule) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rules = append([]Rule{rule}, a.rules...)
}

// RemoveRule removes the first rule whose Callers and Targets match the
// given lists element-for-element in order. Returns false if no rule
// matched.
func (a *ACL) RemoveRule(callers, targets []string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, rule := range a.rules {
		if stringsEqual(rule.Callers, callers) && stringsEqual(rule.Targets, targets) {
			a.rules = append(a.rules[:i], a.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Rules returns a snapshot of the current rule list, in evaluation order.
func (a *ACL) Rules() []Rule {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Rule, len(a.rules))
	copy(out, a.rules)
	return out
}

// DefaultEffect returns the ACL's default effect.
func (a *ACL) DefaultEffect() Effect {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.defaultEffect
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
