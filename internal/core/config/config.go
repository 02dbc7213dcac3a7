// Package config implements the dot-path accessor over a nested
// map[string]any used for executor, ACL and registry configuration
// (spec §4.1 "Configuration (recognized options)").
package config

import (
	"strconv"
	"strings"
	"time"
)

// Accessor wraps a nested map and resolves dot-separated paths such as
// "executor.default_timeout" against it.
type Accessor struct {
	data map[string]any
}

// New wraps data. A nil map is treated as empty.
func New(data map[string]any) *Accessor {
	if data == nil {
		data = map[string]any{}
	}
	return &Accessor{data: data}
}

// Get resolves path against the nested map, walking one key per dot
// segment. It returns (nil, false) if any segment is missing or if an
// intermediate segment is not itself a map.
func (a *Accessor) Get(path string) (any, bool) {
	segments := strings.Split(path, ".")
	var cur any = a.data

	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, exists := m[seg]
		if !exists {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// GetString resolves path, returning def if absent or not a string.
func (a *Accessor) GetString(path, def string) string {
	v, ok := a.Get(path)
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

// GetInt resolves path, returning def if absent or not an integer-like
// value. Accepts int, int64, float64 (as decoded from YAML/JSON) and
// numeric strings.
func (a *Accessor) GetInt(path string, def int) int {
	v, ok := a.Get(path)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return def
		}
		return i
	default:
		return def
	}
}

// GetDuration resolves path interpreting the value as milliseconds
// (matching spec's "(ms, default ...)" config conventions), returning def
// if absent or invalid.
func (a *Accessor) GetDuration(path string, def time.Duration) time.Duration {
	v, ok := a.Get(path)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return time.Duration(n) * time.Millisecond
	case int64:
		return time.Duration(n) * time.Millisecond
	case float64:
		return time.Duration(n) * time.Millisecond
	default:
		return def
	}
}

// GetBool resolves path, returning def if absent or not a bool.
func (a *Accessor) GetBool(path string, def bool) bool {
	v, ok := a.Get(path)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// Merge returns a new Accessor whose map is the shallow union of a and
// override, with override's top-level keys winning. Used to layer
// defaults under caller-supplied options.
func (a *Accessor) Merge(override map[string]any) *Accessor {
	merged := make(map[string]any, len(a.data)+len(override))
	for k, v := range a.data {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return New(merged)
}
