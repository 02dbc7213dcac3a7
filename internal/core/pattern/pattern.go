// Package pattern implements the glob-style module-ID matcher used by the
// ACL evaluator (spec §4.3, Algorithm A08).
package pattern

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	// External is the sentinel caller ID for calls with no caller module
	// (i.e. the call originated outside the dispatch tree).
	External = "@external"
	// System matches only when the acting identity's type is "system".
	System = "@system"
)

// IdentityType is the minimal view of a caller identity the matcher needs
// to resolve the @system sentinel, without importing the core context
// package (which would create an import cycle: context -> acl -> pattern).
type IdentityType interface {
	Type() string
}

// Match reports whether pattern matches s under Algorithm A08:
//
//   - "@external" matches only the literal string "@external".
//   - "@system" matches only when identity is non-nil and identity.Type()
//     == "system".
//   - Otherwise, pattern is split on '*'. Each non-empty segment must be
//     found in s in left-to-right order. If pattern does not start with
//     '*', the first segment must be a prefix of s. If pattern does not
//     end with '*', the last segment must be a suffix of s. A bare "*"
//     matches any string including the empty string. A pattern with no
//     '*' at all is an exact match.
//
// Module IDs are compared after Unicode NFC normalization so visually
// identical IDs typed on different input methods compare equal.
func Match(p, s string, identity IdentityType) bool {
	switch p {
	case External:
		return s == External
	case System:
		return identity != nil && identity.Type() == "system"
	}

	p = norm.NFC.String(p)
	s = norm.NFC.String(s)

	if !strings.Contains(p, "*") {
		return p == s
	}
	if p == "*" {
		return true
	}

	segments := strings.Split(p, "*")
	startsWithStar := strings.HasPrefix(p, "*")
	endsWithStar := strings.HasSuffix(p, "*")

	// strings.Split("*a*", "*") == ["", "a", ""]; drop the sentinel empty
	// segments produced by leading/trailing '*' before the scan, but keep
	// internal empty segments (consecutive '*' collapse harmlessly).
	first := 0
	last := len(segments) - 1
	if startsWithStar {
		first = 1
	}
	if endsWithStar {
		last = len(segments) - 2
	}

	cursor := 0
	matchedAny := false
	for i := first; i <= last; i++ {
		seg := segments[i]
		if seg == "" {
			continue
		}
		idx := strings.Index(s[cursor:], seg)
		if idx < 0 {
			return false
		}
		// The first segment of a pattern not anchored by a leading '*'
		// must match at the very start of s.
		if !matchedAny && !startsWithStar && idx != 0 {
			return false
		}
		cursor += idx + len(seg)
		matchedAny = true
	}

	if !endsWithStar {
		lastSeg := ""
		for i := last; i >= first; i-- {
			if segments[i] != "" {
				lastSeg = segments[i]
				break
			}
		}
		if lastSeg != "" && !strings.HasSuffix(s, lastSeg) {
			return false
		}
	}

	return true
}

// MatchAny reports whether s matches any of patterns.
func MatchAny(patterns []string, s string, identity IdentityType) bool {
	for _, p := range patterns {
		if Match(p, s, identity) {
			return true
		}
	}
	return false
}
