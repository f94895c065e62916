// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"path"
	"strings"
)

// MatchPattern reports whether value matches a hierarchical glob
// pattern. Segments are separated by "/". Within one segment, "*"
// matches any run of non-slash characters and "?" matches exactly one.
// The segment "**" matches any number of segments, including zero.
//
// A malformed pattern matches nothing.
func MatchPattern(pattern, value string) bool {
	if pattern == "**" {
		return true
	}
	if !strings.Contains(pattern, "**") {
		ok, err := path.Match(pattern, value)
		return err == nil && ok
	}
	if rest, found := strings.CutSuffix(pattern, "/**"); found && !strings.Contains(rest, "**") {
		// "a/b/**": the prefix itself or anything under it.
		return matchGlob(rest, value) || hasMatchingPrefix(rest, value)
	}
	if rest, found := strings.CutPrefix(pattern, "**/"); found && !strings.Contains(rest, "**") {
		// "**/b/c": the suffix itself or anything above it.
		return matchGlob(rest, value) || hasMatchingSuffix(rest, value)
	}
	prefix, suffix, found := strings.Cut(pattern, "/**/")
	if found && !strings.Contains(prefix, "**") && !strings.Contains(suffix, "**") {
		// "a/**/b": fixed head and tail with any gap between.
		segments := strings.Split(value, "/")
		head := len(strings.Split(prefix, "/"))
		tail := len(strings.Split(suffix, "/"))
		if len(segments) < head+tail {
			return false
		}
		return matchGlob(prefix, strings.Join(segments[:head], "/")) &&
			matchGlob(suffix, strings.Join(segments[len(segments)-tail:], "/"))
	}
	// Multiple "**" or malformed placement: refuse to match.
	return false
}

// MatchAnyPattern reports whether value matches at least one pattern.
func MatchAnyPattern(patterns []string, value string) bool {
	for _, pattern := range patterns {
		if MatchPattern(pattern, value) {
			return true
		}
	}
	return false
}

func matchGlob(pattern, value string) bool {
	ok, err := path.Match(pattern, value)
	return err == nil && ok
}

// hasMatchingPrefix reports whether some "/"-separated prefix of value
// matches pattern.
func hasMatchingPrefix(pattern, value string) bool {
	for i := 0; i < len(value); i++ {
		if value[i] == '/' && matchGlob(pattern, value[:i]) {
			return true
		}
	}
	return false
}

// hasMatchingSuffix reports whether some "/"-separated suffix of value
// matches pattern.
func hasMatchingSuffix(pattern, value string) bool {
	for i := 0; i < len(value); i++ {
		if value[i] == '/' && matchGlob(pattern, value[i+1:]) {
			return true
		}
	}
	return false
}

// specificity scores a resource pattern by its literal character
// count. Wildcard characters and the segments they occupy contribute
// nothing, so exact paths outrank single-segment globs, which outrank
// recursive globs.
func specificity(pattern string) int {
	score := 0
	for _, r := range pattern {
		switch r {
		case '*', '?', '[', ']':
		default:
			score++
		}
	}
	return score
}
