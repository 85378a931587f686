// Package pathfilter implements the glob-based include/exclude evaluator
// (§4.3, C3) applied at scan time and at sync candidate enumeration. Pattern
// compilation uses doublestar, which the teacher already depends on for its
// own ignore-pattern handling, and whose "**" semantics match the spec's
// "any run including slashes" requirement directly.
package pathfilter

import (
	"fmt"
	"path"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter evaluates a set of exclude patterns. Patterns are validated once at
// construction; each Excluded call matches the stored pattern strings with
// doublestar.
type Filter struct {
	patterns []string
}

// Compile validates and stores the given glob patterns. An error is returned
// if any pattern is not valid doublestar syntax.
func Compile(patterns []string) (*Filter, error) {
	compiled := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
		compiled = append(compiled, p)
	}
	return &Filter{patterns: compiled}, nil
}

// Excluded reports whether relativePath should be excluded. Per §4.3, a
// pattern is checked against both the full relative path and the basename;
// a match on either excludes the entry. relativePath must use "/" separators
// and must not have a leading slash.
func (f *Filter) Excluded(relativePath string) bool {
	if f == nil {
		return false
	}
	base := path.Base(relativePath)
	for _, pattern := range f.patterns {
		if matched, _ := doublestar.Match(pattern, relativePath); matched {
			return true
		}
		if matched, _ := doublestar.Match(pattern, base); matched {
			return true
		}
	}
	return false
}

// Patterns returns the compiled pattern strings, mostly for diagnostics.
func (f *Filter) Patterns() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.patterns))
	copy(out, f.patterns)
	return out
}
