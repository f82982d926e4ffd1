// Package exclude filters workspace-relative paths against a fixed list of
// exclusion patterns. The matcher sits on the watcher's hot path, so it does
// no I/O and allocates nothing per call beyond segment splitting.
package exclude

import (
	"path/filepath"
	"strings"
)

// Matcher reports whether a path matches any configured exclusion pattern.
// The pattern list is fixed for the lifetime of a watch session, so a
// path's verdict is stable once the matcher is built.
//
// Two pattern forms are supported:
//
//   - Literal patterns (no glob metacharacters) match the exact path, a
//     leading path prefix, a whole middle segment run, or a trailing suffix.
//     "node_modules" excludes node_modules, node_modules/x, a/node_modules/b
//     and a/node_modules.
//   - Glob patterns, where * matches within a single path segment and **
//     matches any number of segments including zero ("**/build" matches
//     build at the root).
type Matcher struct {
	literals []string
	globs    [][]string // pre-split into segments
}

// New builds a Matcher from the given patterns. Patterns are normalized to
// forward slashes; empty patterns are dropped.
func New(patterns []string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		p = strings.Trim(filepath.ToSlash(p), "/")
		if p == "" {
			continue
		}
		if strings.ContainsAny(p, "*?[") {
			m.globs = append(m.globs, strings.Split(p, "/"))
		} else {
			m.literals = append(m.literals, p)
		}
	}
	return m
}

// Excluded reports whether the workspace-relative path matches any pattern.
func (m *Matcher) Excluded(path string) bool {
	path = strings.Trim(filepath.ToSlash(path), "/")
	if path == "" {
		return false
	}

	for _, lit := range m.literals {
		if path == lit ||
			strings.HasPrefix(path, lit+"/") ||
			strings.Contains(path, "/"+lit+"/") ||
			strings.HasSuffix(path, "/"+lit) {
			return true
		}
	}

	if len(m.globs) == 0 {
		return false
	}

	segs := strings.Split(path, "/")
	for _, pat := range m.globs {
		if matchSegments(pat, segs) {
			return true
		}
		// A bare glob like "*.log" also applies to any path component,
		// the way ignore files are usually read.
		if len(pat) == 1 {
			for _, s := range segs {
				if ok, _ := filepath.Match(pat[0], s); ok {
					return true
				}
			}
		}
	}
	return false
}

// matchSegments matches pattern segments against path segments. "**" may
// consume zero or more path segments; every other segment is matched with
// filepath.Match, so * never crosses a separator.
func matchSegments(pat, path []string) bool {
	if len(pat) == 0 {
		return len(path) == 0
	}
	if pat[0] == "**" {
		if matchSegments(pat[1:], path) {
			return true
		}
		return len(path) > 0 && matchSegments(pat, path[1:])
	}
	if len(path) == 0 {
		return false
	}
	ok, err := filepath.Match(pat[0], path[0])
	if err != nil || !ok {
		return false
	}
	// A directory pattern excludes everything beneath it.
	if len(pat) == 1 && len(path) > 1 {
		return true
	}
	return matchSegments(pat[1:], path[1:])
}
