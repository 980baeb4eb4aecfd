package tools

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ResolvePath maps a tool-supplied path onto the workspace. With a
// workspace root, "." and "./" mean the root and relative paths are joined
// to it. Absolute paths, and every path when root is empty, pass through.
func ResolvePath(root, p string) string {
	if root == "" || p == "" {
		return p
	}
	if p == "." || p == "./" {
		return root
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// denyPolicy rejects resolved paths matching any of its globs.
type denyPolicy struct {
	patterns []string
}

func newDenyPolicy(patterns []string) (*denyPolicy, error) {
	valid := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p == "" {
			continue
		}
		p = strings.TrimPrefix(filepath.ToSlash(p), "/")
		if !doublestar.ValidatePattern(p) {
			return nil, NewToolErrorf(ErrInvalidParams, "invalid deny pattern: %s", p)
		}
		valid = append(valid, p)
	}
	return &denyPolicy{patterns: valid}, nil
}

// Denied returns the first pattern matching path, or "".
func (d *denyPolicy) Denied(path string) string {
	if d == nil {
		return ""
	}
	// patterns and paths are compared without the leading slash
	slashed := strings.TrimPrefix(filepath.ToSlash(filepath.Clean(path)), "/")
	for _, pattern := range d.patterns {
		if ok, _ := doublestar.Match(pattern, slashed); ok {
			return pattern
		}
		// a pattern for a directory also covers everything below it
		if ok, _ := doublestar.Match(pattern+"/**", slashed); ok {
			return pattern
		}
	}
	return ""
}
