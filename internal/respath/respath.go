// Package respath validates and canonicalizes caller-supplied resource
// paths. Resource paths are always relative, /-separated, and interpreted
// against a package root regardless of host platform.
//
// Normalization is purely lexical: it never touches the filesystem or any
// loader, so it is safe to run before any I/O happens.
package respath

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInvalidPath is returned for absolute paths, paths that escape the
// package root after resolving dot segments, and other malformed input.
var ErrInvalidPath = errors.New("invalid path")

// Normalize returns the canonical relative form of name.
//
// It rejects empty paths, paths containing NUL or backslashes (we only
// accept the /-separated convention), absolute paths, and paths that still
// reference a location above the package root after "." and ".." segments
// are collapsed. Normalizing an already-normalized path returns it unchanged.
func Normalize(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: NUL byte in %q", ErrInvalidPath, name)
	}
	if strings.ContainsRune(name, '\\') {
		return "", fmt.Errorf("%w: backslash in %q (use / separators)", ErrInvalidPath, name)
	}
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: absolute: %q", ErrInvalidPath, name)
	}

	clean := path.Clean(name)

	// "a/.." collapses to "." which names the package root, not a resource
	if clean == "." {
		return "", fmt.Errorf("%w: %q resolves to the package root", ErrInvalidPath, name)
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: traversal: %q", ErrInvalidPath, name)
	}

	return clean, nil
}
