package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolver resolves and validates workspace-relative paths, centralizing the
// path-safety rule every file-touching tool applies: resolve
// the candidate relative to the workspace, resolve both candidate and root
// through the filesystem (following symlinks), and reject unless the
// resolved candidate is a prefix-descendant of the resolved root. Absolute
// paths and any resolution error are rejected outright.
type Resolver struct {
	Root string
}

// Resolve returns an absolute, symlink-resolved path guaranteed to live
// inside the workspace root, or an error describing why it does not.
func (r Resolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", path)
	}

	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	rootResolved, err := resolveSymlinksAllowMissing(rootAbs)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}

	joined := filepath.Clean(filepath.Join(rootResolved, clean))
	targetResolved, err := resolveSymlinksAllowMissing(joined)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	rel, err := filepath.Rel(rootResolved, targetResolved)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return targetResolved, nil
}

// resolveSymlinksAllowMissing resolves symlinks along path the way
// filepath.EvalSymlinks does, but tolerates a path whose final components
// don't exist yet (the create_file case): it walks up to the deepest
// existing ancestor, resolves that, and re-appends the missing suffix
// unresolved.
func resolveSymlinksAllowMissing(path string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved, nil
	} else if !os.IsNotExist(err) {
		return "", err
	}

	parent := filepath.Dir(path)
	if parent == path {
		// Reached the filesystem root without finding an existing ancestor.
		return path, nil
	}
	resolvedParent, err := resolveSymlinksAllowMissing(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(path)), nil
}
