// Package pathsafety validates caller-supplied filesystem paths before
// GitOps or the worktree layer touch them: a path must resolve inside the
// user's home directory and outside a denylist of sensitive subtrees.
package pathsafety

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// sensitiveSubtrees are home-relative directories Validate refuses to
// resolve into, regardless of how the caller's path is spelled.
var sensitiveSubtrees = []string{
	".ssh",
	".gnupg",
	".aws",
	".config",
	".docker",
}

// Validate resolves path to its canonical, symlink-free absolute form and
// rejects it unless that form is inside the user's home directory and
// outside every entry in sensitiveSubtrees. It returns the canonical path
// on success.
func Validate(path string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("pathsafety: resolving home directory: %w", err)
	}
	return validateUnder(path, home)
}

// validateUnder is Validate parameterized over the containing root, kept
// separate so tests can exercise containment logic without touching the
// real home directory.
func validateUnder(path, root string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("pathsafety: resolving absolute path: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("pathsafety: resolving symlinks: %w", err)
		}
		// Path doesn't exist yet (e.g. a worktree about to be created);
		// validate the deepest existing ancestor instead.
		resolved, err = resolveExistingAncestor(abs)
		if err != nil {
			return "", fmt.Errorf("pathsafety: resolving existing ancestor: %w", err)
		}
	}

	rootResolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		rootResolved = root
	}

	rel, err := filepath.Rel(rootResolved, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("pathsafety: %q escapes the permitted root %q", path, rootResolved)
	}

	for _, sub := range sensitiveSubtrees {
		if rel == sub || strings.HasPrefix(rel, sub+string(filepath.Separator)) {
			return "", fmt.Errorf("pathsafety: %q resolves into denylisted subtree %q", path, sub)
		}
	}

	return filepath.Join(rootResolved, rel), nil
}

// resolveExistingAncestor walks up from path until it finds a directory
// that exists, resolves that ancestor's symlinks, then re-appends the
// non-existent suffix of the original path unchanged.
func resolveExistingAncestor(path string) (string, error) {
	var suffix []string
	dir := path
	for {
		if _, err := os.Stat(dir); err == nil {
			resolved, err := filepath.EvalSymlinks(dir)
			if err != nil {
				return "", err
			}
			for i := len(suffix) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, suffix[i])
			}
			return resolved, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing ancestor found for %q", path)
		}
		suffix = append(suffix, filepath.Base(dir))
		dir = parent
	}
}
