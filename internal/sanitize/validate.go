package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrPathTraversal indicates a path attempts to escape its allowed root.
	ErrPathTraversal = errors.New("path traversal detected")

	// ErrEmptyPath indicates an empty path was provided.
	ErrEmptyPath = errors.New("path cannot be empty")
)

// ValidatePath checks a path for security issues:
//   - No directory traversal (..)
//   - Resolves to absolute path and validates it stays within expected root
//   - Returns the cleaned, absolute path or an error
//
// If allowedRoot is empty, only traversal checks are performed.
// If allowedRoot is provided, the path must resolve within that directory.
func ValidatePath(path, allowedRoot string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}

	// Check for obvious traversal patterns before any processing
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("%w: contains '..'", ErrPathTraversal)
	}

	cleanPath := filepath.Clean(path)

	// Re-check after cleaning (handles edge cases like "foo/../..")
	if strings.Contains(cleanPath, "..") {
		return "", fmt.Errorf("%w: resolves to traversal", ErrPathTraversal)
	}

	absPath := cleanPath
	if !filepath.IsAbs(cleanPath) {
		var err error
		if allowedRoot != "" {
			absPath = filepath.Join(allowedRoot, cleanPath)
		} else if absPath, err = filepath.Abs(cleanPath); err != nil {
			return "", fmt.Errorf("failed to resolve path: %w", err)
		}
	}

	if allowedRoot != "" {
		absRoot, err := filepath.Abs(allowedRoot)
		if err != nil {
			return "", fmt.Errorf("failed to resolve allowed root: %w", err)
		}

		rel, err := filepath.Rel(absRoot, absPath)
		if err != nil {
			return "", fmt.Errorf("%w: path outside allowed root", ErrPathTraversal)
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: path escapes allowed root", ErrPathTraversal)
		}
	}

	return absPath, nil
}

// SafeBasename returns the base name of a path after validation.
// This is a secure replacement for filepath.Base() on untrusted input.
func SafeBasename(path string) (string, error) {
	cleanPath, err := ValidatePath(path, "")
	if err != nil {
		return "", err
	}

	base := filepath.Base(cleanPath)
	if base == "" || base == "." || base == "/" || base == string(filepath.Separator) {
		return "", fmt.Errorf("%w: invalid path base", ErrPathTraversal)
	}

	return base, nil
}
