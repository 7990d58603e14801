// Package model defines the canonical data types of a friendlink instance:
// lock entries, config file state, and the aggregate SyncState they form.
package model

import (
	"fmt"
	"strings"
)

// SafeRelPath validates and normalizes an untrusted relative path.
//
// It rejects empty paths and any ".." segment, and normalizes backslashes
// to forward slashes, stripping any leading slash. Every filesystem path
// derived from remote or user-supplied input must pass through this gate
// before being joined onto an instance root.
func SafeRelPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}

	norm := strings.ReplaceAll(p, "\\", "/")
	norm = strings.TrimLeft(norm, "/")
	if norm == "" {
		return "", fmt.Errorf("empty path after normalization")
	}

	for _, seg := range strings.Split(norm, "/") {
		if seg == ".." {
			return "", fmt.Errorf("path traversal segment in %q", p)
		}
	}

	return norm, nil
}
