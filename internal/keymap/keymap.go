// Package keymap derives remote object keys from local file paths.
//
// A key is the configured prefix followed by the file's path relative to the
// source root, always using forward slashes. The mapping is deterministic and
// reversible, so two distinct files under the root never share a key.
package keymap

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a path does not live under the mapper's root.
var ErrOutsideRoot = errors.New("path is outside the source root")

// Mapper maps local paths under Root to keys under Prefix.
type Mapper struct {
	root   string
	prefix string
}

// New creates a mapper. The root is cleaned and made absolute.
func New(root, prefix string) (*Mapper, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
	}
	return &Mapper{root: abs, prefix: prefix}, nil
}

// Root returns the absolute source root.
func (m *Mapper) Root() string {
	return m.root
}

// Prefix returns the remote key prefix.
func (m *Mapper) Prefix() string {
	return m.prefix
}

// Key returns prefix + root-relative path with forward slashes.
func (m *Mapper) Key(localPath string) (string, error) {
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", localPath, err)
	}

	rel, err := filepath.Rel(m.root, abs)
	if err != nil {
		return "", fmt.Errorf("%s: %w", localPath, ErrOutsideRoot)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", localPath, ErrOutsideRoot)
	}

	return m.prefix + filepath.ToSlash(rel), nil
}

// Path reverses Key, returning the local path a key was derived from.
func (m *Mapper) Path(key string) (string, error) {
	if !strings.HasPrefix(key, m.prefix) {
		return "", fmt.Errorf("key %s does not start with prefix %q", key, m.prefix)
	}

	rel := path.Clean(strings.TrimPrefix(key, m.prefix))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") || path.IsAbs(rel) {
		return "", fmt.Errorf("key %s: %w", key, ErrOutsideRoot)
	}

	return filepath.Join(m.root, filepath.FromSlash(rel)), nil
}
