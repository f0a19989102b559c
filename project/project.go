// Package project guards where sessions may live on disk. A Validator
// answers whether a target directory falls inside one of the configured
// project roots; a Provisioner creates backing directories for new tasks.
package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Validator checks candidate paths against a fixed set of allowed roots.
// With no roots configured every path is rejected.
type Validator struct {
	roots []string
}

// NewValidator resolves each root to an absolute path. Relative roots are
// resolved against the current working directory once, at construction.
func NewValidator(allowedRoots ...string) (*Validator, error) {
	roots := make([]string, 0, len(allowedRoots))
	for _, r := range allowedRoots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("project: resolving root %q: %w", r, err)
		}
		roots = append(roots, filepath.Clean(abs))
	}
	return &Validator{roots: roots}, nil
}

// Roots returns the resolved allowed roots.
func (v *Validator) Roots() []string {
	return append([]string(nil), v.roots...)
}

// IsPathAllowed reports whether path lies within an allowed root. The path
// is resolved and cleaned first, so traversal segments cannot escape.
func (v *Validator) IsPathAllowed(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	abs = filepath.Clean(abs)
	for _, root := range v.roots {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Provisioner creates the backing directory for a new task.
type Provisioner interface {
	CreateTask(ctx context.Context, name string) (string, error)
}

// DirProvisioner provisions plain directories under a fixed base.
type DirProvisioner struct {
	base string
}

// NewDirProvisioner constructs a DirProvisioner rooted at base.
func NewDirProvisioner(base string) *DirProvisioner {
	return &DirProvisioner{base: base}
}

// CreateTask creates base/name and returns its path. Name must be a single
// path element; anything containing a separator is rejected.
func (p *DirProvisioner) CreateTask(ctx context.Context, name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("project: invalid task name %q", name)
	}
	dir := filepath.Join(p.base, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("project: creating task directory: %w", err)
	}
	return dir, nil
}

var _ Provisioner = (*DirProvisioner)(nil)
