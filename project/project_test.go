package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_IsPathAllowed(t *testing.T) {
	root := t.TempDir()
	v, err := NewValidator(root)
	require.NoError(t, err)

	assert.True(t, v.IsPathAllowed(root))
	assert.True(t, v.IsPathAllowed(filepath.Join(root, "nested", "deep")))
	assert.False(t, v.IsPathAllowed(filepath.Dir(root)))
	assert.False(t, v.IsPathAllowed(root+"sibling"))
	assert.False(t, v.IsPathAllowed(filepath.Join(root, "..", "escape")))
}

func TestValidator_NoRootsRejectsEverything(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	assert.False(t, v.IsPathAllowed("/tmp"))
}

func TestDirProvisioner_CreateTask(t *testing.T) {
	base := t.TempDir()
	p := NewDirProvisioner(base)

	dir, err := p.CreateTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "task-1"), dir)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = p.CreateTask(context.Background(), "../escape")
	assert.Error(t, err)
	_, err = p.CreateTask(context.Background(), "")
	assert.Error(t, err)
}
