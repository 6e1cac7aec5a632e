package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOperators(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "operators.yaml")
	err := os.WriteFile(path, []byte(`
operators:
  - alice
  - bob
  - ""
`), 0644)
	require.NoError(t, err)

	ops, err := LoadOperators(path)
	require.NoError(t, err)
	assert.True(t, ops["alice"])
	assert.True(t, ops["bob"])
	assert.False(t, ops["carol"])
	assert.Len(t, ops, 2)
}

func TestLoadOperatorsEmptyPath(t *testing.T) {
	ops, err := LoadOperators("")
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestLoadOperatorsMissingFile(t *testing.T) {
	_, err := LoadOperators("/nonexistent/operators.yaml")
	assert.Error(t, err)
}

func TestLoadOperatorsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("operators: {not a list"), 0644))

	_, err := LoadOperators(path)
	assert.Error(t, err)
}
