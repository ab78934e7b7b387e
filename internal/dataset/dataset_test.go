package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkgv/cpm/internal/cpmerr"
	"github.com/dkgv/cpm/internal/vector"
)

func TestNewAssignsPosIDsPerClass(t *testing.T) {
	v1, _ := vector.ParseLibSVMBody("1:1.0")
	v2, _ := vector.ParseLibSVMBody("1:1.0")
	v3, _ := vector.ParseLibSVMBody("1:-1.0")
	a, err := New(1, []int{1, 1, -1}, []*vector.SparseVector{v1, v2, v3})
	require.NoError(t, err)
	assert.Equal(t, 2, a.NumPositive())
	assert.Equal(t, 1, a.NumNegative())
	assert.EqualValues(t, 0, a.At(0).PosID)
	assert.EqualValues(t, 1, a.At(1).PosID)
	assert.EqualValues(t, 0, a.At(2).PosID)
	assert.Equal(t, 2, a.MaxDim())
}

func TestLoadLibSVMStopsOnBlankLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	content := "1 1:1.0 2:2.0\n-1 1:-1.0\n\nshould not be read\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	a, err := LoadLibSVM(path, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, a.Len())
	assert.Equal(t, 1, a.NumPositive())
	assert.Equal(t, 1, a.NumNegative())
}

func TestLoadLibSVMStopsOnShortLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	content := "1 1:1.0\n1 2\nrest\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	a, err := LoadLibSVM(path, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Len())
}

func TestLoadLibSVMMissingFile(t *testing.T) {
	_, err := LoadLibSVM("/nonexistent/path/does-not-exist.txt", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, cpmerr.ErrIoFailure)
}

func TestLoadLibSVMMalformedLabel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("notanumber 1:1.0\n"), 0o644))

	_, err := LoadLibSVM(path, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, cpmerr.ErrMalformedInput)
}
