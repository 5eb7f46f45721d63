package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAtomicWriteFileReplacesContent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "state.json")
	require.NoError(t, AtomicWriteFile(path, []byte("first")))
	require.NoError(t, AtomicWriteFile(path, []byte("second")))

	data, ok, err := ReadOptional(path)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "second", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(filePerm), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files are left behind")
}

func TestReadOptionalMissing(t *testing.T) {
	t.Parallel()

	data, ok, err := ReadOptional(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, data)
}

func TestEnsureDirWithoutDirectory(t *testing.T) {
	t.Parallel()

	require.NoError(t, EnsureDir("file.db"))
}
