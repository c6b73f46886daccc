package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenameOrFail_MovesFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.md")
	dst := filepath.Join(dir, "dst.md")
	require.NoError(t, os.WriteFile(src, []byte("content"), 0o644))

	require.NoError(t, RenameOrFail(src, dst))

	_, err := os.Stat(src)
	require.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "content", string(data))
}

func TestRenameOrFail_RefusesToOverwriteExistingDest(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.md")
	dst := filepath.Join(dir, "dst.md")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0o644))

	err := RenameOrFail(src, dst)
	require.ErrorIs(t, err, ErrClaimLost)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "old", string(data))
}

func TestRenameOrFail_MissingSourceIsClaimLost(t *testing.T) {
	dir := t.TempDir()
	err := RenameOrFail(filepath.Join(dir, "missing.md"), filepath.Join(dir, "dst.md"))
	require.ErrorIs(t, err, ErrClaimLost)
}
