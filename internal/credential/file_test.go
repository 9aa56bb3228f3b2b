package credential

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_Contract(t *testing.T) {
	clock := newFakeClock()
	path := filepath.Join(t.TempDir(), "session", "credentials.json")
	storeContract(t, NewFileStore(path, clock.Now), clock)
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.json")

	first := NewFileStore(path, nil)
	require.NoError(t, first.Set(ctx, "accessToken", "tok-1", time.Hour))

	second := NewFileStore(path, nil)
	v, ok, err := second.Get(ctx, "accessToken")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok-1", v)
}

func TestFileStore_OwnerOnlyPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s := NewFileStore(path, nil)
	require.NoError(t, s.Set(context.Background(), "accessToken", "tok", time.Hour))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".credentials-*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temp files are cleaned up")
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, _, err := NewFileStore(path, nil).Get(context.Background(), "accessToken")
	assert.Error(t, err)
}

func TestFileStore_EraseMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, NewFileStore(path, nil).Erase(context.Background(), "accessToken"))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "erase of a missing entry does not create the file")
}
