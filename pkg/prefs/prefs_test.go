package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_DefaultWhenMissing(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "preferences.yaml"), "icloud")
	require.NoError(t, err)
	require.Equal(t, "icloud", s.Storage())
}

func TestStore_PersistsValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device", "preferences.yaml")

	s, err := Open(path, "icloud")
	require.NoError(t, err)
	require.NoError(t, s.SetStorage("local"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "storage: local")

	reopened, err := Open(path, "icloud")
	require.NoError(t, err)
	require.Equal(t, "local", reopened.Storage())
}

func TestStore_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: [unterminated"), 0o644))

	_, err := Open(path, "icloud")
	require.Error(t, err)
}
