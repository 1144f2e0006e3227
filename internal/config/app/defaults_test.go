package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadAppConfig_UsesDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := LoadAppConfig()
	require.NoError(t, err)

	defaults := GetAppDefault()
	require.Equal(t, defaults.Storage.Preference, cfg.Storage.Preference)
	require.Equal(t, defaults.Sync.MetadataMaxAge, cfg.Sync.MetadataMaxAge)
	require.Equal(t, defaults.Log.Rotation.MaxBackups, cfg.Log.Rotation.MaxBackups)
	require.True(t, cfg.Sync.RepairOnLaunch)
}

func TestLoadAppConfig_OverridesFromViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("storage.preference", "local")
	viper.Set("notion.page_size", 25)

	cfg, err := LoadAppConfig()
	require.NoError(t, err)
	require.Equal(t, "local", cfg.Storage.Preference)
	require.Equal(t, 25, cfg.Notion.PageSize)
}

func TestDuration(t *testing.T) {
	require.Equal(t, 2*time.Hour, Duration("2h", time.Minute))
	require.Equal(t, time.Minute, Duration("", time.Minute))
	require.Equal(t, time.Minute, Duration("soon", time.Minute))
	require.Equal(t, time.Minute, Duration("-5s", time.Minute))
}

func TestPath(t *testing.T) {
	cfg := &BaseAppConfig{DataDir: "/var/lib/acrostic"}

	require.Equal(t, filepath.Join("/var/lib/acrostic", "acrostic.db"), cfg.Path("acrostic.db"))
	require.Equal(t, "/tmp/x.db", cfg.Path("/tmp/x.db"))
	require.Equal(t, "", cfg.Path(""))
}
