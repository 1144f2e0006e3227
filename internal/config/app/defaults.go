package app

import (
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

func GetAppDefault() BaseAppConfig {
	return BaseAppConfig{
		ShutdownTimeout: "10s",
		DataDir:         "./data",

		Log: LogAppConfig{
			Level:      "INFO",
			TimeFormat: "2006-01-02 15:04:05",
			File:       "",
			NoColor:    false,
			JSON:       false,
			NoTerminal: false,
			Rotation: LogAppRotationConfig{
				MaxSize:    128,
				MaxBackups: 5,
				MaxAge:     16,
				Compress:   false,
			},
		},

		Storage: StorageAppConfig{
			Preference:      "icloud",
			PreferencesFile: "preferences.yaml",
			InitTimeout:     "5s",
			Local: StorageLocalConfig{
				Path: "acrostic.db",
			},
			Cloud: StorageCloudConfig{
				DSN: "",
			},
		},

		Shared: SharedAppConfig{
			Path:       "shared/group.db",
			SignalFile: "shared/widget.reload",
		},

		Secrets: SecretAppConfig{
			Path:       "secrets.vault",
			Service:    "com.acrostic.tokens",
			Passphrase: "",
			Timeout:    "5s",
		},

		Notion: NotionAppConfig{
			BaseURL:    "https://api.notion.com",
			APIVersion: "2022-06-28",
			Timeout:    "20s",
			MaxRetries: 3,
			PageSize:   100,
			MaxPages:   50,
		},

		Sync: SyncAppConfig{
			Interval:        "30m",
			MetadataMaxAge:  "24h",
			MetadataRefresh: "1h",
			TaskMaxAge:      "5m",
			RepairOnLaunch:  true,
		},

		Cache: CacheAppConfig{
			Retention:       "168h",
			CleanupInterval: "24h",
		},

		History: HistoryAppConfig{
			Path:      "history.db",
			Retention: "720h",
		},
	}
}

func setDefaults() {
	defaults := GetAppDefault()

	viper.SetDefault("shutdown_timeout", defaults.ShutdownTimeout)
	viper.SetDefault("data_dir", defaults.DataDir)

	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.time_format", defaults.Log.TimeFormat)
	viper.SetDefault("log.file", defaults.Log.File)
	viper.SetDefault("log.no_color", defaults.Log.NoColor)
	viper.SetDefault("log.json", defaults.Log.JSON)
	viper.SetDefault("log.no_terminal", defaults.Log.NoTerminal)
	viper.SetDefault("log.rotation.max_size", defaults.Log.Rotation.MaxSize)
	viper.SetDefault("log.rotation.max_backups", defaults.Log.Rotation.MaxBackups)
	viper.SetDefault("log.rotation.max_age", defaults.Log.Rotation.MaxAge)
	viper.SetDefault("log.rotation.compress", defaults.Log.Rotation.Compress)

	viper.SetDefault("storage.preference", defaults.Storage.Preference)
	viper.SetDefault("storage.preferences_file", defaults.Storage.PreferencesFile)
	viper.SetDefault("storage.init_timeout", defaults.Storage.InitTimeout)
	viper.SetDefault("storage.local.path", defaults.Storage.Local.Path)
	viper.SetDefault("storage.cloud.dsn", defaults.Storage.Cloud.DSN)

	viper.SetDefault("shared.path", defaults.Shared.Path)
	viper.SetDefault("shared.signal_file", defaults.Shared.SignalFile)

	viper.SetDefault("secrets.path", defaults.Secrets.Path)
	viper.SetDefault("secrets.service", defaults.Secrets.Service)
	viper.SetDefault("secrets.passphrase", defaults.Secrets.Passphrase)
	viper.SetDefault("secrets.timeout", defaults.Secrets.Timeout)

	viper.SetDefault("notion.base_url", defaults.Notion.BaseURL)
	viper.SetDefault("notion.api_version", defaults.Notion.APIVersion)
	viper.SetDefault("notion.timeout", defaults.Notion.Timeout)
	viper.SetDefault("notion.max_retries", defaults.Notion.MaxRetries)
	viper.SetDefault("notion.page_size", defaults.Notion.PageSize)
	viper.SetDefault("notion.max_pages", defaults.Notion.MaxPages)

	viper.SetDefault("sync.interval", defaults.Sync.Interval)
	viper.SetDefault("sync.metadata_max_age", defaults.Sync.MetadataMaxAge)
	viper.SetDefault("sync.metadata_refresh", defaults.Sync.MetadataRefresh)
	viper.SetDefault("sync.task_max_age", defaults.Sync.TaskMaxAge)
	viper.SetDefault("sync.repair_on_launch", defaults.Sync.RepairOnLaunch)

	viper.SetDefault("cache.retention", defaults.Cache.Retention)
	viper.SetDefault("cache.cleanup_interval", defaults.Cache.CleanupInterval)

	viper.SetDefault("history.path", defaults.History.Path)
	viper.SetDefault("history.retention", defaults.History.Retention)
}

// Duration parses raw and returns fallback when it is empty or invalid
func Duration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Path resolves p against the data directory unless it is already absolute
func (c *BaseAppConfig) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}
