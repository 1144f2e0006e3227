package app

type NotionAppConfig struct {
	BaseURL    string `mapstructure:"base_url"    yaml:"base_url"`
	APIVersion string `mapstructure:"api_version" yaml:"api_version"`
	Timeout    string `mapstructure:"timeout"     yaml:"timeout"`
	MaxRetries int    `mapstructure:"max_retries" yaml:"max_retries"`
	PageSize   int    `mapstructure:"page_size"   yaml:"page_size"`
	MaxPages   int    `mapstructure:"max_pages"   yaml:"max_pages"`
}

type SyncAppConfig struct {
	Interval        string `mapstructure:"interval"          yaml:"interval"`
	MetadataMaxAge  string `mapstructure:"metadata_max_age"  yaml:"metadata_max_age"`
	MetadataRefresh string `mapstructure:"metadata_refresh"  yaml:"metadata_refresh"`
	TaskMaxAge      string `mapstructure:"task_max_age"      yaml:"task_max_age"`
	RepairOnLaunch  bool   `mapstructure:"repair_on_launch"  yaml:"repair_on_launch"`
}

type CacheAppConfig struct {
	Retention       string `mapstructure:"retention"        yaml:"retention"`
	CleanupInterval string `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// HistoryAppConfig holds the append-only operation log of credential and cache changes
type HistoryAppConfig struct {
	Path      string `mapstructure:"path"      yaml:"path"`
	Retention string `mapstructure:"retention" yaml:"retention"`
}
