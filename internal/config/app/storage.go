package app

// StorageAppConfig holds the object store backends and the per-device preference file
type StorageAppConfig struct {
	// Preference is only used when the preference file does not exist yet
	Preference      string             `mapstructure:"preference"       yaml:"preference"`
	PreferencesFile string             `mapstructure:"preferences_file" yaml:"preferences_file"`
	InitTimeout     string             `mapstructure:"init_timeout"     yaml:"init_timeout"`
	Local           StorageLocalConfig `mapstructure:"local"            yaml:"local"`
	Cloud           StorageCloudConfig `mapstructure:"cloud"            yaml:"cloud"`
}

// StorageLocalConfig holds the device-only sqlite store
type StorageLocalConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// StorageCloudConfig holds the synced store, usually a postgres DSN
type StorageCloudConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// SharedAppConfig holds the cross-process key-value store read by the widget extension
type SharedAppConfig struct {
	Path       string `mapstructure:"path"        yaml:"path"`
	SignalFile string `mapstructure:"signal_file" yaml:"signal_file"`
}

type SecretAppConfig struct {
	Path       string `mapstructure:"path"       yaml:"path"`
	Service    string `mapstructure:"service"    yaml:"service"`
	Passphrase string `mapstructure:"passphrase" yaml:"passphrase"`
	Timeout    string `mapstructure:"timeout"    yaml:"timeout"`
}
