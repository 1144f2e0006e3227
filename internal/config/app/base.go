package app

import (
	"fmt"

	"github.com/spf13/viper"
)

type BaseAppConfig struct {
	ShutdownTimeout string `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DataDir         string `mapstructure:"data_dir"         yaml:"data_dir"`

	Log     LogAppConfig     `mapstructure:"log"     yaml:"log"`
	Storage StorageAppConfig `mapstructure:"storage" yaml:"storage"`
	Shared  SharedAppConfig  `mapstructure:"shared"  yaml:"shared"`
	Secrets SecretAppConfig  `mapstructure:"secrets" yaml:"secrets"`
	Notion  NotionAppConfig  `mapstructure:"notion"  yaml:"notion"`
	Sync    SyncAppConfig    `mapstructure:"sync"    yaml:"sync"`
	Cache   CacheAppConfig   `mapstructure:"cache"   yaml:"cache"`
	History HistoryAppConfig `mapstructure:"history" yaml:"history"`
}

func LoadAppConfig() (*BaseAppConfig, error) {
	cfg := &BaseAppConfig{}

	setDefaults()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	return cfg, nil
}
