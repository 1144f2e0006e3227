package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	config "github.com/jacobrmount/Acrostic/internal/config/app"
	"github.com/jacobrmount/Acrostic/internal/publisher"
	"github.com/jacobrmount/Acrostic/internal/repair"
	"github.com/jacobrmount/Acrostic/internal/service"
	"github.com/jacobrmount/Acrostic/internal/syncer"
	"github.com/jacobrmount/Acrostic/pkg/cache"
	"github.com/jacobrmount/Acrostic/pkg/db/store"
	"github.com/jacobrmount/Acrostic/pkg/kv"
	"github.com/jacobrmount/Acrostic/pkg/log"
	"github.com/jacobrmount/Acrostic/pkg/notion"
	"github.com/jacobrmount/Acrostic/pkg/oplog"
	"github.com/jacobrmount/Acrostic/pkg/prefs"
	"github.com/jacobrmount/Acrostic/pkg/secret"
)

// Components holds every long-lived part of the process, built once from the
// configuration. The agent and the one-shot CLI commands share it.
type Components struct {
	Logger      log.LoggerService
	Preferences *prefs.Store
	Storage     *store.Manager
	Shared      *kv.SQLiteStore
	History     *oplog.Log
	Secrets     secret.Store
	Source      notion.Source
	Cache       *cache.Service
	Publisher   *publisher.Publisher
	Syncer      *syncer.Syncer
	Repairer    *repair.Repairer
	Service     *service.Service

	historyStore *kv.SQLiteStore
}

func Open(ctx context.Context, cfg *config.BaseAppConfig, logger log.LoggerService) (*Components, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	c := &Components{Logger: logger}

	preferences, err := prefs.Open(cfg.Path(cfg.Storage.PreferencesFile), cfg.Storage.Preference)
	if err != nil {
		return nil, err
	}
	c.Preferences = preferences

	localPath := cfg.Path(cfg.Storage.Local.Path)
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	cloudDSN := cfg.Storage.Cloud.DSN

	c.Storage = store.NewManager(store.ManagerOptions{
		Local: store.GormOpener(func() (*store.GormStore, error) {
			return store.OpenLocal(localPath)
		}),
		Cloud: store.GormOpener(func() (*store.GormStore, error) {
			return store.OpenCloud(cloudDSN)
		}),
		Preferences: preferences,
		InitTimeout: config.Duration(cfg.Storage.InitTimeout, store.DefaultInitTimeout),
		Logger:      logger.Named("store"),
	})
	if err := c.Storage.Init(ctx); err != nil {
		return nil, err
	}

	shared, err := kv.OpenSQLite(cfg.Path(cfg.Shared.Path))
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Shared = shared

	historyStore, err := kv.OpenSQLite(cfg.Path(cfg.History.Path))
	if err != nil {
		c.Close()
		return nil, err
	}
	c.historyStore = historyStore
	c.History = oplog.New(historyStore)

	passphrase := cfg.Secrets.Passphrase
	if passphrase == "" {
		logger.Warn("No secrets passphrase configured, deriving the vault key from the service name")
		passphrase = cfg.Secrets.Service
	}
	vault, err := secret.NewFileVault(cfg.Path(cfg.Secrets.Path), cfg.Secrets.Service, passphrase)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Secrets = secret.WithTimeout(vault, config.Duration(cfg.Secrets.Timeout, secret.DefaultTimeout))

	c.Source = notion.NewHTTPClient(notion.HTTPClientOptions{
		BaseURL:    cfg.Notion.BaseURL,
		APIVersion: cfg.Notion.APIVersion,
		UserAgent:  "acrostic",
		MaxRetries: cfg.Notion.MaxRetries,
		HTTPClient: newHTTPClient(config.Duration(cfg.Notion.Timeout, 0)),
	})

	c.Cache = cache.New(shared,
		cache.WithLogger(logger.Named("cache")),
		cache.WithRecorder(c.History))

	c.Publisher, err = publisher.New(c.Storage, shared,
		publisher.NewSignalFile(cfg.Path(cfg.Shared.SignalFile)),
		publisher.WithLogger(logger.Named("publisher")))
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Syncer = syncer.New(c.Storage, c.Secrets, c.Source, c.Cache, c.Publisher,
		syncer.WithLogger(logger.Named("syncer")),
		syncer.WithConfig(syncer.Config{
			MetadataMaxAge:  config.Duration(cfg.Sync.MetadataMaxAge, syncer.DefaultMetadataMaxAge),
			MetadataRefresh: config.Duration(cfg.Sync.MetadataRefresh, syncer.DefaultMetadataRefresh),
			TaskMaxAge:      config.Duration(cfg.Sync.TaskMaxAge, syncer.DefaultTaskMaxAge),
			PageSize:        cfg.Notion.PageSize,
			MaxPages:        cfg.Notion.MaxPages,
		}))

	c.Repairer = repair.New(c.Storage, logger.Named("repair"))

	c.Service = service.New(service.Dependencies{
		Storage:   c.Storage,
		Secrets:   c.Secrets,
		Source:    c.Source,
		Cache:     c.Cache,
		Publisher: c.Publisher,
		Syncer:    c.Syncer,
		History:   c.History,
		Logger:    logger.Named("service"),
	})

	return c, nil
}

// Close waits for background refreshes and closes the stores
func (c *Components) Close() error {
	if c.Syncer != nil {
		c.Syncer.Wait()
	}

	var errs []error
	if c.Shared != nil {
		errs = append(errs, c.Shared.Close())
	}
	if c.historyStore != nil {
		errs = append(errs, c.historyStore.Close())
	}
	if c.Storage != nil {
		errs = append(errs, c.Storage.Close())
	}
	return errors.Join(errs...)
}
