package agent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/mwantia/fabric/pkg/container"

	config "github.com/jacobrmount/Acrostic/internal/config/app"
	"github.com/jacobrmount/Acrostic/pkg/cache"
	"github.com/jacobrmount/Acrostic/pkg/db/store"
	"github.com/jacobrmount/Acrostic/pkg/kv"
	"github.com/jacobrmount/Acrostic/pkg/log"
	"github.com/jacobrmount/Acrostic/pkg/notion"
	"github.com/jacobrmount/Acrostic/pkg/oplog"
)

const (
	tagSync    = "sync"
	tagCleanup = "cache-cleanup"
)

type AcrosticAgent struct {
	mutex sync.RWMutex
	wait  sync.WaitGroup

	// ctx is the signal context of Serve; scheduled jobs derive from it
	ctx        context.Context
	cfg        *config.BaseAppConfig
	sc         *container.ServiceContainer
	log        log.LoggerService
	components *Components
	scheduler  *gocron.Scheduler
}

func NewAgent(cfg *config.BaseAppConfig) *AcrosticAgent {
	return &AcrosticAgent{
		ctx: context.Background(),
		cfg: cfg,
		sc:  container.NewServiceContainer(),
		log: log.NewLoggerService("acrostic", cfg.Log),
	}
}

func (a *AcrosticAgent) setupServices() error {
	errs := container.Errors{}
	c := a.components

	a.log.Debug("Registering 'LoggerService'...")
	errs.Add(container.Register[log.LoggerServiceImpl](a.sc,
		container.With[log.LoggerService](),
		container.WithInstance(a.log)))

	a.log.Debug("Registering 'Backend'...")
	errs.Add(container.Register[store.Manager](a.sc,
		container.With[store.Backend](),
		container.WithInstance(c.Storage)))

	a.log.Debug("Registering 'SharedStore'...")
	errs.Add(container.Register[kv.SQLiteStore](a.sc,
		container.With[kv.Store](),
		container.WithInstance(c.Shared)))

	a.log.Debug("Registering 'Source'...")
	errs.Add(container.Register[notion.HTTPClient](a.sc,
		container.With[notion.Source](),
		container.WithInstance(c.Source)))

	return errs.Errors()
}

// setupScheduler runs the sync cycle and the cache sweep periodically. Both
// jobs run in singleton mode so a slow cycle is never started twice.
func (a *AcrosticAgent) setupScheduler() error {
	interval := config.Duration(a.cfg.Sync.Interval, 30*time.Minute)
	cleanup := config.Duration(a.cfg.Cache.CleanupInterval, 24*time.Hour)
	retention := config.Duration(a.cfg.Cache.Retention, cache.DefaultRetention)
	historyRetention := config.Duration(a.cfg.History.Retention, oplog.DefaultRetention)

	a.scheduler = gocron.NewScheduler(time.UTC)
	a.scheduler.SingletonModeAll()

	if _, err := a.scheduler.Every(interval).Tag(tagSync).WaitForSchedule().Do(a.runSync); err != nil {
		return fmt.Errorf("failed to schedule sync: %w", err)
	}
	if _, err := a.scheduler.Every(cleanup).Tag(tagCleanup).Do(a.runCleanup, retention, historyRetention); err != nil {
		return fmt.Errorf("failed to schedule cache cleanup: %w", err)
	}

	a.log.Info("Scheduled sync every %s and cache cleanup every %s", interval, cleanup)
	return nil
}

// jobContext is cancelled when Serve is interrupted
func (a *AcrosticAgent) jobContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	a.mutex.RLock()
	parent := a.ctx
	a.mutex.RUnlock()
	return context.WithTimeout(parent, timeout)
}

func (a *AcrosticAgent) runSync() {
	ctx, cancel := a.jobContext(config.Duration(a.cfg.Sync.Interval, 30*time.Minute))
	defer cancel()
	if ctx.Err() != nil {
		return
	}

	report, err := a.components.Service.Sync(ctx, false)
	if err != nil {
		a.log.Error("Sync cycle failed: %v", err)
		return
	}
	if summary := report.Summary(); summary != "" {
		a.log.Warn("%s", summary)
	}
	for _, err := range report.Errors {
		a.log.Warn("Sync: %v", err)
	}
}

func (a *AcrosticAgent) runCleanup(retention, historyRetention time.Duration) {
	ctx, cancel := a.jobContext(config.Duration(a.cfg.Cache.CleanupInterval, 24*time.Hour))
	defer cancel()

	removed, err := a.components.Cache.CleanupExpired(ctx, retention)
	if err != nil {
		a.log.Error("Cache cleanup failed: %v", err)
	} else {
		a.log.Debug("Cache cleanup removed %d entries", removed)
	}

	pruned, err := a.components.History.Prune(ctx, historyRetention)
	if err != nil {
		a.log.Error("History cleanup failed: %v", err)
		return
	}
	a.log.Debug("History cleanup removed %d entries", pruned)
}

func (a *AcrosticAgent) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a.mutex.Lock()
	a.ctx = ctx

	components, err := Open(ctx, a.cfg, a.log)
	if err != nil {
		a.mutex.Unlock()
		return fmt.Errorf("failed to open components: %w", err)
	}
	a.components = components

	if err := a.setupServices(); err != nil {
		a.mutex.Unlock()
		components.Close()
		return err
	}

	if notice := components.Storage.Notice(); notice != "" {
		a.log.Warn("%s", notice)
	}

	if a.cfg.Sync.RepairOnLaunch {
		if _, err := components.Repairer.Run(ctx); err != nil {
			a.log.Error("Repair on launch failed: %v", err)
		}
	}

	if err := a.setupScheduler(); err != nil {
		a.mutex.Unlock()
		components.Close()
		return err
	}

	a.mutex.Unlock()

	a.wait.Add(1)
	go func() {
		defer a.wait.Done()
		a.runSync()
	}()
	a.scheduler.StartAsync()

	<-ctx.Done()
	a.log.Info("Shutting down...")
	a.scheduler.Stop()

	timeout, err := time.ParseDuration(a.cfg.ShutdownTimeout)
	if err != nil {
		// Set default of 60 seconds if error
		timeout = 60 * time.Second
	}

	shutdown, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.wait.Wait()
	if err := a.sc.Cleanup(shutdown); err != nil {
		return fmt.Errorf("failed to complete service container cleanup: %w", err)
	}

	return components.Close()
}
