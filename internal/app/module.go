// Package app composes the console from its parts with fx.
package app

import (
	"context"
	"strings"

	"github.com/opencomm/opdesk/internal/api"
	"github.com/opencomm/opdesk/internal/bus"
	"github.com/opencomm/opdesk/internal/config"
	"github.com/opencomm/opdesk/internal/logging"
	"github.com/opencomm/opdesk/internal/media"
	"github.com/opencomm/opdesk/internal/profile"
	"github.com/opencomm/opdesk/internal/realtime"
	"github.com/opencomm/opdesk/internal/status"
	"github.com/opencomm/opdesk/internal/store"
	intsync "github.com/opencomm/opdesk/internal/sync"
	"github.com/opencomm/opdesk/internal/tui"
	"github.com/opencomm/opdesk/internal/tui/model"
	"github.com/opencomm/opdesk/internal/upload"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the console, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("opdesk",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideClient,
			provideMediaCache,
			provideUploadQueue,
			provideUploadPipeline,
			provideSyncEngine,
			provideRealtimeSource,
			provideViewModel,
			provideApp,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	return config.Load(profile.ConfigPath(p.ProfileName), profile.EnvPath(p.ProfileName))
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*profile.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := profile.AcquireLock(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideClient(cfg *config.Config) *api.Client {
	return api.NewClient(cfg.APIBaseURL, cfg.APIToken)
}

func provideMediaCache(client *api.Client, logger *zap.Logger) *media.Cache {
	return media.NewCache(client, logger)
}

func provideUploadQueue() *upload.Queue {
	return upload.NewQueue()
}

func provideUploadPipeline(client *api.Client, cfg *config.Config, logger *zap.Logger) *upload.Pipeline {
	return upload.NewPipeline(client, cfg.UploadConcurrency, logger)
}

func provideSyncEngine(client *api.Client, pipeline *upload.Pipeline, cache *media.Cache, db *store.DB, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(client, pipeline, cache, db, b, logger, cfg.PageSize, cfg.PrefetchHighPriority)
}

func provideRealtimeSource(cfg *config.Config, b *bus.Bus, m *status.Machine, logger *zap.Logger) *realtime.Source {
	return realtime.NewSource(realtimeURL(cfg), cfg.APIToken, b, m, logger)
}

// realtimeURL falls back to the API base with the scheme swapped and
// "/realtime" appended when no explicit feed endpoint is configured.
func realtimeURL(cfg *config.Config) string {
	if cfg.RealtimeURL != "" {
		return cfg.RealtimeURL
	}
	u := cfg.APIBaseURL
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return strings.TrimSuffix(u, "/") + "/realtime"
}

func provideViewModel(engine *intsync.Engine, client *api.Client, db *store.DB, cache *media.Cache, queue *upload.Queue, b *bus.Bus) *model.ViewModel {
	return model.NewViewModel(engine, client, db, cache, queue, b)
}

func provideApp(p Params, vm *model.ViewModel, b *bus.Bus) *tui.App {
	return tui.NewApp(vm, b, p.ProfileName)
}

func registerLifecycle(lc fx.Lifecycle, shutdowner fx.Shutdowner, a *tui.App, engine *intsync.Engine, source *realtime.Source, db *store.DB, lk *profile.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			engine.Start(context.Background())
			source.Start(context.Background())

			// The TUI owns the terminal; fx shuts down when it exits.
			go func() {
				if err := a.Run(); err != nil {
					logger.Error("tui exited", zap.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			a.Stop()
			source.Stop()
			engine.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("console stopped")
			return nil
		},
	})
}
