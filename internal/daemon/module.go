// Package daemon composes the groupwatch daemon: store, source adapter,
// watch engine, fanout hub, import pipeline and HTTP surface, wired
// through fx with a single lifecycle.
package daemon

import (
	"context"
	"fmt"
	"os"

	"github.com/mvtorres/groupwatch/internal/bus"
	"github.com/mvtorres/groupwatch/internal/chatimport"
	"github.com/mvtorres/groupwatch/internal/config"
	"github.com/mvtorres/groupwatch/internal/fanout"
	"github.com/mvtorres/groupwatch/internal/httpapi"
	"github.com/mvtorres/groupwatch/internal/lock"
	"github.com/mvtorres/groupwatch/internal/logging"
	"github.com/mvtorres/groupwatch/internal/session"
	"github.com/mvtorres/groupwatch/internal/status"
	"github.com/mvtorres/groupwatch/internal/store"
	"github.com/mvtorres/groupwatch/internal/wa"
	"github.com/mvtorres/groupwatch/internal/watch"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ListenAddr  string // optional override; empty = config value
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideBuffer,
			provideAdapter,
			provideRegistry,
			provideEngine,
			provideScheduler,
			provideHub,
			provideImportWorker,
			provideImportWatcher,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) *config.Config {
	cfg := config.LoadOrDefault(session.ConfigPath())
	if p.ListenAddr != "" {
		cfg.Listen = p.ListenAddr
	}
	if cfg.ImportDir == "" {
		cfg.ImportDir = session.ImportDir(p.SessionName)
	}
	return cfg
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.AppDBPath(p.SessionName)
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

func provideBuffer(cfg *config.Config) *wa.MessageBuffer {
	return wa.NewMessageBuffer(cfg.RecentWindowCap)
}

func provideAdapter(p Params, buffer *wa.MessageBuffer, b *bus.Bus, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), p.SessionName, buffer, b, logger)
}

func provideRegistry(db *store.DB, adapter *wa.Adapter, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *watch.Registry {
	return watch.NewRegistry(db, adapter, b, logger, cfg.RecentWindowCap)
}

func provideEngine(db *store.DB, adapter *wa.Adapter, registry *watch.Registry, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *watch.Engine {
	return watch.NewEngine(db, adapter, registry, b, logger, cfg.MessageWindow)
}

func provideScheduler(registry *watch.Registry, engine *watch.Engine, machine *status.Machine, cfg *config.Config, logger *zap.Logger) *watch.Scheduler {
	return watch.NewScheduler(registry, engine, machine, logger, cfg.PollInterval())
}

func provideHub(registry *watch.Registry, b *bus.Bus, logger *zap.Logger) *fanout.Hub {
	return fanout.NewHub(registry, b, logger)
}

func provideImportWorker(db *store.DB, registry *watch.Registry, b *bus.Bus, logger *zap.Logger) *chatimport.Worker {
	return chatimport.NewWorker(db, registry, b, logger)
}

func provideImportWatcher(db *store.DB, cfg *config.Config, logger *zap.Logger) *chatimport.Watcher {
	return chatimport.NewWatcher(db, cfg.ImportDir, logger)
}

func provideServer(p Params, cfg *config.Config, db *store.DB, registry *watch.Registry, engine *watch.Engine, machine *status.Machine, hub *fanout.Hub, logger *zap.Logger) *httpapi.Server {
	return httpapi.NewServer(cfg.Listen, p.SessionName, db, registry, engine, machine, hub, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	p Params,
	cfg *config.Config,
	srv *httpapi.Server,
	lk *lock.Lock,
	adapter *wa.Adapter,
	buffer *wa.MessageBuffer,
	registry *watch.Registry,
	engine *watch.Engine,
	scheduler *watch.Scheduler,
	hub *fanout.Hub,
	importWorker *chatimport.Worker,
	importWatcher *chatimport.Watcher,
	machine *status.Machine,
	b *bus.Bus,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Restore the watched set before anything can observe.
			if err := registry.Load(); err != nil {
				return fmt.Errorf("restore groups: %w", err)
			}

			hub.Run(context.Background())
			engine.Start(context.Background())

			handler := wa.NewEventHandler(b, machine, buffer, logger)
			adapter.RegisterEventHandler(handler.Handle)

			if err := srv.Start(); err != nil {
				return fmt.Errorf("start http server: %w", err)
			}

			if err := os.MkdirAll(cfg.ImportDir, 0o700); err != nil {
				return fmt.Errorf("create import dir: %w", err)
			}
			if err := importWatcher.Start(); err != nil {
				return fmt.Errorf("start import watcher: %w", err)
			}
			importWorker.Start(context.Background())
			scheduler.Start(context.Background())

			if adapter.IsLoggedIn() {
				_ = machine.Transition(status.Connecting)
				go func() {
					if err := adapter.Connect(); err != nil {
						logger.Error("auto-connect failed", zap.Error(err))
						_ = machine.Transition(status.Error)
					}
				}()
			} else {
				logger.Info("no credentials found, auth required")
				_ = machine.Transition(status.AuthRequired)
				go runQRAuth(adapter, logger)
			}

			return nil
		},
		OnStop: func(ctx context.Context) error {
			scheduler.Stop()
			importWorker.Stop()
			importWatcher.Stop()
			engine.Stop()
			hub.Stop()
			adapter.Disconnect()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// runQRAuth drives the pairing flow, rendering each QR to the terminal.
func runQRAuth(adapter *wa.Adapter, logger *zap.Logger) {
	events, err := adapter.StartQRAuth(context.Background())
	if err != nil {
		logger.Error("QR auth failed to start", zap.Error(err))
		return
	}
	for evt := range events {
		switch evt.Type {
		case wa.AuthEventQRCode:
			fmt.Fprintf(os.Stderr, "\nScan this QR code with WhatsApp:\n\n%s\n", wa.RenderQR(evt.QRCode))
		case wa.AuthEventAuthenticated:
			logger.Info("authenticated")
			return
		case wa.AuthEventTimeout, wa.AuthEventAuthFailed:
			logger.Error("authentication failed", zap.String("reason", evt.Message))
			return
		}
	}
}
