package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/push"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	ConfigPath string // optional override; empty = session.ConfigPath()
	EnvPath    string // optional override; empty = session.EnvPath()
	SocketPath string // optional override for testing; empty = use default
	Debug      bool
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
			provideBackend,
			provideSender,
			provideSyncEngine,
			providePushClient,
			provideHTTPServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path, envPath := p.ConfigPath, p.EnvPath
	if path == "" {
		path = session.ConfigPath()
	}
	if envPath == "" {
		envPath = session.EnvPath()
	}
	cfg, err := config.LoadWithEnv(path, envPath)
	if err != nil {
		return nil, err
	}
	if cfg.SelfID == "" && cfg.Backend.Token != "" {
		sub, err := backend.SubjectFromToken(cfg.Backend.Token)
		if err != nil {
			return nil, fmt.Errorf("derive self id: %w", err)
		}
		cfg.SelfID = sub
	}
	if cfg.SelfID == "" {
		return nil, errors.New("self id unknown: set self_id or a token with a subject")
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Profile), p.Profile, p.Debug)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.LockPath(p.Profile), p.Profile)
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so two daemons never migrate the same cache.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CachePath(p.Profile)
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

func provideBackend(cfg *config.Config) *backend.Client {
	return backend.New(cfg.Backend.BaseURL, backend.StaticToken(cfg.Backend.Token), nil)
}

func provideSender(cfg *config.Config, client *backend.Client, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(client, cfg.SelfID, cfg.Sync.SendTimeout.Std(), cfg.Sync.MaxInflightSends, b, logger.Named("outbox"))
}

func provideSyncEngine(cfg *config.Config, sender *outbox.Sender, db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(intsync.Options{
		SelfID:           cfg.SelfID,
		SendTimeout:      cfg.Sync.SendTimeout.Std(),
		TypingTTL:        cfg.Sync.TypingTTL.Std(),
		OrphanReceiptTTL: cfg.Sync.OrphanReceiptTTL.Std(),
		SweepInterval:    cfg.Sync.SweepInterval.Std(),
	}, sender, db, b, logger.Named("sync"))
}

func providePushClient(cfg *config.Config, engine *intsync.Engine, machine *status.Machine, logger *zap.Logger) *push.Client {
	return push.NewClient(push.ClientConfig{
		URL:         cfg.PushURL(),
		Token:       backend.StaticToken(cfg.Backend.Token).Token,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		StableAfter: time.Minute,
	}, engine.HandleFrame, machine, logger.Named("push"))
}

func provideHTTPServer(p Params, cfg *config.Config, engine *intsync.Engine, db *store.DB, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *http.Server {
	return &http.Server{
		Addr: cfg.API.Listen,
		Handler: api.NewRouter(api.Options{
			Engine:         engine,
			Search:         db,
			Channel:        machine,
			Bus:            b,
			Profile:        p.Profile,
			AllowedOrigins: cfg.API.AllowedOrigins,
			Logger:         logger.Named("api"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

type lifecycleDeps struct {
	fx.In

	Config  *config.Config
	Server  *Server
	HTTP    *http.Server
	Lock    *lock.Lock
	DB      *store.DB
	Backend *backend.Client
	Engine  *intsync.Engine
	Sender  *outbox.Sender
	Push    *push.Client
	Logger  *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	running := 0

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := net.Listen("tcp", d.HTTP.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", d.HTTP.Addr, err)
			}

			// The engine outlives runCtx; Stop ends it after in-flight sends drain.
			d.Engine.Start(context.Background())

			go func() {
				if err := d.Server.Start(); err != nil {
					d.Logger.Error("health server error", zap.Error(err))
				}
			}()

			go func() {
				d.Logger.Info("http api listening", zap.String("addr", ln.Addr().String()))
				if err := d.HTTP.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					d.Logger.Error("http api error", zap.Error(err))
				}
			}()

			var dir intsync.Directory
			if d.Config.Backend.BaseURL != "" {
				dir = d.Backend
			}
			running++
			go func() {
				defer func() { done <- struct{}{} }()
				if err := d.Engine.Hydrate(runCtx, d.DB, dir); err != nil {
					d.Logger.Warn("backend sync failed, serving cached state", zap.Error(err))
				}
			}()

			if d.Config.PushURL() == "" {
				d.Logger.Warn("no push url configured, realtime updates disabled")
				return nil
			}
			running++
			go func() {
				defer func() { done <- struct{}{} }()
				_ = d.Push.Run(runCtx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			for ; running > 0; running-- {
				select {
				case <-done:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if err := d.HTTP.Shutdown(ctx); err != nil {
				d.Logger.Warn("http shutdown", zap.Error(err))
			}
			// Send results are applied by the engine, so it stops last.
			if err := d.Sender.Wait(ctx); err != nil {
				d.Logger.Warn("in-flight sends abandoned", zap.Error(err))
			}
			d.Engine.Stop()
			d.Server.Stop(ctx)
			if err := d.DB.Close(); err != nil {
				d.Logger.Warn("error closing cache", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				d.Logger.Warn("error releasing lock", zap.Error(err))
			}
			d.Logger.Info("daemon stopped")
			return nil
		},
	})
}
