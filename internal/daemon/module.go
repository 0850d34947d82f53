// Package daemon composes the session daemon: store backend, cache, engines,
// outbox sender and the HTTP API on the session socket.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/parley-im/parley/internal/api"
	"github.com/parley-im/parley/internal/broadcast"
	"github.com/parley-im/parley/internal/bus"
	"github.com/parley-im/parley/internal/cache"
	"github.com/parley-im/parley/internal/config"
	"github.com/parley-im/parley/internal/engine"
	"github.com/parley-im/parley/internal/identity"
	"github.com/parley-im/parley/internal/lock"
	"github.com/parley-im/parley/internal/logging"
	"github.com/parley-im/parley/internal/model"
	"github.com/parley-im/parley/internal/outbox"
	"github.com/parley-im/parley/internal/realtime"
	"github.com/parley-im/parley/internal/session"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	Config      *config.Config
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideCache,
			provideBackend,
			provideIdentity,
			provideEngine,
			provideBroadcast,
			provideSender,
			provideAPI,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
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

func provideCache(p Params, logger *zap.Logger) (*cache.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	db, err := cache.Open(dbPath)
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
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

// Backend bundles the realtime store with its blob sibling so fx resolves
// them as one unit.
type Backend struct {
	Store realtime.Store
	Blobs realtime.Blobs
}

func provideBackend(p Params, logger *zap.Logger) (Backend, error) {
	cfg := p.Config
	if cfg == nil {
		cfg = config.Default()
	}
	switch cfg.Backend {
	case config.BackendMongo:
		store, err := realtime.OpenMongo(context.Background(), cfg.Mongo.URI, cfg.Mongo.Database, logger)
		if err != nil {
			return Backend{}, err
		}
		blobs, err := realtime.NewS3Blobs(realtime.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			UseSSL:    cfg.S3.UseSSL,
			Bucket:    cfg.S3.Bucket,
		})
		if err != nil {
			return Backend{}, err
		}
		if err := blobs.EnsureBucket(context.Background()); err != nil {
			return Backend{}, err
		}
		logger.Info("mongo backend ready", zap.String("database", cfg.Mongo.Database))
		return Backend{Store: store, Blobs: blobs}, nil
	default:
		logger.Info("in-memory backend ready")
		return Backend{Store: realtime.NewMemory(), Blobs: realtime.NewMemoryBlobs()}, nil
	}
}

func provideIdentity(p Params, be Backend, b *bus.Bus, logger *zap.Logger) (*identity.Provider, error) {
	secret, err := identity.LoadOrCreateSecret(session.SecretPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	return identity.NewProvider(be.Store, b, logger, session.TokenPath(p.SessionName), secret), nil
}

func provideEngine(be Backend, db *cache.DB, b *bus.Bus, logger *zap.Logger) *engine.Engine {
	return engine.New(be.Store, be.Blobs, db, b, logger)
}

func provideBroadcast(be Backend, b *bus.Bus, logger *zap.Logger) *broadcast.Engine {
	return broadcast.New(be.Store, be.Blobs, b, logger)
}

func provideSender(db *cache.DB, be Backend, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, be.Store, b, logger)
}

func provideAPI(eng *engine.Engine, bc *broadcast.Engine, id *identity.Provider, db *cache.DB, b *bus.Bus, logger *zap.Logger) *api.API {
	return api.New(eng, bc, id, db, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, id *identity.Provider, eng *engine.Engine, bc *broadcast.Engine, sender *outbox.Sender, b *bus.Bus, logger *zap.Logger) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			sender.Start(runCtx)

			// Every identity change flips the engines through the bus,
			// including the one Restore emits. Subscribing before Restore
			// runs keeps that event from slipping past the watcher.
			events, unsub := b.Subscribe(bus.IdentityChanged, 16)
			go watchIdentity(runCtx, events, unsub, eng, bc, logger)
			if u, err := id.Restore(runCtx); err != nil {
				logger.Error("session restore failed", zap.Error(err))
			} else if u == nil {
				logger.Info("no session token, sign-in required")
			}

			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			sender.Stop()
			eng.Stop()
			bc.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

func watchIdentity(ctx context.Context, events <-chan bus.Event, unsub func(), eng *engine.Engine, bc *broadcast.Engine, logger *zap.Logger) {
	defer unsub()

	for {
		select {
		case evt := <-events:
			u, _ := evt.Payload.(*model.User)
			eng.Stop()
			bc.Stop()
			if u != nil {
				startEngines(ctx, eng, bc, *u, logger)
			}
		case <-ctx.Done():
			return
		}
	}
}

func startEngines(ctx context.Context, eng *engine.Engine, bc *broadcast.Engine, u model.User, logger *zap.Logger) {
	if err := eng.Start(ctx, u); err != nil {
		logger.Error("chat engine start failed", zap.Error(err))
	}
	if err := bc.Start(ctx, u); err != nil {
		logger.Error("broadcast engine start failed", zap.Error(err))
	}
}
