package agent

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/medisync/medisync/internal/bus"
	"github.com/medisync/medisync/internal/cache"
	"github.com/medisync/medisync/internal/config"
	"github.com/medisync/medisync/internal/entity"
	"github.com/medisync/medisync/internal/lock"
	"github.com/medisync/medisync/internal/logging"
	"github.com/medisync/medisync/internal/metrics"
	"github.com/medisync/medisync/internal/network"
	"github.com/medisync/medisync/internal/remote"
	"github.com/medisync/medisync/internal/status"
	"github.com/medisync/medisync/internal/store"
	intsync "github.com/medisync/medisync/internal/sync"
)

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	Config     *config.Config
	SocketPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the agent, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("agent",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideNetwork,
			provideBackend,
			provideMetrics,
			provideRepos,
			provideCache,
			provideSyncEngine,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(p.Config.LogPath(), p.Config.FacilityID)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := p.Config.EnsureDirs(); err != nil {
		return nil, err
	}
	logger.Info("acquiring data directory lock", zap.String("dir", p.Config.DataDir))
	l, err := lock.Acquire(p.Config.LockPath())
	if err != nil {
		return nil, err
	}
	logger.Info("data directory lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := p.Config.DBPath()
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

// provideNetwork wires the connectivity monitor over a manual source. The
// agent starts optimistic; host integrations (NetworkManager hooks, health
// probes) flip the source through the control API.
func provideNetwork(b *bus.Bus, logger *zap.Logger) (*network.ManualSource, *network.Monitor) {
	src := network.NewManualSource(true)
	return src, network.NewMonitor(src, b, logger)
}

// provideBackend picks the remote backend: the facility server when a DSN is
// configured, an in-process store otherwise so the agent still runs (and
// queues) with no upstream at all.
func provideBackend(p Params, logger *zap.Logger) (remote.Backend, error) {
	dsn := p.Config.Remote.DSN
	if dsn == "" {
		logger.Warn("no remote DSN configured, using in-memory backend")
		return remote.NewMemory(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pg, err := remote.NewPostgres(ctx, dsn)
	if err != nil {
		return nil, err
	}
	tables := make([]string, len(store.RecordCollections))
	for i, col := range store.RecordCollections {
		tables[i] = string(col)
	}
	if err := pg.EnsureTables(ctx, tables...); err != nil {
		logger.Warn("remote schema check failed, continuing offline", zap.Error(err))
	}
	return pg, nil
}

func provideMetrics() (*prometheus.Registry, *metrics.Metrics) {
	reg := prometheus.NewRegistry()
	return reg, metrics.New(reg)
}

// Repos groups the per-collection repositories for injection.
type Repos struct {
	Patients      *entity.Patients
	Consultations *entity.Consultations
	Prescriptions *entity.Prescriptions
}

func provideRepos(db *store.DB, b *bus.Bus, logger *zap.Logger) Repos {
	return Repos{
		Patients:      entity.NewPatients(db, b, logger),
		Consultations: entity.NewConsultations(db, b, logger),
		Prescriptions: entity.NewPrescriptions(db, b, logger),
	}
}

func provideCache(p Params, backend remote.Backend, monitor *network.Monitor, db *store.DB,
	repos Repos, b *bus.Bus, met *metrics.Metrics, logger *zap.Logger) *cache.Cache {
	return cache.New(backend, monitor, db,
		repos.Patients, repos.Consultations, repos.Prescriptions,
		cache.Config{
			MaxPatients:          p.Config.Cache.MaxPatients,
			MaxRecordsPerPatient: p.Config.Cache.MaxRecordsPerPatient,
			Expiry:               p.Config.CacheExpiry(),
		}, b, met, logger)
}

func provideSyncEngine(p Params, db *store.DB, backend remote.Backend, monitor *network.Monitor,
	b *bus.Bus, met *metrics.Metrics, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, backend, monitor, intsync.Config{
		Strategy:    intsync.Strategy(p.Config.Sync.Strategy),
		Interval:    p.Config.Sync.Interval.Duration,
		CallTimeout: p.Config.Sync.CallTimeout.Duration,
	}, b, met, logger)
}

func registerLifecycle(lc fx.Lifecycle, p Params, srv *Server, lk *lock.Lock,
	monitor *network.Monitor, engine *intsync.Engine, c *cache.Cache,
	machine *status.Machine, b *bus.Bus, db *store.DB, logger *zap.Logger) {
	cleanupDone := make(chan struct{})
	var cleanupCancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			cleanupCancel = cancel

			monitor.Start(ctx)
			engine.Start(ctx)

			machine.Run(ctx, b)
			if monitor.IsOnline() {
				_ = machine.Transition(status.Idle)
			} else {
				_ = machine.Transition(status.Offline)
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control server error", zap.Error(err))
				}
			}()

			// Warm the cache once at boot, then evict expired records daily.
			go func() {
				if err := c.CacheEssentialData(ctx, p.Config.FacilityID); err != nil {
					logger.Warn("initial cache population failed", zap.Error(err))
				}
			}()
			go func() {
				defer close(cleanupDone)
				ticker := time.NewTicker(24 * time.Hour)
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						if _, err := c.CleanExpiredCache(); err != nil {
							logger.Error("cache cleanup failed", zap.Error(err))
						}
					case <-ctx.Done():
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cleanupCancel != nil {
				cleanupCancel()
				<-cleanupDone
			}
			engine.Stop()
			monitor.Stop()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("agent stopped")
			return nil
		},
	})
}
