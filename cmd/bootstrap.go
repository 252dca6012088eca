package cmd

import (
	"context"
	"log"

	"matricula-sync/core/cache"
	"matricula-sync/core/config"
	"matricula-sync/core/database"
	"matricula-sync/core/logger"
	"matricula-sync/core/queue"
	"matricula-sync/core/storage"
	syncfeature "matricula-sync/feature/sync"
	"matricula-sync/feature/sync/reconcile"
	"matricula-sync/feature/sync/worker"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app bundles everything the commands construct: the shared wiring between
// the API server, the standalone worker, and the migration command.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB
	cache  *cache.Client
	queue  *queue.Queue
	svc    *syncfeature.Service
	pool   *worker.Pool
}

// bootstrap loads configuration and wires the full service stack. The
// database is required; Redis and object storage are optional collaborators
// and their absence degrades to inline processing and no archiving.
func bootstrap() *app {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logg, err := logger.New(&cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	zap.ReplaceGlobals(logg)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		logg.Fatal("Failed to connect to database", zap.Error(err))
	}

	var cacheClient *cache.Client
	if conn, err := cache.New(cfg.Redis); err != nil {
		logg.Warn("Redis unavailable, queue and status cache disabled", zap.Error(err))
	} else {
		cacheClient = conn
	}
	q := queue.New(cacheClient.Redis(), cfg.Queue)

	var store storage.Client
	if cfg.Storage.Enabled {
		client, err := storage.NewClient(cfg.Storage)
		if err != nil {
			logg.Fatal("Failed to create storage client", zap.Error(err))
		}
		if err := storage.EnsureBucket(context.Background(), client, cfg.Storage.Bucket, cfg.Storage.Region); err != nil {
			logg.Fatal("Failed to prepare archive bucket", zap.Error(err))
		}
		store = client
	}

	rec := reconcile.NewReconciler(db, logg)
	archiver := syncfeature.NewArchiver(store, cfg.Storage.Bucket, logg)
	svc := syncfeature.NewService(cfg.Sync, db, rec, q, cacheClient, archiver, logg)
	pool := worker.NewPool(cfg.Worker, q, svc, cacheClient.Locker(), logg)

	return &app{
		cfg:    cfg,
		logger: logg,
		db:     db,
		cache:  cacheClient,
		queue:  q,
		svc:    svc,
		pool:   pool,
	}
}

// close releases process-wide resources on shutdown.
func (a *app) close() {
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("Failed to close redis connection", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// runPool starts the worker pool when a broker is reachable. The returned
// stop function cancels the pool and blocks until in-flight batches have
// drained.
func (a *app) runPool(ctx context.Context) func() {
	if a.cache == nil {
		a.logger.Info("No broker configured, queued processing disabled")
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.pool.Run(ctx); err != nil {
			a.logger.Error("Worker pool stopped", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
