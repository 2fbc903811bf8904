// Package app assembles the long-lived services the daemon runs on. It is
// the dependency injection point: backend providers are selected here, once,
// at startup, and initialization fails fast when a backend cannot be reached.
package app

import (
	"context"
	"fmt"
	"net/http"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/marketlens/scraperd/internal/api"
	"github.com/marketlens/scraperd/internal/bridge"
	"github.com/marketlens/scraperd/internal/captcha"
	"github.com/marketlens/scraperd/internal/clock/system"
	"github.com/marketlens/scraperd/internal/config"
	"github.com/marketlens/scraperd/internal/dispatcher"
	iduuid "github.com/marketlens/scraperd/internal/id/uuid"
	"github.com/marketlens/scraperd/internal/jobs"
	"github.com/marketlens/scraperd/internal/metrics"
	"github.com/marketlens/scraperd/internal/notify"
	notifypubsub "github.com/marketlens/scraperd/internal/notify/pubsub"
	queuememory "github.com/marketlens/scraperd/internal/queue/memory"
	"github.com/marketlens/scraperd/internal/sites"
	"github.com/marketlens/scraperd/internal/storage"
	"github.com/marketlens/scraperd/internal/storage/gcs"
	"github.com/marketlens/scraperd/internal/storage/local"
	storememory "github.com/marketlens/scraperd/internal/storage/memory"
	"github.com/marketlens/scraperd/internal/storage/postgres"
	"github.com/marketlens/scraperd/internal/store"
)

// App holds the shared, long-lived services of the scraper daemon: the job
// service, the runner dispatcher, and the HTTP server, together with the
// backend providers they run on. It is built once at startup and torn down
// with Close.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	service    *jobs.Service
	dispatcher *dispatcher.Dispatcher
	server     *api.Server
	closers    []func()
}

// NewApp initializes every service from the configuration. Remote backends
// (Postgres, GCS, Redis, Pub/Sub) are dialed and verified here so a
// misconfigured deployment dies at startup instead of on the first request.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Collectors must exist before any middleware or runner touches them.
	metrics.Init()
	a := &App{cfg: cfg, logger: logger}

	jobRepo, resultRepo, ready, err := a.initStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	artifacts, err := a.initArtifacts(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	sessions, err := a.initSessions(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	publisher, err := a.initNotify(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	registry := sites.NewRegistry()
	invoker := bridge.New(registry.ListSites(), bridge.NewTokenDetector(), bridge.Config{
		WorkerDir:      cfg.Scraper.WorkerDir,
		PythonBin:      cfg.Scraper.PythonBin,
		DefaultTimeout: cfg.WorkerTimeout(),
	}, logger)
	queue := queuememory.NewQueue(cfg.Scraper.QueueDepth)
	a.closers = append(a.closers, queue.Close)

	jobsCfg := jobs.Config{
		QuotaPerUser:          cfg.Scraper.QuotaPerUser,
		DefaultMaxItems:       cfg.Scraper.MaxItemsDefault,
		MaxItemsCap:           cfg.Scraper.MaxItemsCap,
		DefaultTimeoutSeconds: cfg.Scraper.TimeoutSeconds,
		DefaultRetries:        cfg.Scraper.RetriesDefault,
		MaxRetries:            cfg.Scraper.MaxRetries,
		NotifyTopic:           cfg.Notify.Topic,
	}
	deps := jobs.Deps{
		Jobs:      jobRepo,
		Results:   resultRepo,
		Registry:  registry,
		Queue:     queue,
		Invoker:   invoker,
		Sessions:  sessions,
		Artifacts: artifacts,
		Publisher: publisher,
		Clock:     system.New(),
		IDs:       iduuid.New(),
		Logger:    logger,
		Config:    jobsCfg,
	}

	tracker := jobs.NewTracker()
	a.service = jobs.NewService(deps, tracker)

	runners := make([]dispatcher.Runner, cfg.Scraper.Concurrency)
	for i := range runners {
		runners[i] = jobs.NewRunner(deps, tracker)
	}
	a.dispatcher = dispatcher.New(queue, runners)

	a.server = api.NewServer(a.service, registry, jobsCfg, ready, logger)

	logger.Info("application services initialized",
		zap.String("store", cfg.Store.Provider),
		zap.String("artifacts", cfg.Artifacts.Provider),
		zap.String("sessions", cfg.Sessions.Provider),
		zap.String("notify", cfg.Notify.Provider),
		zap.Int("runners", cfg.Scraper.Concurrency),
	)
	return a, nil
}

// initStore selects the job/result persistence backend. The returned ready
// callback backs the readiness probe; nil means always ready.
func (a *App) initStore(ctx context.Context) (store.JobRepository, store.ResultRepository, func() error, error) {
	switch a.cfg.Store.Provider {
	case "postgres":
		js, err := postgres.NewJobStore(ctx, a.cfg.Store.DSN, a.logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init job store: %w", err)
		}
		a.closers = append(a.closers, js.Close)
		rs, err := postgres.NewResultStore(ctx, a.cfg.Store.DSN, a.logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init result store: %w", err)
		}
		a.closers = append(a.closers, rs.Close)
		ready := func() error { return js.Ping(context.Background()) }
		return js, rs, ready, nil
	case "memory":
		s := storememory.NewStore()
		return s, s, nil, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store provider: %s", a.cfg.Store.Provider)
	}
}

func (a *App) initArtifacts(ctx context.Context) (storage.ArtifactStore, error) {
	switch a.cfg.Artifacts.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		blob, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Artifacts.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs artifact store: %w", err)
		}
		return blob, nil
	case "local":
		blob, err := local.New(local.Config{BaseDir: a.cfg.Artifacts.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local artifact store: %w", err)
		}
		return blob, nil
	case "noop":
		return storage.NoOpStore{}, nil
	default:
		return nil, fmt.Errorf("unknown artifacts provider: %s", a.cfg.Artifacts.Provider)
	}
}

func (a *App) initSessions(ctx context.Context) (captcha.Store, error) {
	switch a.cfg.Sessions.Provider {
	case "redis":
		rs, err := captcha.NewRedisStore(ctx,
			a.cfg.Sessions.RedisAddr,
			a.cfg.Sessions.RedisPassword,
			a.cfg.Sessions.RedisDB,
			a.cfg.SessionTTL(),
		)
		if err != nil {
			return nil, fmt.Errorf("init redis session store: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rs.Close() })
		return rs, nil
	case "memory":
		return captcha.NewMemoryStore(a.cfg.SessionTTL()), nil
	default:
		return nil, fmt.Errorf("unknown sessions provider: %s", a.cfg.Sessions.Provider)
	}
}

func (a *App) initNotify(ctx context.Context) (notify.Publisher, error) {
	switch a.cfg.Notify.Provider {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, a.cfg.Notify.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		pub, err := notifypubsub.New(ctx, client, a.cfg.Notify.Topic)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		return pub, nil
	case "noop":
		return notify.NoOpPublisher{}, nil
	default:
		return nil, fmt.Errorf("unknown notify provider: %s", a.cfg.Notify.Provider)
	}
}

// Service returns the job service.
func (a *App) Service() *jobs.Service {
	return a.service
}

// Dispatcher returns the runner dispatcher. The caller owns its Run loop.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatcher
}

// Handler returns the HTTP handler for the REST API.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Close releases backend connections in reverse initialization order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
