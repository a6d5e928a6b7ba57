// Package control wires the service together and serves the HTTP control
// surface.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/vietddude/relay/internal/core/config"
	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/core/worker"
	"github.com/vietddude/relay/internal/dispatch"
	"github.com/vietddude/relay/internal/health"
	"github.com/vietddude/relay/internal/infra/eventlog"
	"github.com/vietddude/relay/internal/infra/publisher"
	redisclient "github.com/vietddude/relay/internal/infra/redis"
	"github.com/vietddude/relay/internal/infra/storage/postgres"
	"github.com/vietddude/relay/internal/registry"
)

// App is the main application struct that manages the service lifecycle.
type App struct {
	cfg         *config.AppConfig
	publisher   publisher.Client
	events      *eventlog.Logger
	registry    *registry.Registry
	monitor     *health.Monitor
	server      *http.Server
	listener    net.Listener
	db          *postgres.DB
	redisClient *redisclient.Client
	pruners     []*worker.Pruner
	log         *slog.Logger
}

// Option customises App construction.
type Option func(*options)

type options struct {
	publisher  publisher.Client
	dispatchOp []dispatch.Option
}

// WithPublisher replaces the publishing API client built from config.
func WithPublisher(c publisher.Client) Option {
	return func(o *options) { o.publisher = c }
}

// WithDispatchOptions passes options through to the dispatcher.
func WithDispatchOptions(opts ...dispatch.Option) Option {
	return func(o *options) { o.dispatchOp = append(o.dispatchOp, opts...) }
}

// New creates a new App with all dependencies initialized.
func New(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := slog.Default()

	// 1. Publishing API client
	pub := o.publisher
	if pub == nil {
		var err error
		pub, err = publisher.New(cfg.Publisher)
		if err != nil {
			return nil, fmt.Errorf("failed to init publisher: %w", err)
		}
	}

	// 2. Event log and its mirrors
	sinkOpts := []eventlog.Option{eventlog.WithTailSize(cfg.EventLog.TailSize)}

	fileSink, err := eventlog.OpenFile(cfg.EventLog.Path)
	if err != nil {
		return nil, err
	}
	sinkOpts = append(sinkOpts, eventlog.WithSink("file", fileSink))

	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, event mirror disabled", "error", err)
		} else {
			repo := redisclient.NewEventRepo(redisClient, cfg.EventLog.RedisMaxLen)
			sinkOpts = append(sinkOpts, eventlog.WithMirror("redis", repo))
			log.Info("Mirroring events to Redis")
		}
	}

	var db *postgres.DB
	if cfg.Database.URL != "" {
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			_ = fileSink.Close()
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			_ = fileSink.Close()
			return nil, err
		}
		sinkOpts = append(sinkOpts, eventlog.WithMirror("postgres", postgres.NewEventRepo(db)))
		log.Info("Mirroring events to PostgreSQL")
	}

	events := eventlog.New(sinkOpts...)

	// 3. Dispatcher and registry
	dispatcher := dispatch.New(cfg.Dispatch, pub, events, append([]dispatch.Option{dispatch.WithLogger(log)}, o.dispatchOp...)...)
	reg := registry.New(dispatcher, pub, events)

	// 4. Health and control API
	monitor := health.NewMonitor(reg, dispatcher.Clock().Now)
	if redisClient != nil {
		monitor.AddDependency("redis", redisClient)
	}
	if db != nil {
		monitor.AddDependency("postgres", db)
	}

	// 5. Retention
	pruners := []*worker.Pruner{worker.NewPruner("jobs", cfg.Retention.Jobs, reg)}
	if db != nil {
		pruners = append(pruners, worker.NewPruner("events", cfg.Retention.Events, postgres.NewEventRepo(db)))
	}

	api := NewAPI(reg, events, monitor)
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:         cfg,
		publisher:   pub,
		events:      events,
		registry:    reg,
		monitor:     monitor,
		server:      server,
		db:          db,
		redisClient: redisClient,
		pruners:     pruners,
		log:         log,
	}, nil
}

// Start binds the control API and starts background collectors.
func (a *App) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.server.Addr, err)
	}
	a.listener = lis

	go func() {
		if err := a.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Control API failed", "error", err)
		}
	}()

	// Start DB Metrics Collector
	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	// Start Pruners
	for _, p := range a.pruners {
		go p.Start(ctx)
	}

	a.events.Log(domain.LevelInfo, "", "service started")
	a.log.Info("Control API listening", "addr", lis.Addr().String())
	return nil
}

// Addr is the bound address of the control API, once started.
func (a *App) Addr() string {
	if a.listener == nil {
		return a.server.Addr
	}
	return a.listener.Addr().String()
}

// Stop stops accepting requests, stops every job and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping relay...")

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop control API: %w", err))
	}
	if err := a.registry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop jobs: %w", err))
	}

	a.events.Log(domain.LevelInfo, "", "service stopped")
	if err := a.events.Close(); err != nil {
		a.log.Warn("Failed to close event log", "error", err)
	}
	if err := a.publisher.Close(); err != nil {
		a.log.Warn("Failed to close publisher", "error", err)
	}

	// Close Redis
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}

	return errors.Join(errs...)
}
