// Package control assembles the sync pipeline and manages its lifecycle.
package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/movingmountains/driversync/internal/core/config"
	"github.com/movingmountains/driversync/internal/core/status"
	"github.com/movingmountains/driversync/internal/core/worker"
	"github.com/movingmountains/driversync/internal/infra/api"
	"github.com/movingmountains/driversync/internal/infra/storage"
	"github.com/movingmountains/driversync/internal/infra/storage/memory"
	"github.com/movingmountains/driversync/internal/infra/storage/postgres"
	redisstore "github.com/movingmountains/driversync/internal/infra/storage/redis"
	"github.com/movingmountains/driversync/internal/sync/backoff"
	"github.com/movingmountains/driversync/internal/sync/events"
	"github.com/movingmountains/driversync/internal/sync/executor"
	"github.com/movingmountains/driversync/internal/sync/queue"
	"github.com/movingmountains/driversync/internal/sync/reachability"
	"github.com/movingmountains/driversync/internal/sync/syncer"
)

// Agent is the long-running sync daemon: API client, durable queue,
// reachability monitor, status server, and the syncer that ties them together.
type Agent struct {
	cfg      *config.AppConfig
	syncer   *syncer.Syncer
	queue    *queue.Queue
	reach    *reachability.Monitor
	server   *Server
	redriver *worker.Redriver
	closer   func() error
	log      *slog.Logger
}

// NewAgent creates an Agent with all dependencies initialized.
func NewAgent(cfg *config.AppConfig) (*Agent, error) {

	// 1. Durable storage for the pending queue
	store, closer, err := newBlobStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}

	// 2. Backend API client
	tokens := api.NewStaticTokenProvider(cfg.API.Token)
	client := api.NewClient(cfg.API.BaseURL, tokens, cfg.API.Timeout)

	// 3. Shared components
	bus := events.NewBus()
	tracker := status.NewTracker(bus)
	scheduler := backoff.NewScheduler(backoff.Config{
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		MaxAttempts: cfg.Retry.MaxAttempts,
	})
	reach := reachability.NewMonitor(
		reachability.HTTPProbe(cfg.API.BaseURL, cfg.Reachability.ProbeTimeout),
		cfg.Reachability.ProbeInterval,
	)

	// 4. Queue and executor
	pending := queue.New(store, bus)
	exec := executor.New(client, tokens, bus)

	// 5. Syncer pipeline
	s := syncer.New(syncer.Deps{
		Queue:     pending,
		Executor:  exec,
		Scheduler: scheduler,
		Reach:     reach,
		Tracker:   tracker,
		Bus:       bus,
		Lister:    client,
	})

	// Safety net behind the reachability-driven drain
	redriver := worker.NewRedriver(cfg.Reachability.ProbeInterval*6, s, pending, reach.IsOnline)

	server := NewServer(cfg.Server.Port, reach, pending)

	return &Agent{
		cfg:      cfg,
		syncer:   s,
		queue:    pending,
		reach:    reach,
		server:   server,
		redriver: redriver,
		closer:   closer,
		log:      slog.Default(),
	}, nil
}

func newBlobStore(cfg config.StorageConfig) (storage.BlobStore, func() error, error) {
	switch cfg.Driver {
	case "", "memory":
		slog.Info("Using memory storage; pending mutations will not survive a restart")
		return memory.NewStore(), nil, nil

	case "redis":
		store, err := redisstore.NewStore(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using Redis storage")
		return store, store.Close, nil

	case "postgres":
		store, err := postgres.NewStore(context.Background(), cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using PostgreSQL storage")
		return store, store.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Syncer exposes the mutation entry point.
func (a *Agent) Syncer() *syncer.Syncer {
	return a.syncer
}

// Start rehydrates the queue, starts connectivity polling, the status server
// and the redrive worker.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.syncer.Start(ctx); err != nil {
		return fmt.Errorf("start syncer: %w", err)
	}

	a.reach.Start(ctx)

	go func() {
		if err := a.server.Start(); err != nil {
			a.log.Error("Status server failed", "error", err)
		}
	}()

	go a.redriver.Start(ctx)

	a.log.Info("Agent started", "port", a.cfg.Server.Port, "pending", a.queue.Len())
	return nil
}

// Stop shuts the agent down gracefully: in-flight retries are cancelled, the
// queue blob stays durable.
func (a *Agent) Stop(ctx context.Context) error {
	a.log.Info("Stopping agent...")

	if err := a.syncer.Stop(ctx); err != nil {
		return err
	}

	a.reach.Stop()

	if a.closer != nil {
		if err := a.closer(); err != nil {
			a.log.Warn("Failed to close storage", "error", err)
		}
	}

	return a.server.Stop(ctx)
}
