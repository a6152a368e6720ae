// Package monitor wires the monitoring service: the pending-state store, the
// matching engine, the expiry janitor, the notification hub and the watcher
// dispatcher, behind a small HTTP server exposing health probes.
package monitor

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/sodazone/xcmon/pkg/db"
	"github.com/sodazone/xcmon/pkg/janitor"
	"github.com/sodazone/xcmon/pkg/logging"
	"github.com/sodazone/xcmon/pkg/matching"
	"github.com/sodazone/xcmon/pkg/notify"
	"github.com/sodazone/xcmon/pkg/redis"
	"github.com/sodazone/xcmon/pkg/retry"
	"github.com/sodazone/xcmon/pkg/utils"
	"github.com/sodazone/xcmon/pkg/watcher"
)

// App holds every long-lived component of the monitoring service.
type App struct {
	Logger *zap.Logger

	Store   *db.Store
	Janitor *janitor.Janitor
	Redis   *redis.Client
	Hub     *notify.Hub

	Engine     *matching.Engine
	Dispatcher *watcher.Dispatcher

	// Server is the HTTP server that serves the health probes.
	Server *http.Server
}

// Initialize builds the application from environment configuration:
//   - XCMON_PENDING_TTL: pending record time to live (default: "2h")
//   - XCMON_SWEEP_CRON: janitor sweep schedule, with seconds (default: every 30s)
//   - XCMON_REDIS_ENABLED: wire the Redis stream sink (default: "false")
func Initialize(ctx context.Context) (*App, error) {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	store, err := db.Open(logger)
	if err != nil {
		logger.Fatal("Unable to open pending-state store", zap.Error(err))
	}

	ttl := utils.EnvDuration("XCMON_PENDING_TTL", 2*time.Hour)
	sweepSpec := utils.Env("XCMON_SWEEP_CRON", "*/30 * * * * *")
	jan := janitor.New(logger, store, ttl, sweepSpec)

	hub := notify.NewHub(logger, notify.NewLogNotifier(logger))

	var redisClient *redis.Client
	if utils.Env("XCMON_REDIS_ENABLED", "false") == "true" {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Fatal("Unable to connect to Redis", zap.Error(err))
		}
		hub.AddSink(notify.NewStreamNotifier(redisClient))
	}

	engine := matching.NewEngine(logger, store, jan, hub, nil)
	dispatcher := watcher.NewDispatcher(logger, engine, retry.DefaultConfig())

	return &App{
		Logger:     logger,
		Store:      store,
		Janitor:    jan,
		Redis:      redisClient,
		Hub:        hub,
		Engine:     engine,
		Dispatcher: dispatcher,
	}, nil
}

// SetupServer sets up the HTTP server.
func (a *App) SetupServer() {
	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3000")

	r := mux.NewRouter()

	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })).Methods("GET")
	r.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if a.Ready(req.Context()) {
			w.WriteHeader(200)
		} else {
			w.WriteHeader(503)
		}
	})).Methods("GET")

	a.Server = &http.Server{Addr: addr, Handler: r}
}

// Ready reports whether every wired dependency is reachable.
func (a *App) Ready(ctx context.Context) bool {
	if a.Redis != nil {
		if err := a.Redis.Health(ctx); err != nil {
			a.Logger.Warn("Redis not ready", zap.Error(err))
			return false
		}
	}
	return true
}

// Start runs the service until ctx is cancelled, then shuts everything down
// in dependency order: no new events, drain the lanes, stop the sweeps,
// close the store.
func (a *App) Start(ctx context.Context) {
	if err := a.Janitor.Start(); err != nil {
		a.Logger.Fatal("Unable to start janitor", zap.Error(err))
	}

	go func() { _ = a.Server.ListenAndServe() }()
	a.Logger.Info("Monitor started", zap.String("addr", a.Server.Addr))

	<-ctx.Done()
	a.Logger.Info("Shutting down…")

	_ = a.Server.Close()
	a.Dispatcher.Close()
	a.Janitor.Stop()
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("Store close failed", zap.Error(err))
	}
	a.Logger.Info("Bye!")
}
