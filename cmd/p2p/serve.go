package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"p2pplatform/internal/common/api"
	"p2pplatform/internal/common/cache"
	"p2pplatform/internal/common/database"
	"p2pplatform/internal/common/middleware"
	natsx "p2pplatform/internal/common/nats"
	"p2pplatform/internal/ledger"
	ledgerapi "p2pplatform/internal/ledger/api"
	"p2pplatform/internal/p2p"
	p2papi "p2pplatform/internal/p2p/api"
	"p2pplatform/internal/p2p/contacts"
	"p2pplatform/internal/p2p/fees"
	"p2pplatform/internal/p2p/notify"
	"p2pplatform/internal/p2p/settlement"
	"p2pplatform/internal/p2p/store"
)

// wallets is what the engine and the ledger API need from either ledger.
type wallets interface {
	p2p.Ledger
	p2p.AccountOwnership
	ledgerapi.Wallets
}

// healthCheck reports one dependency's status.
type healthCheck func(ctx context.Context) error

// app is the wired service and everything that must be closed on exit.
type app struct {
	store    store.Store
	wallets  wallets
	queue    p2p.Queue
	source   settlement.Source
	notifier p2p.Notifier
	idem     middleware.IdempotencyStore
	limiter  middleware.RateLimiter
	checks   map[string]healthCheck
	closers  []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func serve(ctx context.Context, cfg Config, logger *slog.Logger) error {
	a := &app{checks: map[string]healthCheck{}}
	defer a.close()

	if err := a.openStorage(ctx, cfg, logger); err != nil {
		return err
	}
	if err := a.openMessaging(ctx, cfg, logger); err != nil {
		return err
	}
	if err := a.openCache(ctx, cfg, logger); err != nil {
		return err
	}

	var directory contacts.Directory
	if cfg.Directory.BaseURL != "" {
		directory = contacts.NewHTTPDirectory(cfg.Directory, logger)
	} else {
		logger.Warn("DIRECTORY_URL not set, every contact resolves as unregistered")
		directory = contacts.NewStaticDirectory()
	}
	resolver := contacts.NewResolver(a.store, directory, logger)

	policy, err := fees.NewPolicy(fees.DefaultSchedule())
	if err != nil {
		return err
	}
	service := p2p.NewService(cfg.Engine, p2p.Deps{
		Store:     a.store,
		Ledger:    a.wallets,
		Ownership: a.wallets,
		Contacts:  resolver,
		Notifier:  a.notifier,
		Queue:     a.queue,
		Fees:      policy,
		Limits:    fees.DefaultLimits(),
		Logger:    logger,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	clearing, err := settlement.NewRandomClearing(cfg.Settlement.ApproveRate, uint64(time.Now().UnixNano()))
	if err != nil {
		return err
	}
	worker := settlement.NewWorker(cfg.Settlement, service, clearing, a.source, settlement.NewMetrics(registry), logger)

	tokens := middleware.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTLifetime)
	router := a.router(cfg, logger, registry, tokens, service, resolver)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting p2p service", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

// openStorage uses Postgres for both the engine store and the ledger when
// DATABASE_URL is set, and SQLite plus the in-memory ledger otherwise.
func (a *app) openStorage(ctx context.Context, cfg Config, logger *slog.Logger) error {
	currencies, err := cfg.currencies()
	if err != nil {
		return err
	}

	if cfg.Database.URL == "" {
		logger.Warn("DATABASE_URL not set, using SQLite with an in-memory ledger", "path", cfg.SQLitePath)
		s, err := store.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = s.Close() })
		a.store = s
		a.wallets = ledger.NewMemory(currencies...)
		a.checks["store"] = s.Ping
		return nil
	}

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(cfg.Database.URL, database.MigrateUp, logger); err != nil {
			return err
		}
	}
	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	ledgerService := ledger.NewService(db, logger)
	if err := ledgerService.InitializeSystemAccounts(ctx, currencies...); err != nil {
		return fmt.Errorf("initializing system accounts: %w", err)
	}
	a.store = store.NewPostgres(db)
	a.wallets = ledgerService
	a.checks["database"] = db.HealthCheck
	return nil
}

// openMessaging wires the settlement queue and notifications to JetStream, or
// to in-process stand-ins when NATS is disabled.
func (a *app) openMessaging(ctx context.Context, cfg Config, logger *slog.Logger) error {
	if !cfg.NATSEnabled {
		q := settlement.NewMemoryQueue(cfg.QueueSize, logger)
		a.queue, a.source = q, q
		a.notifier = notify.NewLogDispatcher(logger)
		return nil
	}

	client, err := natsx.New(ctx, cfg.NATS, logger)
	if err != nil {
		return fmt.Errorf("connecting to nats: %w", err)
	}
	a.closers = append(a.closers, client.Close)

	q, err := settlement.NewJetStreamQueue(ctx, client, 0, logger)
	if err != nil {
		return fmt.Errorf("settlement stream: %w", err)
	}
	if err := notify.EnsureStream(ctx, client); err != nil {
		return fmt.Errorf("notification stream: %w", err)
	}
	a.queue, a.source = q, q
	a.notifier = notify.NewNATSDispatcher(natsx.NewPublisher(client, logger), logger)
	a.checks["nats"] = func(context.Context) error { return client.HealthCheck() }
	return nil
}

// openCache backs idempotent replays and the public rate limit with Redis when
// REDIS_ADDR is set.
func (a *app) openCache(ctx context.Context, cfg Config, logger *slog.Logger) error {
	if cfg.Redis.Addr == "" {
		a.idem = cache.NewMemoryIdempotencyStore()
		a.limiter = cache.NewMemoryRateLimiter(cfg.PublicRateLimit, cfg.PublicRateWin)
		return nil
	}
	client, err := cache.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	a.idem = cache.NewRedisIdempotencyStore(client, cfg.Redis.Prefix, logger)
	a.limiter = cache.NewRedisRateLimiter(client, cfg.Redis.Prefix, cfg.PublicRateLimit, cfg.PublicRateWin)
	a.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	return nil
}

func (a *app) router(cfg Config, logger *slog.Logger, registry *prometheus.Registry, tokens *middleware.TokenManager,
	service *p2p.Service, resolver *contacts.Resolver) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(chimw.Compress(5))

	r.Get("/health", a.health)
	r.Get("/ready", a.health)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	authed := chi.Middlewares{
		middleware.JWTAuth(tokens),
		middleware.Idempotency(a.idem, cfg.IdempotencyTTL, logger),
	}
	public := chi.Middlewares{
		middleware.RateLimit(a.limiter, middleware.ClientIP),
	}

	r.Mount("/api/v1/p2p", p2papi.NewHandler(service, resolver, logger).Routes(public, authed))
	r.Route("/api/v1/ledger", func(r chi.Router) {
		r.Use(authed...)
		r.Mount("/", ledgerapi.NewHandler(a.wallets, cfg.Deposits, logger).Routes())
	})

	return r
}

type componentStatus struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// health reports every dependency and answers 503 when any is down.
func (a *app) health(w http.ResponseWriter, r *http.Request) {
	res := componentStatus{Status: "healthy", Components: map[string]string{}}
	for name, check := range a.checks {
		if err := check(r.Context()); err != nil {
			res.Components[name] = "unhealthy: " + err.Error()
			res.Status = "unhealthy"
			continue
		}
		res.Components[name] = "healthy"
	}
	status := http.StatusOK
	if res.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	api.WriteJSON(w, status, res)
}
