// Command mfad serves TOTP multi-factor authentication for the CRM over HTTP.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/mfa/core/config"
	"github.com/dmitrymomot/mfa/core/event"
	"github.com/dmitrymomot/mfa/core/logger"
	"github.com/dmitrymomot/mfa/core/mfa"
	"github.com/dmitrymomot/mfa/core/server"
	"github.com/dmitrymomot/mfa/core/session"
	"github.com/dmitrymomot/mfa/httpapi"
	"github.com/dmitrymomot/mfa/integration/database/pg"
	"github.com/dmitrymomot/mfa/integration/database/redis"
	"github.com/dmitrymomot/mfa/integration/mfastore/pgstore"
	"github.com/dmitrymomot/mfa/integration/mfastore/redisstore"
	"github.com/dmitrymomot/mfa/integration/observability/prom"
	"github.com/dmitrymomot/mfa/pkg/ratelimiter"
	"github.com/dmitrymomot/mfa/pkg/secrets"
	"github.com/dmitrymomot/mfa/pkg/totp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg Config
	config.MustLoad(&cfg)

	logOpt := logger.WithProduction(cfg.AppName)
	if cfg.Development {
		logOpt = logger.WithDevelopment(cfg.AppName)
	}
	log := logger.New(logOpt, logger.WithContextExtractors(httpapi.LogExtractors()...))

	if err := run(ctx, cfg, log); err != nil {
		log.Error("mfad stopped with error", logger.Error(err))
		os.Exit(1)
	}
	log.Info("mfad stopped")
}

func run(ctx context.Context, cfg Config, log *slog.Logger) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	appKey, tenantKey, pepper, err := cfg.keys()
	if err != nil {
		return err
	}
	cipher, err := secrets.NewCipher(appKey, tenantKey)
	if err != nil {
		return err
	}
	hasher, err := totp.NewBackupCodeHasher(pepper)
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)

	var (
		store     mfa.Store
		limStore  ratelimiter.Store
		readiness []func(context.Context) error
	)
	switch cfg.Store {
	case storeRedis:
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer closeRedis(client, log)
		store = redisstore.New(client)
		limStore = ratelimiter.NewRedisStore(client, ratelimiter.WithRedisKeyPrefix("mfa:ratelimit:"))
		readiness = append(readiness, redis.Healthcheck(client))
	case storePostgres:
		pool, err := pg.Connect(ctx, cfg.DB)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := pgstore.Migrate(ctx, pool, cfg.DB, log.With(logger.Component("migration"))); err != nil {
			return err
		}
		store = pgstore.New(pool)
		readiness = append(readiness, pg.Healthcheck(pool))
	default:
		log.Warn("using in-memory credential store, enrollments are lost on restart", logger.Component("mfad"))
		store = mfa.NewMemoryStore()
	}
	if limStore == nil {
		mem := ratelimiter.NewMemoryStore(ratelimiter.WithMemoryStoreLogger(log))
		eg.Go(mem.Run(ctx))
		limStore = mem
	}

	limiter, err := mfa.NewAttemptLimiter(limStore, cfg.MFA)
	if err != nil {
		return err
	}

	registry := session.NewRegistry(
		session.WithConfig(cfg.Session),
		session.WithLogger(log.With(logger.Component("session"))),
	)
	eg.Go(registry.Run(ctx))

	bus := event.NewBus(
		event.WithAsync(cfg.EventBufferSize, cfg.EventWorkers),
		event.WithLogger(log.With(logger.Component("event"))),
	)
	bus.Subscribe(event.NewHandlerFunc(func(ctx context.Context, e mfa.MFADisabled) error {
		log.InfoContext(ctx, "mfa disabled",
			logger.UserID(e.UserID),
			logger.Count("invalidated_sessions", e.InvalidatedSessions))
		return nil
	}))
	defer runBus(ctx, bus, log)()

	svcOpts := []mfa.Option{
		mfa.WithConfig(cfg.MFA),
		mfa.WithLogger(log.With(logger.Component("mfa"))),
		mfa.WithAuditSink(mfa.MultiAuditSink{
			mfa.NewLogAuditSink(log.With(logger.Component("audit"))),
			mfa.NewEventAuditSink(bus),
		}),
		mfa.WithPublisher(bus),
		mfa.WithAttemptLimiter(limiter),
	}
	apiOpts := []httpapi.Option{
		httpapi.WithLogger(log.With(logger.Component("http"))),
		httpapi.WithIdentityHeader(cfg.IdentityHeader),
		httpapi.WithReadinessChecks(readiness...),
	}
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics := prom.New(reg)
		prom.RegisterSessionGauges(reg, registry.Stats)
		svcOpts = append(svcOpts, mfa.WithMetrics(metrics))
		apiOpts = append(apiOpts,
			httpapi.WithObserver(metrics),
			httpapi.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}

	svc, err := mfa.NewService(store, cipher, hasher, registry, svcOpts...)
	if err != nil {
		return err
	}
	// Runs before the bus shutdown above.
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svc.Close(closeCtx); err != nil {
			log.Error("pending audit records were not flushed", logger.Component("mfa"), logger.Error(err))
		}
	}()

	srv, err := server.NewFromConfig(cfg.Server, server.WithLogger(log.With(logger.Component("server"))))
	if err != nil {
		return err
	}
	eg.Go(srv.Run(ctx, httpapi.NewHandler(svc, apiOpts...)))

	log.InfoContext(ctx, "mfad started",
		slog.String("store", cfg.Store),
		slog.Bool("metrics", cfg.MetricsEnabled))

	return eg.Wait()
}

// runBus starts the bus detached from ctx cancellation and returns the
// function that stops it. The bus outlives the errgroup so svc.Close can
// still flush audit records and events into it; stop drains the queue.
func runBus(ctx context.Context, bus *event.Bus, log *slog.Logger) (stop func()) {
	busCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan error, 1)
	go func() { done <- bus.Run(busCtx)() }()

	return func() {
		cancel()
		if err := <-done; err != nil {
			log.Error("event bus stopped with error", logger.Component("event"), logger.Error(err))
		}
	}
}

func closeRedis(client goredis.UniversalClient, log *slog.Logger) {
	if err := client.Close(); err != nil {
		log.Error("failed to close redis client", logger.Component("redis"), logger.Error(err))
	}
}
