package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	audithandler "tourops/internal/audit/handler"
	auditmetrics "tourops/internal/audit/metrics"
	auditservice "tourops/internal/audit/service"
	auditstore "tourops/internal/audit/store"
	"tourops/internal/audit/stream"
	"tourops/internal/cache"
	"tourops/internal/cache/backend"
	cachebreaker "tourops/internal/cache/breaker"
	"tourops/internal/directory"
	"tourops/internal/jobs"
	jwttoken "tourops/internal/jwt_token"
	orderstore "tourops/internal/order/store"
	"tourops/internal/platform/config"
	"tourops/internal/platform/httpserver"
	"tourops/internal/platform/logger"
	"tourops/internal/platform/postgres"
	platformredis "tourops/internal/platform/redis"
	policyhandler "tourops/internal/policy/handler"
	policymetrics "tourops/internal/policy/metrics"
	policyservice "tourops/internal/policy/service"
	policystore "tourops/internal/policy/store"
	"tourops/internal/transition"
	transitionhandler "tourops/internal/transition/handler"
	transitionmetrics "tourops/internal/transition/metrics"
	httptransport "tourops/internal/transport/http"
	"tourops/pkg/platform/circuit"
	authmw "tourops/pkg/platform/middleware/auth"
	"tourops/pkg/platform/tx"
)

const shutdownTimeout = 10 * time.Second

type orderStore interface {
	transition.OrderReader
	transition.StatusWriter
}

type stores struct {
	orders    orderStore
	policies  policyservice.Store
	snapshots policyservice.SnapshotStore
	records   auditservice.Store
	directory auditservice.ActorDirectory
	runner    tx.Runner
}

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	if err := run(); err != nil {
		slog.Error("tourops exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	health := map[string]httptransport.HealthCheck{}

	var db *sql.DB
	st := memoryStores()
	if cfg.DatabaseURL != "" {
		db, err = postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		st = postgresStores(db)
		health["postgres"] = db.PingContext
		log.Info("using postgres storage")
	} else {
		log.Warn("DATABASE_URL not set, using in-memory storage")
	}

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		health["redis"] = redisClient.Health
	}

	cacheStore, sweepable, err := backend.New(cfg.Cache, redisClient)
	if err != nil {
		return err
	}
	if cfg.Cache.Backend == config.CacheBackendRedis {
		cacheStore = guardCache(log, cacheStore, cfg.Cache)
	}
	defer closeCache(log, cacheStore)

	var jm *jobs.JobManager
	if sweepable != nil {
		jm = jobs.NewJobManager(log, jobs.NewCacheSweepJob(sweepable, cfg.Cache.SweepSchedule, log))
		if err := jm.StartAll(); err != nil {
			return fmt.Errorf("start jobs: %w", err)
		}
		defer jm.StopAll()
	}

	policies := policyservice.New(st.policies, st.snapshots, st.runner,
		policyservice.WithLogger(log),
		policyservice.WithMetrics(policymetrics.New()),
	)

	auditMetrics := auditmetrics.New()
	auditOpts := []auditservice.Option{
		auditservice.WithLogger(log),
		auditservice.WithMetrics(auditMetrics),
		auditservice.WithConfig(auditConfig(cfg.Audit)),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		client, err := kafkaClient(ctx, cfg.Kafka)
		if err != nil {
			return err
		}
		defer client.Close()
		auditOpts = append(auditOpts, auditservice.WithPublisher(
			stream.NewSink(client, cfg.Kafka.Topic, stream.WithLogger(log), stream.WithMetrics(auditMetrics)),
		))
		log.Info("audit stream enabled", "topic", cfg.Kafka.Topic)
	}
	audit := auditservice.New(st.records, st.directory, cacheStore, auditOpts...)
	defer audit.Close()

	transitionMetrics := transitionmetrics.New()
	validator := transition.NewValidator(st.orders, policies,
		transition.WithLogger(log),
		transition.WithMetrics(transitionMetrics),
	)
	changer := transition.NewChanger(validator, st.orders, policies, audit,
		transition.WithChangerLogger(log),
		transition.WithChangerMetrics(transitionMetrics),
	)

	jwt := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	router := httptransport.NewRouter(httptransport.Deps{
		Logger:       log,
		Auth:         authmw.RequireAuth(jwt.Middleware(), nil, log),
		HealthChecks: health,
		Handlers: []httptransport.Registrar{
			policyhandler.New(policies, log),
			transitionhandler.New(&transition.Engine{Validator: validator, Changer: changer}, log),
			audithandler.New(audit, log),
		},
	})

	srv := httpserver.New(cfg.Addr, router)
	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting tourops", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func memoryStores() stores {
	policies := policystore.NewInMemoryStore()
	return stores{
		orders:    orderstore.NewInMemoryStore(),
		policies:  policies,
		snapshots: policies,
		records:   auditstore.NewInMemoryStore(),
		directory: directory.NewInMemory(),
		runner:    tx.NewMemoryRunner(),
	}
}

func postgresStores(db *sql.DB) stores {
	policies := policystore.NewPostgres(db)
	return stores{
		orders:    orderstore.NewPostgres(db),
		policies:  policies,
		snapshots: policies,
		records:   auditstore.NewPostgres(db),
		directory: directory.NewPostgres(db),
		runner:    tx.NewPostgresRunner(db),
	}
}

func auditConfig(c config.AuditConfig) auditservice.Config {
	cfg := auditservice.DefaultConfig()
	cfg.DedupTTL = c.DedupTTL
	cfg.RecentTTL = c.RecentTTL
	cfg.RecentCap = c.RecentCap
	cfg.StatsTTL = c.StatsTTL
	cfg.CacheBuffer = c.CacheBuffer
	cfg.CacheableLimit = c.CacheableLimit
	return cfg
}

func kafkaClient(ctx context.Context, c config.KafkaConfig) (*kgo.Client, error) {
	client, err := stream.NewClient(c.Brokers, c.Topic)
	if err != nil {
		return nil, err
	}
	if err := stream.EnsureTopic(ctx, client, c.Topic, c.Partitions, c.Replication); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// guardCache fails cache calls fast while redis is down so request paths fall
// back to durable reads without waiting on dial timeouts.
func guardCache(log *slog.Logger, c cache.Store, cfg config.CacheConfig) cache.Store {
	return cachebreaker.New(c,
		cachebreaker.WithLogger(log),
		cachebreaker.WithBreaker(circuit.New("redis-cache",
			circuit.WithFailureThreshold(cfg.BreakerFailures),
			circuit.WithSuccessThreshold(cfg.BreakerSuccesses),
			circuit.WithCooldown(cfg.BreakerCooldown),
		)),
	)
}

func closeCache(log *slog.Logger, c cache.Store) {
	if err := c.Close(); err != nil {
		log.Warn("cache close failed", "error", err)
	}
}
