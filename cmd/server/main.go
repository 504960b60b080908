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

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"signals/internal/platform/config"
	"signals/internal/platform/httpserver"
	"signals/internal/platform/kafka"
	"signals/internal/platform/logger"
	"signals/internal/platform/metrics"
	"signals/internal/platform/middleware"
	"signals/internal/platform/redis"
	"signals/internal/questionnaire/adapters"
	"signals/internal/questionnaire/flows"
	"signals/internal/questionnaire/graph"
	"signals/internal/questionnaire/handler"
	qmetrics "signals/internal/questionnaire/metrics"
	"signals/internal/questionnaire/models"
	"signals/internal/questionnaire/ports"
	"signals/internal/questionnaire/service"
	"signals/internal/questionnaire/store/memory"
	"signals/internal/questionnaire/store/postgres"
	"signals/pkg/platform/audit"
	"signals/pkg/platform/audit/publisher"
	auditmemory "signals/pkg/platform/audit/store/memory"
	auditpostgres "signals/pkg/platform/audit/store/postgres"
	"signals/pkg/platform/audit/worker"
	"signals/pkg/platform/httputil"
	"signals/pkg/platform/middleware/requesttime"
)

const shutdownTimeout = 10 * time.Second

// main wires the questionnaire engine to its stores, brokers and HTTP
// surface. Business logic lives in internal/questionnaire.
func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// sessionStore is what the service and the graph service need from a
// questionnaire store.
type sessionStore interface {
	service.Store
	graph.Store
}

// auditStore is the audit store as read by the admin endpoints.
type auditStore interface {
	audit.Store
	handler.AuditReader
}

type deps struct {
	store    sessionStore
	tx       service.Tx
	feedback ports.FeedbackStore
	audit    auditStore
	outbox   *auditpostgres.Store
	db       *sql.DB
	redis    *redis.Client
	kafka    *kafka.Client
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	d, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer d.close()

	var cache graph.Cache = graph.NewMemoryCache(cfg.GraphCacheTTL)
	if d.redis != nil {
		cache = graph.NewRedisCache(d.redis.Client, cfg.GraphCacheTTL)
	}

	var notifier ports.Notifier = adapters.NewLogNotifier(log)
	if d.kafka != nil {
		notifier = adapters.NewKafkaNotifier(d.kafka, cfg.Kafka.NotificationsTopic,
			adapters.WithNotifierLogger(log),
		)
	}

	registry, err := flows.NewRegistry(flows.Dependencies{
		Incidents: adapters.NewIncidentLedger(log),
		Feedback:  d.feedback,
		Notifier:  notifier,
	}, map[models.Flow]flows.Window{
		models.FlowFeedbackRequest:   {SubmitWithin: cfg.FeedbackRequestWindow},
		models.FlowReactionRequest:   {SubmitWithin: cfg.ReactionRequestWindow},
		models.FlowForwardToExternal: {SubmitWithin: cfg.ForwardToExternalWindow},
	})
	if err != nil {
		return fmt.Errorf("build flow registry: %w", err)
	}

	auditor := publisher.NewPublisher(d.audit,
		publisher.WithAsyncBuffer(1024),
		publisher.WithLogger(log),
	)
	defer func() {
		if err := auditor.Close(); err != nil {
			log.Warn("audit publisher close failed", "error", err)
		}
	}()

	serviceMetrics := qmetrics.New()
	graphs := graph.NewService(d.store,
		graph.WithCache(cache),
		graph.WithMaxQuestions(cfg.MaxQuestions),
		graph.WithStrictEdgeOrder(cfg.StrictEdgeOrder),
		graph.WithLogger(log),
		graph.WithMetrics(serviceMetrics),
		graph.WithAuditPublisher(auditor),
	)
	svc := service.New(d.store, graphs, registry,
		service.WithTx(d.tx),
		service.WithMaxQuestions(cfg.MaxQuestions),
		service.WithRetryPolicy(service.RetryPolicy{MaxAttempts: cfg.RetryMaxAttempts}),
		service.WithLogger(log),
		service.WithMetrics(serviceMetrics),
		service.WithAuditPublisher(auditor),
	)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recover(log))
	router.Use(middleware.Logger(log))
	router.Use(metrics.NewHTTP().Middleware)
	router.Use(requesttime.Middleware)
	router.Handle("/metrics", metrics.Handler())
	router.Get("/healthz", d.health)
	handler.New(svc, graphs, d.audit, cfg.AdminToken, log).Register(router)

	srv := httpserver.New(cfg.Addr, router,
		httpserver.WithWriteTimeout(cfg.HTTPWriteTimeout),
		httpserver.WithIdleTimeout(cfg.HTTPIdleTimeout),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting signals", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return ignoreCancel(svc.RunCleanup(gctx, cfg.CleanupInterval))
	})
	g.Go(func() error {
		return ignoreCancel(svc.RunRetries(gctx, cfg.RetryInterval))
	})
	if d.outbox != nil && d.kafka != nil {
		relay := worker.NewWorker(d.outbox, d.kafka, cfg.Kafka.EventsTopic, worker.WithLogger(log))
		g.Go(func() error {
			return ignoreCancel(relay.Run(gctx))
		})
	}
	return g.Wait()
}

// connect opens the configured backends. Without DATABASE_URL sessions and
// audit events live in process memory.
func connect(ctx context.Context, cfg config.Server, log *slog.Logger) (*deps, error) {
	d := &deps{}
	if cfg.DatabaseURL == "" {
		store := memory.New()
		d.store = store
		d.tx = service.NewMemoryTx(store)
		d.feedback = adapters.NewFeedbackArchive()
		d.audit = auditmemory.NewInMemoryStore()
		log.Warn("DATABASE_URL not set, using in-memory stores")
	} else {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		d.db = db
		if err := db.PingContext(ctx); err != nil {
			d.close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		store := postgres.New(db)
		if err := store.Migrate(ctx); err != nil {
			d.close()
			return nil, err
		}
		outbox := auditpostgres.New(db)
		if err := outbox.Migrate(ctx); err != nil {
			d.close()
			return nil, err
		}
		d.store = store
		d.tx = newSessionPostgresTx(db, store, 0)
		d.feedback = store
		d.audit = outbox
		d.outbox = outbox
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		d.close()
		return nil, err
	}
	d.redis = rc

	kc, err := kafka.New(cfg.Kafka)
	if err != nil {
		d.close()
		return nil, err
	}
	if kc != nil {
		if err := kc.EnsureTopics(ctx); err != nil {
			kc.Close()
			d.close()
			return nil, err
		}
	}
	d.kafka = kc
	return d, nil
}

func (d *deps) health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	healthy := true
	record := func(name string, err error) {
		if err != nil {
			checks[name] = err.Error()
			healthy = false
			return
		}
		checks[name] = "ok"
	}
	if d.db != nil {
		record("database", d.db.PingContext(ctx))
	}
	if d.redis != nil {
		record("redis", d.redis.Health(ctx))
	}
	if d.kafka != nil {
		record("kafka", d.kafka.Health(ctx))
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, checks)
}

func (d *deps) close() {
	if d.kafka != nil {
		d.kafka.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.db != nil {
		_ = d.db.Close()
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
