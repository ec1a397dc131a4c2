package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/SaurabhJain708/formbricks/app"
	"github.com/SaurabhJain708/formbricks/audit"
	"github.com/SaurabhJain708/formbricks/cache"
	"github.com/SaurabhJain708/formbricks/config"
	"github.com/SaurabhJain708/formbricks/crypto"
	"github.com/SaurabhJain708/formbricks/database"
	"github.com/SaurabhJain708/formbricks/feature"
	"github.com/SaurabhJain708/formbricks/log"
	"github.com/SaurabhJain708/formbricks/messaging"
	"github.com/SaurabhJain708/formbricks/pkg/telemetry"
	"github.com/SaurabhJain708/formbricks/server"
	"github.com/SaurabhJain708/formbricks/server/handler"
	"github.com/SaurabhJain708/formbricks/server/health"
	"github.com/SaurabhJain708/formbricks/server/middleware"
)

type operatorConfig struct {
	// Keys are "id:bcrypthash:role1|role2" entries, comma separated.
	Keys []string `envconfig:"AUDIT_OPERATOR_KEYS"`
}

func main() {
	loader := app.NewConfigLoader()
	ctx := context.Background()

	var logCfg log.Config
	var auditCfg audit.Config
	if err := loader.Load(ctx, &logCfg, ""); err != nil {
		slog.Error("failed to load log config", "error", err)
		os.Exit(1)
	}
	if err := loader.Load(ctx, &auditCfg, ""); err != nil {
		slog.Error("failed to load audit config", "error", err)
		os.Exit(1)
	}

	policy, err := config.LoadPolicy(auditCfg.PolicyFile)
	if err != nil {
		slog.Error("failed to load audit policy", "path", auditCfg.PolicyFile, "error", err)
		os.Exit(1)
	}
	policies := config.NewContainer(policy)

	// The same field names are masked in entries and in span attributes.
	var redactor atomic.Pointer[audit.Redactor]
	redactor.Store(redactorFor(auditCfg, policy))

	logger := log.New(logCfg, telemetry.WithSensitive(func(key string) bool {
		return redactor.Load().IsSensitive(key)
	}))
	slog.SetDefault(logger)

	runner := app.NewRunner(logger)
	runner.Run(func(ctx context.Context) error {
		d := &daemon{
			loader:   loader,
			logger:   logger,
			runner:   runner,
			service:  logCfg.Service,
			cfg:      auditCfg,
			policies: policies,
			redactor: &redactor,
		}
		return d.run(ctx)
	})
}

func redactorFor(cfg audit.Config, p config.Policy) *audit.Redactor {
	return audit.NewRedactor(append(slices.Clone(cfg.SensitiveFields), p.SensitiveFields...)...)
}

type daemon struct {
	loader   *app.Loader
	logger   *slog.Logger
	runner   *app.Runner
	service  string
	cfg      audit.Config
	policies *config.Container[config.Policy]
	redactor *atomic.Pointer[audit.Redactor]

	registry *prometheus.Registry
	checker  *health.Checker
	rdb      *redis.Client
}

func (d *daemon) run(ctx context.Context) error {
	var srvCfg server.Config
	var cacheCfg cache.Config
	var rlCfg middleware.RateLimitConfig
	var proxyCfg middleware.TrustedHeaderConfig
	for _, spec := range []any{&srvCfg, &cacheCfg, &rlCfg, &proxyCfg} {
		if err := d.loader.Load(ctx, spec, ""); err != nil {
			return err
		}
	}
	d.runner.ShutdownTimeout = srvCfg.ShutdownTimeout

	d.registry = prometheus.NewRegistry()
	d.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.checker = health.NewChecker(d.logger)

	if cacheCfg.URL == "" && d.cfg.HeadBackend == "redis" {
		cacheCfg.URL = d.cfg.HeadStoreURL
	}
	rdb, err := cache.NewRedis(ctx, cacheCfg)
	if err != nil {
		return err
	}
	d.rdb = rdb
	d.runner.OnShutdown("redis", func(context.Context) error { return rdb.Close() })
	d.checker.Add("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })

	requestMetadata, err := middleware.RequestMetadata(proxyCfg.TrustedProxies)
	if err != nil {
		return err
	}
	router := chi.NewRouter()
	router.Use(
		middleware.PanicRecovery,
		middleware.TraceIDMiddleware,
		middleware.OTelMiddleware(d.service),
		requestMetadata,
		middleware.LoggerMiddleware(d.logger),
		middleware.MetricsMiddleware(d.registry),
		middleware.SecurityHeaders,
	)
	d.checker.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{Registry: d.registry}))

	if d.cfg.Enabled {
		if err := d.mountAudit(ctx, router, rlCfg); err != nil {
			return err
		}
	} else {
		d.logger.Warn("audit logging is disabled, serving health and metrics only")
	}

	// gRPC serves only the health service, which probes call without credentials.
	grpcSrv := grpc.NewServer(grpc.ChainUnaryInterceptor(middleware.GRPCRecoveryInterceptor))
	healthpb.RegisterHealthServer(grpcSrv, d.checker.GRPC())

	if statuses, ok := d.checker.Run(ctx); !ok {
		d.logger.Warn("starting with failing readiness checks", "checks", statuses)
	}

	return server.New(srvCfg, d.logger, router, grpcSrv).WithDrainer(d.checker).Start(ctx)
}

// mountAudit builds the recorder and its stores, starts the ingest consumer
// and mounts the operator API.
func (d *daemon) mountAudit(ctx context.Context, router chi.Router, rlCfg middleware.RateLimitConfig) error {
	hasher, err := audit.NewHasher(d.cfg.EncryptionKey)
	if err != nil {
		return err
	}
	metrics := audit.NewMetrics(d.registry)

	store, heads, err := d.stores(ctx)
	if err != nil {
		return err
	}

	sink, err := d.sink()
	if err != nil {
		return err
	}

	flags := feature.NewManager(
		feature.FuncProvider(func(_ context.Context, key string) (bool, bool) {
			if key != feature.FlagCaptureIP {
				return false, false
			}
			if p := d.policies.Get().CaptureIP; p != nil {
				return *p, true
			}
			return false, false
		}),
		feature.EnvProvider{},
		feature.Static{feature.FlagCaptureIP: d.cfg.CaptureIP},
	)

	rec, err := audit.NewRecorder(audit.Options{
		Heads:         heads,
		Store:         store,
		Sink:          sink,
		Hasher:        hasher,
		Redactor:      d.redactor.Load(),
		Logger:        d.logger,
		Metrics:       metrics,
		MaxAttempts:   d.cfg.MaxAttempts,
		AppendTimeout: d.cfg.AppendTimeout,
		CaptureIP: func(ctx context.Context) bool {
			return flags.IsEnabled(ctx, feature.FlagCaptureIP)
		},
	})
	if err != nil {
		return err
	}

	d.policies.OnUpdate(func(p config.Policy) {
		red := redactorFor(d.cfg, p)
		d.redactor.Store(red)
		rec.SetRedactor(red)
	})
	if d.cfg.PolicyFile != "" {
		go config.WatchPolicy(ctx, d.cfg.PolicyFile, 0, d.policies, d.logger)
	}

	if err := d.startIngest(ctx, rec); err != nil {
		return err
	}

	auth, err := d.authenticator(ctx)
	if err != nil {
		return err
	}

	verifier := audit.NewVerifier(hasher, d.logger, metrics)
	h := handler.NewAuditHandler(rec, verifier, store, heads, d.logger)
	idempotency := middleware.IdempotencyMiddleware(middleware.IdempotencyConfig{
		Required: true,
		Redis:    d.rdb,
		Logger:   d.logger,
	})

	router.Group(func(r chi.Router) {
		r.Use(auth.HTTPMiddleware, middleware.RateLimitMiddleware(d.rdb, rlCfg))
		h.Routes(r, idempotency)
	})
	return nil
}

// auditStore is what both the recorder and the operator API need from storage.
type auditStore interface {
	audit.Store
	audit.Reader
}

func (d *daemon) stores(ctx context.Context) (auditStore, audit.HeadTracker, error) {
	if d.cfg.HeadBackend == "memory" {
		d.logger.Warn("using in-memory audit storage, entries are lost on restart and chains are not shared between instances")
		return audit.NewMemoryStore(), audit.NewMemoryHeadTracker(), nil
	}

	var dbCfg database.Config
	if err := d.loader.Load(ctx, &dbCfg, ""); err != nil {
		return nil, nil, err
	}
	db, err := database.NewPostgres(ctx, dbCfg, d.service)
	if err != nil {
		return nil, nil, err
	}
	d.runner.OnShutdown("postgres", func(context.Context) error { return db.Close() })
	d.checker.Add("postgres", health.PingCheck(db))

	if err := database.Migrate(ctx, db); err != nil {
		return nil, nil, fmt.Errorf("migrate audit schema: %w", err)
	}

	var heads audit.HeadTracker
	switch d.cfg.HeadBackend {
	case "postgres":
		heads = database.NewPostgresHeadTracker(db)
	default:
		heads = cache.NewRedisHeadTracker(d.rdb)
	}
	return database.NewAuditStore(db), heads, nil
}

func (d *daemon) sink() (audit.Sink, error) {
	sinks := audit.MultiSink{audit.NewJSONLinesSink(os.Stdout)}
	if len(d.cfg.KafkaBrokers) == 0 {
		return sinks, nil
	}

	producer, err := messaging.NewProducer(messaging.Config{Brokers: d.cfg.KafkaBrokers, ClientID: d.service}, d.logger)
	if err != nil {
		return nil, err
	}
	// Registered before the consumer so it is closed after it.
	d.runner.OnShutdown("kafka producer", func(context.Context) error { return producer.Close() })
	return append(sinks, audit.NewKafkaSink(producer, d.cfg.KafkaTopic)), nil
}

func (d *daemon) startIngest(ctx context.Context, rec *audit.Recorder) error {
	if len(d.cfg.KafkaBrokers) == 0 || d.cfg.IngestTopic == "" {
		return nil
	}

	consumer, err := messaging.NewConsumer(messaging.ConsumerConfig{
		Brokers: d.cfg.KafkaBrokers,
		GroupID: d.cfg.IngestGroup,
		Topic:   d.cfg.IngestTopic,
		// Events are retried until they are recorded; dropping one loses audit history.
		MaxRetries:     0,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     time.Minute,
	}, d.logger, audit.NewIngestHandler(rec, d.logger))
	if err != nil {
		return err
	}

	consumers := messaging.NewConsumerManager(d.logger)
	consumers.Register(consumer)
	consumers.Start(ctx)
	d.runner.OnShutdown("kafka consumers", func(context.Context) error { return consumers.Close() })
	return nil
}

// authenticator accepts, in order: bearer JWTs, operator API keys and
// gateway identity headers. At least one must be configured.
func (d *daemon) authenticator(ctx context.Context) (*middleware.AuthMiddleware, error) {
	var jwksCfg crypto.JWKSConfig
	var opCfg operatorConfig
	var headerCfg middleware.TrustedHeaderConfig
	for _, spec := range []any{&jwksCfg, &opCfg, &headerCfg} {
		if err := d.loader.Load(ctx, spec, ""); err != nil {
			return nil, err
		}
	}

	var strategies []middleware.AuthStrategy
	if jwksCfg.URL != "" {
		client, err := crypto.NewJWKSCachingClient(ctx, jwksCfg, d.logger)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, middleware.NewJWTStrategy(client, d.logger))
	}
	if len(opCfg.Keys) > 0 {
		keys, err := middleware.ParseOperatorKeys(opCfg.Keys)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, middleware.NewAPIKeyStrategy(keys, d.logger))
	}
	if len(headerCfg.TrustedProxies) > 0 {
		s, err := middleware.NewTrustedHeaderStrategy(headerCfg, d.logger)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, s)
	}
	if len(strategies) == 0 {
		return nil, errors.New("no operator authentication configured: set AUDIT_JWKS_URL, AUDIT_OPERATOR_KEYS or AUDIT_TRUSTED_PROXIES")
	}
	return middleware.NewAuthMiddleware(middleware.FirstOf(strategies...)), nil
}
