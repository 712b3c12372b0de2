package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	auditpostgres "3tcapital/ms_facturacion_pe/internal/adapters/audit/postgres"
	gatewayhttp "3tcapital/ms_facturacion_pe/internal/adapters/http/gateway"
	healthhttp "3tcapital/ms_facturacion_pe/internal/adapters/http/health"
	registrypostgres "3tcapital/ms_facturacion_pe/internal/adapters/registry/postgres"
	appaudit "3tcapital/ms_facturacion_pe/internal/application/audit"
	appgateway "3tcapital/ms_facturacion_pe/internal/application/gateway"
	apphealth "3tcapital/ms_facturacion_pe/internal/application/health"
	coreaudit "3tcapital/ms_facturacion_pe/internal/core/audit"
	"3tcapital/ms_facturacion_pe/internal/core/gateway"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/cache"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/config"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/database"
	infrahttp "3tcapital/ms_facturacion_pe/internal/infrastructure/http"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/http/middleware"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/http/server"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/logger"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/metrics"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/ratelimit"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/workpool"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "service stopped: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.App.Name, cfg.Log.Level, cfg.App.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbCfg := database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		Database:        cfg.Database.Database,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	pool, err := database.NewPool(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("connect audit database: %w", err)
	}
	defer pool.Close()

	sqlDB, err := database.OpenSQL(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("connect registry database: %w", err)
	}
	defer sqlDB.Close()
	log.Info("Database connection established", "database", cfg.Database.Database)

	if cfg.Database.RunMigrations {
		if err := database.RunMigrations(ctx, pool, log); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	registryRepo := registrypostgres.NewRepository(sqlDB)
	if err := appgateway.Seed(ctx, registryRepo, seeds(cfg.Seed), log); err != nil {
		return err
	}

	negative, probes, closeCache, err := negativeCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()

	timeouts, err := timeoutResolver(cfg.Gateway)
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	workers := workpool.New(cfg.Audit.Workers, cfg.Audit.QueueSize, log)
	workers.Start()
	defer workers.Stop()

	var auditRepo coreaudit.Repository
	if cfg.Audit.Enabled {
		auditRepo = auditpostgres.NewRepositoryWithLogger(pool, log)
	} else {
		log.Warn("Audit trail configuration: DISABLED - Audit not enabled in configuration")
	}

	var breakers *infrahttp.BreakerSet
	if cfg.Gateway.CircuitBreakerEnabled {
		breakers = infrahttp.NewBreakerSet(
			cfg.Gateway.CircuitBreakerFailures,
			cfg.Gateway.CircuitBreakerThreshold,
			cfg.Gateway.CircuitBreakerCooldown,
		)
	}

	factory := appgateway.NewFactory(appgateway.Deps{
		Registry:        appgateway.NewRegistry(registryRepo, cache.NewSnapshotCache(cfg.Gateway.SnapshotTTL), log),
		AuditRepository: auditRepo,
		AuditOptions:    []appaudit.Option{appaudit.WithMaxBodySize(cfg.Audit.MaxBodySize)},
		SyncAuditPooled: cfg.Audit.Async,
		NegativeCache:   negative,
		Metrics:         m,
		Limiter:         ratelimit.Default(),
		Breakers:        breakers,
		Timeouts:        timeouts,
		Pool:            workers,
		Logger:          log,
		DefaultCaller:   cfg.Gateway.CallerDefault,
		MasivoBatchSize: cfg.Gateway.MasivoBatchSize,
		MasivoRPS:       cfg.Gateway.MasivoRPS,
	})

	probes = append(probes,
		apphealth.Probe{Name: "postgres", Check: pool.Ping},
		apphealth.Probe{Name: "registry_db", Check: sqlDB.PingContext},
	)
	healthService := apphealth.NewService(apphealth.Metadata{
		Service:     cfg.App.Name,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
	}, probes...)

	auth, err := middleware.NewJWTAuthenticator(cfg.Auth, log)
	if err != nil {
		return fmt.Errorf("configure authentication: %w", err)
	}

	gatewayHandler := gatewayhttp.NewHandler(factory, appaudit.NewQuery(auditRepo), cfg.HTTP.WriteTimeoutMassive, log)

	opts := server.Options{
		Config:        cfg,
		Logger:        log,
		HealthHandler: http.HandlerFunc(healthhttp.NewHandler(healthService, log).Status),
		Authenticator: auth,
		GatewayRoutes: gatewayHandler.Mount,
	}
	if m != nil {
		opts.MetricsHandler = m.Handler()
	}

	srv, err := server.New(opts)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	defer srv.Close()

	log.Info("Starting HTTP server", "port", cfg.HTTP.Port, "negative_cache", cfg.NegativeCache.Backend)
	return srv.Run(ctx)
}

func seeds(s config.SeedSettings) []appgateway.ServiceSeed {
	return []appgateway.ServiceSeed{
		seedFor(gateway.ServiceNubefact, s.Nubefact),
		seedFor(gateway.ServiceMigo, s.Migo),
	}
}

func seedFor(t gateway.ServiceType, s config.ServiceSeed) appgateway.ServiceSeed {
	return appgateway.ServiceSeed{
		Type:       t,
		Name:       s.Name,
		BaseURL:    s.BaseURL,
		Token:      s.Token,
		AuthScheme: s.AuthScheme,
		RateLimit:  s.RateLimit,
	}
}

// negativeCache builds the configured backend and the health probes it adds.
func negativeCache(ctx context.Context, cfg config.AppConfig, log *slog.Logger) (gateway.NegativeCache, []apphealth.Probe, func(), error) {
	ttls := cache.NegativeTTLs{
		gateway.KindRUCInvalid: cfg.NegativeCache.RUCTTL,
		gateway.KindDNIInvalid: cfg.NegativeCache.DNITTL,
	}

	if cfg.NegativeCache.Backend != "redis" {
		mem := cache.ConfigureSharedNegativeCache(ttls)
		mem.Start()
		return mem, nil, mem.Close, nil
	}

	client, err := cache.NewRedisClient(ctx, cache.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	log.Info("Redis negative cache connected", "addr", cfg.Redis.Addr)

	rc := cache.NewRedisNegativeCache(client, cfg.NegativeCache.KeyPrefix, ttls, log)
	probes := []apphealth.Probe{{Name: "redis", Check: rc.Ping}}
	return rc, probes, func() { _ = client.Close() }, nil
}

func timeoutResolver(s config.GatewaySettings) (appgateway.TimeoutResolver, error) {
	src, err := config.NewViperSource(s.SettingsFile)
	if err != nil {
		return nil, err
	}
	return func(t gateway.ServiceType) gateway.TimeoutConfig {
		return config.ResolveTimeouts(src, string(t))
	}, nil
}
