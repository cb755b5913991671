package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/alekb/botesq/internal/adapters/cache"
	eventadapter "github.com/alekb/botesq/internal/adapters/events"
	grpcadapter "github.com/alekb/botesq/internal/adapters/grpc"
	httpadapter "github.com/alekb/botesq/internal/adapters/http"
	"github.com/alekb/botesq/internal/adapters/llm"
	"github.com/alekb/botesq/internal/adapters/postgres"
	"github.com/alekb/botesq/internal/adapters/providers"
	"github.com/alekb/botesq/internal/application"
	"github.com/alekb/botesq/internal/domain"
	"github.com/alekb/botesq/internal/ports"
	"github.com/alekb/botesq/internal/precedent"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	cleanupFn  func(context.Context)
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With("service", cfg.ServiceID)
	slog.SetDefault(logger)

	var closers []io.Closer

	repos := postgres.NewRepositories()
	registry := ports.ProviderRegistry(repos.Providers)
	dispatches := ports.DispatchRepository(repos.Dispatches)

	if cfg.DatabaseURL != "" {
		db, dbErr := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
		if dbErr != nil {
			return nil, dbErr
		}
		sqlDB, sqlErr := db.DB()
		if sqlErr != nil {
			return nil, sqlErr
		}
		if migErr := postgres.Migrate(ctx, db); migErr != nil {
			_ = sqlDB.Close()
			return nil, migErr
		}
		registry = postgres.NewGormProviderRegistry(db)
		dispatches = postgres.NewGormDispatchRepository(db)
		precedent.Register(postgres.NewPrecedentCorpus(db))
		closers = append(closers, sqlDB)
	}

	healthCache := ports.HealthCache(cache.NewMemoryHealthCache())
	if cfg.RedisURL != "" {
		redisClient, redisErr := cache.Connect(ctx, cfg.RedisURL)
		if redisErr != nil {
			return nil, redisErr
		}
		healthCache = cache.NewRedisHealthCache(redisClient)
		closers = append(closers, redisClient)
	}

	publisher := ports.DomainPublisher(eventadapter.NewMemoryDomainPublisher())
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher, pubErr := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, map[string]string{
			domain.EventDisputeRuled:     "arbitration.rulings",
			domain.EventRequestRouted:    "dispatch.routing",
			domain.EventRequestDispatch:  "dispatch.requests",
			domain.EventRequestCompleted: "dispatch.requests",
		})
		if pubErr != nil {
			logger.WarnContext(ctx, "kafka publisher disabled", "error", pubErr)
		} else {
			publisher = kafkaPublisher
			closers = append(closers, kafkaPublisher)
		}
	}

	generator := llm.NewClient(cfg.EngineBaseURL, cfg.EngineAPIKey, cfg.EngineModel)
	internalAdapter := providers.NewInternalAdapter(generator)
	adapterSource := providers.NewSource(internalAdapter, registry, providers.DefaultAdapterTTL)

	service := application.NewService(application.Dependencies{
		Config: application.Config{
			ServiceName:        cfg.ServiceID,
			IdempotencyTTL:     cfg.IdempotencyTTL,
			HealthCacheTTL:     cfg.HealthCacheTTL,
			MaxPrecedentCases:  cfg.MaxPrecedentCases,
			ArbitrationTokens:  cfg.ArbitrationTokens,
			ArbitrationTemp:    cfg.ArbitrationTemp,
			GenerationTimeout:  cfg.GenerationTimeout,
			HealthProbeTimeout: cfg.HealthProbeTimeout,
		},
		Disputes:    repos.Disputes,
		Registry:    registry,
		Dispatches:  dispatches,
		AuditLogs:   repos.AuditLogs,
		Idempotency: repos.Idempotency,
		Generator:   generator,
		Precedent:   precedent.Active(),
		Calibration: grpcadapter.NewCalibrationClient(cfg.CalibrationGRPCURL),
		Trust:       repos.Trust,
		HealthCache: healthCache,
		Adapters:    adapterSource,
		Events:      publisher,
	})

	handler := httpadapter.NewHandler(service)
	router := httpadapter.NewRouter(handler)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	grpcadapter.Register(grpcServer, grpcadapter.NewArbitrationInternalServer(service))
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		for _, closer := range closers {
			_ = closer.Close()
		}
		return nil, err
	}

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		grpcServer: grpcServer,
		grpcLis:    lis,
		cleanupFn: func(context.Context) {
			for _, closer := range closers {
				_ = closer.Close()
			}
		},
	}, nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 2)

	go func() {
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		r.logger.ErrorContext(ctx, "runtime failure", "error", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return nil
}
