package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/stockroom/stockroom/internal/app"
	"github.com/stockroom/stockroom/internal/auth"
	"github.com/stockroom/stockroom/internal/inventory"
	"github.com/stockroom/stockroom/internal/observability"
	"github.com/stockroom/stockroom/internal/platform/cache"
	"github.com/stockroom/stockroom/internal/platform/db"
	"github.com/stockroom/stockroom/internal/rbac"
	"github.com/stockroom/stockroom/internal/shared"
	"github.com/stockroom/stockroom/internal/users"
	"github.com/stockroom/stockroom/jobs"
)

// stores groups the backends selected by STORE_DRIVER.
type stores struct {
	inventory   inventory.RepositoryPort
	users       users.RepositoryPort
	audit       inventory.AuditPort
	idempotency inventory.IdempotencyPort
	revoker     auth.Revoker
	inspector   *asynq.Inspector
	jobClient   *jobs.Client
	closers     []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*stores, error) {
	if cfg.UsesMemoryStore() {
		logger.Warn("using in-memory store, data is lost on restart")
		return &stores{
			inventory:   inventory.NewMemoryRepository(),
			users:       users.NewMemoryRepository(),
			idempotency: shared.NewMemoryIdempotencyStore(),
			revoker:     auth.NewMemoryRevoker(),
		}, nil
	}

	s := &stores{}
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, ApplicationName: "stockroom-api"})
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, pool.Close)

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		s.close()
		return nil, err
	}
	s.closers = append(s.closers, func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	})

	queueOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	inspector := asynq.NewInspector(queueOpts)
	jobClient := jobs.NewClient(queueOpts)
	s.closers = append(s.closers, func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	})

	s.inventory = inventory.NewRepository(pool)
	s.users = users.NewRepository(pool)
	s.audit = shared.NewAuditLogger(pool)
	s.idempotency = shared.NewIdempotencyStore(pool)
	s.revoker = auth.NewRedisRevoker(redisClient)
	s.inspector = inspector
	s.jobClient = jobClient
	return s, nil
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("open stores", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.close()

	userService := users.NewService(st.users)
	if cfg.UsesMemoryStore() && cfg.SeedOwnerPassword != "" {
		if _, err := userService.Bootstrap(ctx, cfg.SeedOwnerUsername, cfg.SeedOwnerPassword); err != nil {
			logger.Error("seed owner", slog.Any("error", err))
			os.Exit(1)
		}
	}

	metrics := observability.NewMetrics()
	rbacMiddleware := rbac.Middleware{Logger: logger}
	authService := auth.NewService(st.users, auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL), st.revoker)
	inventoryService := inventory.NewService(st.inventory, st.audit, st.idempotency, metrics).WithLogger(logger)

	var jobHandler *jobs.Handler
	if st.inspector != nil {
		jobHandler = jobs.NewHandler(st.inspector, st.jobClient, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		AuthService:      authService,
		AuthHandler:      auth.NewHandler(logger, authService),
		UsersHandler:     users.NewHandler(logger, userService, rbacMiddleware),
		InventoryHandler: inventory.NewHandler(logger, inventoryService, rbacMiddleware),
		JobHandler:       jobHandler,
		RBACMiddleware:   rbacMiddleware,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
