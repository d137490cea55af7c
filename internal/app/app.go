package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/FooledKiwi/busstop-api/internal/config"
	"github.com/FooledKiwi/busstop-api/internal/handler"
	"github.com/FooledKiwi/busstop-api/internal/metrics"
	"github.com/FooledKiwi/busstop-api/internal/middleware"
	"github.com/FooledKiwi/busstop-api/internal/provider"
	"github.com/FooledKiwi/busstop-api/internal/service"
	"github.com/FooledKiwi/busstop-api/internal/storage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DBError represents a database-related error.
type DBError struct {
	Op  string
	Err error
}

func (e *DBError) Error() string {
	return fmt.Sprintf("db error during %q: %v", e.Op, e.Err)
}

func (e *DBError) Unwrap() error { return e.Err }

// App holds the application-level dependencies.
type App struct {
	Store     storage.Store
	Router    *gin.Engine
	Bootstrap *service.Bootstrapper
	Metrics   *metrics.Collector

	cfg    *config.Config
	logger *zap.Logger
}

// New initializes the application: opens the entity store, runs the startup
// bootstrap check, wires all domain dependencies, and configures the HTTP
// engine with routes.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// --- Entity store ---
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// --- Domain dependencies ---
	m := metrics.New("busstop")

	fetcher := provider.NewBreakerProvider(
		provider.NewHTTPProvider(cfg.ProviderURL, provider.WithTimeout(cfg.ProviderTimeout)),
		provider.DefaultBreakerSettings(),
		logger,
	)

	favorites := service.NewFavoritesService(store, logger, m)
	bootstrap := service.NewBootstrapper(store, fetcher, logger, m)

	if _, err := bootstrap.Check(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("app: bootstrap check: %w", err)
	}
	resolveBootstrap(bootstrap, cfg, logger)

	// --- HTTP engine ---
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger.Named("access")))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Metrics(m))
	if len(cfg.CORSAllowOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.CORSAllowOrigins,
			AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", middleware.RequestIDHeader},
			ExposeHeaders: []string{"Content-Length", middleware.RequestIDHeader},
			MaxAge:        12 * time.Hour,
		}))
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	// API v1 routes.
	h := handler.New(favorites, store, bootstrap, logger)
	h.RegisterRoutes(router.Group("/api/v1"), cfg.RequestTimeout, cfg.ProviderTimeout+cfg.RequestTimeout)

	return &App{
		Store:     store,
		Router:    router,
		Bootstrap: bootstrap,
		Metrics:   m,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// openStore opens the store selected by cfg.StoreDriver. For PostgreSQL it
// also applies pending migrations.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	if cfg.StoreDriver != config.DriverPostgres {
		store, err := storage.OpenSQLite(ctx, cfg.DBDSN)
		if err != nil {
			return nil, &DBError{Op: "open_sqlite", Err: err}
		}
		logger.Info("sqlite store opened", zap.String("path", cfg.DBDSN))
		return store, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DBDSN)
	if err != nil {
		return nil, &DBError{Op: "parse_dsn", Err: err}
	}

	poolCfg.MaxConns = 10
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, &DBError{Op: "connect", Err: err}
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &DBError{Op: "ping", Err: err}
	}

	logger.Info("database connection pool established")

	// --- Migrations ---
	if err := storage.RunMigrations(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("app: run migrations: %w", err)
	}

	logger.Info("database schema up to date")
	return storage.NewPostgresStore(pool), nil
}

// resolveBootstrap answers the bootstrap prompt at startup when the
// configured mode says to. A failed fetch is logged and left for the user to
// retry through the API.
func resolveBootstrap(b *service.Bootstrapper, cfg *config.Config, logger *zap.Logger) {
	var answer bool
	switch cfg.BootstrapMode {
	case config.BootstrapAuto:
		answer = true
	case config.BootstrapSkip:
		answer = false
	default:
		if b.NeedsBootstrap() {
			logger.Info("waiting for the bootstrap prompt to be answered",
				zap.String("endpoint", "POST /api/v1/bootstrap"))
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ProviderTimeout+cfg.RequestTimeout)
	defer cancel()

	err := b.Resolve(ctx, service.ConfirmerFunc(func(context.Context, string) (bool, error) {
		return answer, nil
	}))
	if err != nil {
		logger.Warn("startup bootstrap failed", zap.String("mode", cfg.BootstrapMode), zap.Error(err))
	}
}

// Shutdown gracefully closes the entity store.
func (a *App) Shutdown() {
	if a.Store == nil {
		return
	}
	if err := a.Store.Close(); err != nil {
		a.logger.Error("closing store failed", zap.Error(err))
		return
	}
	a.logger.Info("store closed")
}
