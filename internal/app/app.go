package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/pokefav/internal/config"
	"github.com/MrSnakeDoc/pokefav/internal/httpserver"
	"github.com/MrSnakeDoc/pokefav/internal/httpserver/deps"
	"github.com/MrSnakeDoc/pokefav/internal/httpserver/mw"
	"github.com/MrSnakeDoc/pokefav/internal/logger"
	"github.com/MrSnakeDoc/pokefav/internal/postgres"
	"github.com/MrSnakeDoc/pokefav/internal/redis"
	pgstore "github.com/MrSnakeDoc/pokefav/internal/store/postgres"
	redisstore "github.com/MrSnakeDoc/pokefav/internal/store/redis"
	"github.com/MrSnakeDoc/pokefav/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	pool        *pgxpool.Pool
	redisClient *goredis.Client
	ctx         context.Context
	stop        context.CancelFunc
}

// New loads the configuration and opens every dependency. SIGINT/SIGTERM
// during startup abort the connection retries.
func New() (*App, error) {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// Postgres is required - fail fast if unavailable
	pool, err := postgres.New(ctx, postgres.ConnectOptions{
		DSN:            cfg.DatabaseURL,
		MaxConns:       cfg.DBMaxConns,
		MinConns:       cfg.DBMinConns,
		ConnectTimeout: cfg.DBConnectTimeout,
		RetryInterval:  cfg.DBRetryInterval,
		MaxWait:        cfg.DBMaxWait,
		PingTimeout:    cfg.DBPingTimeout,
		WarnThreshold:  cfg.DBWarnThreshold,
	}, loggerClient)
	if err != nil {
		stop()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, pool, loggerClient); err != nil {
			pool.Close()
			stop()
			return nil, err
		}
	} else {
		loggerClient.Info("auto-migrate disabled, expecting schema to be in place")
	}

	store := pgstore.NewStore(pool, cfg.DBQueryTimeout, loggerClient)

	d := deps.Deps{
		Logger:       loggerClient,
		StartTime:    time.Now(),
		Version:      version.Version,
		Commit:       version.Commit,
		BuildDate:    version.BuildDate,
		GoVersion:    version.GoVersion,
		Store:        store,
		ReadyChecks:  []deps.ReadyCheck{{Name: "postgres", Ping: store.Ping}},
		MaxBodyBytes: cfg.MaxBodyBytes,
		AllowedCIDRS: cfg.AllowedCIDRS,
		TrustProxy:   cfg.TrustProxy,
	}

	// Redis is optional, it only shares the rate limit budget across replicas
	var redisClient *goredis.Client
	if cfg.RedisEnabled() {
		redisClient, err = redis.New(ctx, redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			RedisDB:        cfg.RedisDB,
			DialTimeout:    cfg.RedisDT,
			ReadTimeout:    cfg.RedisRT,
			WriteTimeout:   cfg.RedisWT,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
			WarnThreshold:  cfg.RedisWarnThreshold,
		}, loggerClient)
		if err != nil {
			pool.Close()
			stop()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		d.ReadyChecks = append(d.ReadyChecks, deps.ReadyCheck{
			Name: "redis",
			Ping: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	d.Limiter = newLimiter(cfg, redisClient, loggerClient)

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      httpserver.New(cfg, loggerClient, d),
		pool:        pool,
		redisClient: redisClient,
		ctx:         ctx,
		stop:        stop,
	}, nil
}

// newLimiter returns nil when rate limiting is disabled.
func newLimiter(cfg *config.Config, client *goredis.Client, log logger.Logger) mw.Limiter {
	if !cfg.RateLimitEnabled() {
		return nil
	}
	if client != nil {
		limit := max(cfg.RateLimitPerMin, cfg.RateLimitBurst)
		log.Info("rate limiting enabled (redis)", logger.Int("per_minute", limit))
		return redisstore.NewRateLimiter(client, limit, time.Minute)
	}
	log.Info("rate limiting enabled (memory)",
		logger.Int("burst", cfg.RateLimitBurst),
		logger.Int("per_minute", cfg.RateLimitPerMin))
	return mw.NewMemoryLimiter(mw.RateLimitConfig{
		Burst:             cfg.RateLimitBurst,
		RefillPerIPPerMin: cfg.RateLimitPerMin,
		MaxEntries:        100_000,
	})
}

func (a *App) Run() error {
	defer a.stop()

	a.logger.Infof("🚀 Starting %s on %s", version.String(), a.cfg.ListenPort)

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-a.ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to stop server: %w", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}

	a.pool.Close()
	a.logger.Info("✅ Postgres pool closed")

	if runErr == nil {
		a.logger.Info("✅ pokefav stopped cleanly")
	}
	_ = a.logger.Sync()
	return runErr
}
