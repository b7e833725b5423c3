package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/pokefav/internal/logger"
	"github.com/MrSnakeDoc/pokefav/internal/retry"
)

// ConnectOptions defines Redis connection retry behavior.
type ConnectOptions struct {
	Addr           string        // Redis address (ex: "localhost:6379")
	User           string        // Optional username
	Password       string        // Optional password
	RedisDB        int           // Redis DB number
	DialTimeout    time.Duration // Redis dial timeout
	ReadTimeout    time.Duration // Redis read timeout
	WriteTimeout   time.Duration // Redis write timeout
	PoolSize       int           // Redis connection pool size
	ConnectTimeout time.Duration // Total time allowed for connection attempts (ex: 15s)
	RetryInterval  time.Duration // Initial wait between retries (grows exponentially)
	MaxWait        time.Duration // max wait between retries (ex: 5s)
	PingTimeout    time.Duration // timeout for each ping attempt (ex: 2s)
	WarnThreshold  int           // warn after this many attempts
}

func (o ConnectOptions) retryOptions() retry.Options {
	return retry.Options{
		Name:          "redis",
		Addr:          o.Addr,
		TotalTimeout:  o.ConnectTimeout,
		InitialWait:   o.RetryInterval,
		MaxWait:       o.MaxWait,
		PingTimeout:   o.PingTimeout,
		WarnThreshold: o.WarnThreshold,
	}
}

// New creates a Redis client and blocks until it answers PING or
// ConnectTimeout elapses. The client is closed on failure.
func New(ctx context.Context, opts ConnectOptions, log logger.Logger) (*redis.Client, error) {
	ropts := opts.retryOptions()
	if err := ropts.Validate(); err != nil {
		log.Error("invalid redis connect options", logger.Error(err))
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.User,
		Password:     opts.Password,
		DB:           opts.RedisDB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolSize:     opts.PoolSize,
	})

	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if _, err := retry.Ping(ctx, ping, ropts, log); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
