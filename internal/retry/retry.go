// Package retry waits for a dependency to answer a ping, backing off
// exponentially between attempts until a total deadline.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/pokefav/internal/logger"
)

// PingFunc performs one health probe against a dependency.
type PingFunc func(ctx context.Context) error

// Options defines the connection retry behavior.
type Options struct {
	Name          string        // dependency name used in logs (ex: "postgres")
	Addr          string        // address used in logs, never a full DSN
	TotalTimeout  time.Duration // total time allowed for connection attempts (ex: 30s)
	InitialWait   time.Duration // initial wait between retries, doubles each time
	MaxWait       time.Duration // cap for the wait between retries
	PingTimeout   time.Duration // timeout for each ping attempt
	WarnThreshold int           // warn after this many attempts, error afterwards
}

// Validate ensures all required values are usable.
func (o Options) Validate() error {
	if o.TotalTimeout <= 0 {
		return fmt.Errorf("%s: connect timeout must be > 0, got %v", o.Name, o.TotalTimeout)
	}
	if o.InitialWait <= 0 {
		return fmt.Errorf("%s: retry interval must be > 0, got %v", o.Name, o.InitialWait)
	}
	if o.MaxWait <= 0 {
		return fmt.Errorf("%s: max wait must be > 0, got %v", o.Name, o.MaxWait)
	}
	if o.PingTimeout <= 0 {
		return fmt.Errorf("%s: ping timeout must be > 0, got %v", o.Name, o.PingTimeout)
	}
	if o.WarnThreshold < 0 {
		return fmt.Errorf("%s: warn threshold must be >= 0, got %d", o.Name, o.WarnThreshold)
	}
	return nil
}

// Ping calls ping until it succeeds or opts.TotalTimeout elapses.
// It returns the number of attempts made.
func Ping(ctx context.Context, ping PingFunc, opts Options, log logger.Logger) (int, error) {
	if err := opts.Validate(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.TotalTimeout)
	defer cancel()

	log.Info("connecting",
		logger.String("dependency", opts.Name),
		logger.String("addr", opts.Addr),
		logger.Duration("timeout", opts.TotalTimeout))

	start := time.Now()
	attempt := 0
	wait := opts.InitialWait

	for {
		attempt++

		pingCtx, pingCancel := context.WithTimeout(ctx, opts.PingTimeout)
		err := ping(pingCtx)
		pingCancel()

		if err == nil {
			logSuccess(log, opts, attempt, time.Since(start))
			return attempt, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Error("dependency unavailable - failed to connect after timeout",
				logger.String("dependency", opts.Name),
				logger.String("addr", opts.Addr),
				logger.Int("attempts", attempt),
				logger.Duration("timeout", opts.TotalTimeout),
				logger.Error(err))
			return attempt, fmt.Errorf("%s unavailable at %s after %d attempts (timeout: %v): %w",
				opts.Name, opts.Addr, attempt, opts.TotalTimeout, err)

		case <-timer.C:
			logRetry(log, opts, attempt, timeLeft(ctx), wait, err)
			wait *= 2
			if wait > opts.MaxWait {
				wait = opts.MaxWait
			}
		}
	}
}

func logSuccess(log logger.Logger, opts Options, attempts int, elapsed time.Duration) {
	if attempts > 1 {
		log.Warn("connected after retry",
			logger.String("dependency", opts.Name),
			logger.String("addr", opts.Addr),
			logger.Int("attempts", attempts),
			logger.Duration("elapsed", elapsed))
		return
	}
	log.Info("connected",
		logger.String("dependency", opts.Name),
		logger.String("addr", opts.Addr))
}

func logRetry(log logger.Logger, opts Options, attempt int, remaining, nextRetry time.Duration, err error) {
	fields := []logger.Field{
		logger.String("dependency", opts.Name),
		logger.String("addr", opts.Addr),
		logger.Int("attempt", attempt),
		logger.Duration("next_retry_in", nextRetry),
		logger.Error(err),
	}
	switch {
	case remaining < 10*time.Second:
		log.Error("still down - retrying but timeout approaching",
			append(fields, logger.Duration("remaining", remaining))...)
	case attempt <= opts.WarnThreshold:
		log.Warn("connection failed, retrying", fields...)
	default:
		log.Error("still unavailable - connection attempts failing", fields...)
	}
}

// timeLeft returns the remaining time before context deadline.
func timeLeft(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	return time.Until(deadline)
}
