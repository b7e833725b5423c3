package deps

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/pokefav/internal/domain"
	"github.com/MrSnakeDoc/pokefav/internal/httpserver/mw"
	"github.com/MrSnakeDoc/pokefav/internal/logger"
)

// FavoritesStore is the persistence the favorites handlers need.
type FavoritesStore interface {
	List(ctx context.Context, username string) ([]domain.FavoriteRecord, error)
	InsertIfAbsent(ctx context.Context, fav domain.NewFavorite) (domain.InsertResult, error)
	Delete(ctx context.Context, key domain.FavoriteKey) (int64, error)
	Ping(ctx context.Context) error
}

// ReadyCheck is one dependency probed by /readyz.
type ReadyCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type Deps struct {
	Logger       logger.Logger
	StartTime    time.Time
	Version      string
	Commit       string
	BuildDate    string
	GoVersion    string
	Store        FavoritesStore // favorites persistence
	ReadyChecks  []ReadyCheck   // dependencies reported by /readyz
	ReadyTimeout time.Duration  // per-check timeout, defaults to 2s
	Limiter      mw.Limiter     // nil disables rate limiting on /api
	MaxBodyBytes int64          // request body cap for POST/DELETE
	AllowedCIDRS []string       // IPs allowed to access the readyz endpoint
	TrustProxy   bool           // true if running behind a trusted reverse proxy
}
