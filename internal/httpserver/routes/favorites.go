package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/pokefav/internal/httpserver/deps"
	"github.com/MrSnakeDoc/pokefav/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/pokefav/internal/httpserver/mw"
)

const favoritesPath = "/api/favorites"

func init() { Register(registerFavorites, rateLimit) }

// Exact path only: "/api/favorites/" falls through to the 404 handler.
func registerFavorites(r chi.Router, d deps.Deps) {
	r.Get(favoritesPath, handlers.ListFavorites(d))
	r.Post(favoritesPath, handlers.AddFavorite(d))
	r.Delete(favoritesPath, handlers.DeleteFavorite(d))
}

func rateLimit(d deps.Deps) func(http.Handler) http.Handler {
	if d.Limiter == nil {
		return nil
	}
	return mw.RateLimit(d.Limiter, d.TrustProxy, d.Logger)
}
