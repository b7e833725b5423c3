package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/pokefav/internal/httpserver/deps"
)

type (
	Registrar func(r chi.Router, d deps.Deps)
	// Middleware builds a per-route middleware once the deps are known.
	// Returning nil skips it.
	Middleware func(d deps.Deps) func(http.Handler) http.Handler
)

type entry struct {
	reg Registrar
	mws []Middleware
}

var registry []entry

// Register a registrar with optional per-route middlewares.
func Register(reg Registrar, mws ...Middleware) {
	registry = append(registry, entry{reg: reg, mws: mws})
}

// RegisterAll mounts every registrar on r. Called once from httpserver.NewRouter().
func RegisterAll(r chi.Router, d deps.Deps) {
	for _, e := range registry {
		chain := make([]func(http.Handler) http.Handler, 0, len(e.mws))
		for _, build := range e.mws {
			if m := build(d); m != nil {
				chain = append(chain, m)
			}
		}
		if len(chain) == 0 {
			e.reg(r, d)
			continue
		}
		e.reg(r.With(chain...), d)
	}
}
