package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/MrSnakeDoc/pokefav/internal/httpserver/deps"
	"github.com/MrSnakeDoc/pokefav/internal/logger"
)

const defaultReadyTimeout = 2 * time.Second

type componentStatus struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type readyzResponse struct {
	Ready      bool                       `json:"ready"`
	Components map[string]componentStatus `json:"components"`
}

// Readyz pings every configured dependency concurrently and answers 503 if
// any of them fails.
func Readyz(d deps.Deps) http.HandlerFunc {
	timeout := d.ReadyTimeout
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}

	return func(w http.ResponseWriter, r *http.Request) {
		components := make(map[string]componentStatus, len(d.ReadyChecks))
		var mu sync.Mutex
		var wg sync.WaitGroup

		for _, check := range d.ReadyChecks {
			wg.Add(1)
			go func(check deps.ReadyCheck) {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(r.Context(), timeout)
				defer cancel()

				status := componentStatus{OK: true}
				if err := check.Ping(ctx); err != nil {
					d.Logger.Warn("readiness check failed",
						logger.String("component", check.Name),
						logger.Error(err))
					status = componentStatus{OK: false, Error: "unavailable"}
				}

				mu.Lock()
				components[check.Name] = status
				mu.Unlock()
			}(check)
		}
		wg.Wait()

		ready := true
		for _, c := range components {
			if !c.OK {
				ready = false
				break
			}
		}

		w.Header().Set("Cache-Control", "no-store")
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, readyzResponse{Ready: ready, Components: components})
	}
}
