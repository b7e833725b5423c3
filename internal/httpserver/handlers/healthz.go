package handlers

import (
	"net/http"
	"time"

	"github.com/MrSnakeDoc/pokefav/internal/httpserver/deps"
)

type healthzResponse struct {
	Status        string    `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	Version       string    `json:"version,omitempty"`
	Commit        string    `json:"commit,omitempty"`
	BuildDate     string    `json:"build_date,omitempty"`
	GoVersion     string    `json:"go_version,omitempty"`
}

// Healthz reports liveness and build metadata. Dependencies are /readyz's job.
func Healthz(d deps.Deps) http.HandlerFunc {
	started := d.StartTime.UTC().Truncate(time.Second)
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, healthzResponse{
			Status:        "ok",
			StartedAt:     started,
			UptimeSeconds: time.Since(d.StartTime).Round(time.Millisecond).Seconds(),
			Version:       d.Version,
			Commit:        d.Commit,
			BuildDate:     d.BuildDate,
			GoVersion:     d.GoVersion,
		})
	}
}
