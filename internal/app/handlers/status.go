package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/coxyhq/coxy/internal/core/domain"
	"github.com/coxyhq/coxy/internal/core/ports"
	"github.com/coxyhq/coxy/internal/version"
	"github.com/coxyhq/coxy/pkg/format"
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

type statusResponse struct {
	Version   string           `json:"version"`
	Uptime    string           `json:"uptime"`
	Upstreams []upstreamStatus `json:"upstreams"`
}

type upstreamStatus struct {
	domain.UpstreamView
	Stats *ports.UpstreamStats `json:"stats,omitempty"`
}

func (a *Application) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Uptime:  format.Duration(time.Since(a.startTime)),
	})
}

func (a *Application) statusHandler(w http.ResponseWriter, r *http.Request) {
	roster := a.registry.Snapshot()
	var stats map[string]ports.UpstreamStats
	if a.collector != nil {
		stats = a.collector.UpstreamStats()
	}

	upstreams := make([]upstreamStatus, len(roster))
	for i, view := range roster {
		entry := upstreamStatus{UpstreamView: view}
		if s, ok := stats[view.Key]; ok {
			entry.Stats = &s
		}
		upstreams[i] = entry
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Version:   version.Version,
		Uptime:    format.Duration(time.Since(a.startTime)),
		Upstreams: upstreams,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
