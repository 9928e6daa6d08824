// Package routes serves the bot's health and status endpoints.
package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coah80/yoinktube/internal/services"
	"github.com/coah80/yoinktube/internal/util"
)

type SessionStats interface {
	Stats() services.Stats
}

type CookieState interface {
	Available() bool
}

type StatusDeps struct {
	Sessions  SessionStats
	Cookies   CookieState
	Version   string
	TempDir   string
	StartedAt time.Time
}

type StatusResponse struct {
	Cookies         bool    `json:"cookies"`
	ActiveDownloads int     `json:"activeDownloads"`
	Sessions        int     `json:"sessions"`
	AdminFlows      int     `json:"adminFlows"`
	Version         string  `json:"version"`
	Uptime          string  `json:"uptime"`
	DiskFreeGB      float64 `json:"diskFreeGB,omitempty"`
}

func StatusRoutes(r chi.Router, deps StatusDeps) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": deps.Version,
		})
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, Snapshot(deps))
	})
}

// Snapshot gathers the counters shown by /status and the status command.
func Snapshot(deps StatusDeps) StatusResponse {
	st := deps.Sessions.Stats()
	resp := StatusResponse{
		Cookies:         deps.Cookies.Available(),
		ActiveDownloads: st.ActiveDownloads,
		Sessions:        st.Sessions,
		AdminFlows:      st.AdminFlows,
		Version:         deps.Version,
	}
	if !deps.StartedAt.IsZero() {
		resp.Uptime = time.Since(deps.StartedAt).Round(time.Second).String()
	}
	if deps.TempDir != "" {
		if ds, err := util.GetDiskSpace(deps.TempDir); err == nil {
			resp.DiskFreeGB = ds.AvailGB
		}
	}
	return resp
}
