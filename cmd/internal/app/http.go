package app

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirushik/aguardia-server/cmd/security/envelope"
)

// statusDoc is the /status diagnostic document.
type statusDoc struct {
	StartedAt     int64  `json:"started_at"`
	UptimeMinutes int64  `json:"uptime_minutes"`
	UptimeDays    int64  `json:"uptime_days"`
	PublicX       string `json:"public_x"`
	PublicEd      string `json:"public_ed"`
	LogLevel      string `json:"loglevel"`
	Version       string `json:"version"`
	Websockets    int    `json:"websockets"`
	Heartbeats    int    `json:"heartbeats"`
	ServerPing    int    `json:"serverping"`
	Loops         int    `json:"loops"`
	Status        string `json:"status"`
}

func (a *App) registerHTTP(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.ReadinessRequireDB && a.dbPool == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if a.dbPool != nil {
			if err := PingDB(r.Context(), a.dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				a.log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.HandleFunc("GET /status", a.handleStatus)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))

	mux.HandleFunc("GET /ws/user/v1/{public_ed}", a.gateway.HandleUser)
	mux.HandleFunc("GET /ws/device/v1/{public_ed}", a.gateway.HandleDevice)

	if a.cfg.SiteDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(a.cfg.SiteDir)))
	}
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	uptime := time.Since(a.started)
	hs := a.hub.Status()

	doc := statusDoc{
		StartedAt:     a.started.Unix(),
		UptimeMinutes: int64(uptime / time.Minute),
		UptimeDays:    int64(uptime / (24 * time.Hour)),
		PublicX:       envelope.FormatKey(a.keys.XPublic[:]),
		PublicEd:      envelope.FormatKey(a.keys.EdPublic),
		LogLevel:      a.cfg.LogLevel,
		Version:       Version,
		Websockets:    hs.Websockets,
		Heartbeats:    hs.Heartbeats,
		ServerPing:    hs.ServerPing,
		Loops:         hs.Loops,
		Status:        "OK",
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		a.log.Warn("status.encode.fail", "err", err)
	}
}
