package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
)

// statusResponse is the JSON body served at /status, grounded on
// admin.go-style status handlers: a small summary object, no HTML.
type statusResponse struct {
	Server        string  `json:"server"`
	SessionsOpen  int     `json:"sessions_open"`
	SessionsLimit int     `json:"sessions_limit"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent,omitempty"`
}

// cpuPercent samples overall CPU utilization the same way admin.go and
// load_history.go do: a short blocking gopsutil/v3/cpu.Percent call.
// Errors are swallowed; CPU load is informational and never blocks
// the status response.
func cpuPercent() float64 {
	pcts, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(pcts) == 0 {
		return 0
	}
	return pcts[0]
}

// StatusHandler returns HTTP handlers for /status and /metrics. The
// caller mounts them on whatever mux (and listener) component Q's
// configuration names; kept separate from Start/Stop so a deployment
// can share one HTTP server across several sdrcore subsystems.
func (srv *Server) StatusHandler() http.Handler {
	started := time.Now()
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Server:        srv.cfg.ServerName,
			SessionsOpen:  srv.sessionCount(),
			SessionsLimit: srv.cfg.MaxSessions,
			UptimeSeconds: int64(time.Since(started).Seconds()),
			CPUPercent:    cpuPercent(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(srv.metrics.Registry, promhttp.HandlerOpts{}))
	return mux
}
