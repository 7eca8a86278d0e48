package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"roomgate/cmd/internal/gateway"
)

func registerHTTP(mux *http.ServeMux, log Logger, cfg Config, db *backend, reg *prometheus.Registry, gw *gateway.Handler) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && !db.durable() {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}
		if db.ping != nil {
			if err := db.ping(r.Context()); err != nil {
				log.Info("readyz.db.not_ready", "backend", db.kind, "err", err)
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	gw.Register(mux)
}
