// Package app wires the roomgate server: config, logging, code storage, admission,
// the reaper, credentials and HTTP routes.
package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"roomgate/cmd/internal/admission"
	"roomgate/cmd/internal/credential"
	"roomgate/cmd/internal/gateway"
)

// App is the server runtime.
type App struct {
	cfg Config
	log Logger

	db       *backend
	registry *prometheus.Registry
	ctrl     *admission.Controller
	reaper   *admission.Reaper
	gw       *gateway.Handler
}

// New constructs a fully wired App from cfg. The caller owns Close on the returned App.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg, log); err != nil {
		return nil, err
	}

	iss, err := credential.NewIssuer(cfg.LiveKit, cfg.IssuerOptions()...)
	if err != nil {
		return nil, err
	}
	if !iss.HasFallback() {
		log.Warn("credential.fallback.disabled")
	}

	db, err := openBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctrl, err := admission.NewController(db.store, cfg.Admission(),
		admission.WithLogger(log),
		admission.WithMetrics(admission.NewMetrics(reg)),
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	reaper := admission.NewReaper(ctrl)

	gw, err := gateway.NewHandler(log, cfg.Gateway(), ctrl, reaper, iss)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &App{
		cfg:      cfg,
		log:      log,
		db:       db,
		registry: reg,
		ctrl:     ctrl,
		reaper:   reaper,
		gw:       gw,
	}, nil
}

// Handler returns the full HTTP handler with middleware applied.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.db, a.registry, a.gw)
	return WithRequestLogging(WithSecurityHeaders(mux), a.log)
}

// Run starts the reaper and the HTTP server and blocks until ctx is done or the server fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	reaperCtx, stopReaper := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.reaper.Run(reaperCtx)
	}()
	defer func() {
		stopReaper()
		wg.Wait()
	}()

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "store", a.db.kind,
		"lease_timeout", a.cfg.LeaseTimeout.String(), "sweep_interval", a.cfg.SweepInterval.String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

// Close releases the store and its connections.
func (a *App) Close() error {
	if err := a.db.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
		return err
	}
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
