// Command roomgate-join joins a room through a roomgate server and holds the session
// until interrupted, failing over to the fallback media endpoint once if the primary drops.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"roomgate/cmd/internal/app"
	"roomgate/cmd/internal/orchestrator"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		server      = flag.String("server", app.EnvString("ROOMGATE_SERVER_URL", "http://127.0.0.1:8080"), "roomgate base URL")
		room        = flag.String("room", "", "room to join")
		name        = flag.String("name", "", "participant name")
		code        = flag.String("code", app.EnvString("ROOMGATE_AUTH_CODE", ""), "auth code")
		heartbeat   = flag.Duration("heartbeat", 60*time.Second, "lease renewal interval")
		leaseTTL    = flag.Duration("lease-timeout", 300*time.Second, "server lease timeout; -heartbeat must be shorter")
		metricsAddr = flag.String("metrics-addr", "", "serve client metrics on this address (disabled when empty)")
		logLevel    = flag.String("log-level", "info", "debug|info|warn|error")
		logFormat   = flag.String("log-format", "text", "json|text")
	)
	flag.Parse()

	log := app.NewLogger(*logLevel, *logFormat)

	cfg := orchestrator.DefaultConfig()
	cfg.HeartbeatInterval = *heartbeat
	cfg.LeaseTimeout = *leaseTTL
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	adm, err := orchestrator.NewHTTPAdmission(*server, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	beacon, err := orchestrator.NewHTTPBeacon(*server, nil, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	opts := []orchestrator.SessionOption{orchestrator.WithBeacon(beacon), orchestrator.WithLogger(log)}
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, orchestrator.WithMetrics(orchestrator.NewMetrics(reg)))
		srv := &http.Server{Addr: *metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics.serve.fail", "err", err)
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	sess, err := orchestrator.NewSession(orchestrator.Request{Room: *room, Identity: *name, Code: *code},
		adm, orchestrator.NewWSTransport(log), cfg, opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "usage: roomgate-join -room R -name N -code C:", err)
		return 2
	}
	sess.OnStateChange(func(from, to orchestrator.State) {
		log.Info("join.state", "from", from.String(), "to", to.String())
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		sess.Leave()
	}()

	res := sess.Run(context.Background())
	if !beacon.Flush(5 * time.Second) {
		log.Warn("join.release.pending")
	}

	var rej *orchestrator.RejectedError
	switch {
	case errors.Is(res.Reason, orchestrator.ErrLeft):
		log.Info("join.done", "used_fallback", res.UsedFallback)
		return 0
	case errors.As(res.Reason, &rej):
		fmt.Fprintln(os.Stderr, "rejected:", rej.Reason)
		return 1
	default:
		fmt.Fprintln(os.Stderr, "session ended:", res.Reason)
		return 1
	}
}
