// Command visitmapd serves the visits HTTP API over the storage backend chosen
// by VISITMAP_STORAGE_DRIVER.
package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"visitmap/internal/adapters/visits"
	"visitmap/internal/core"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultAddr     = ":8080"
	shutdownTimeout = 10 * time.Second
)

var (
	exitFunc  = os.Exit
	openStore = core.OpenVisitStore
	listen    = net.Listen
)

type config struct {
	Addr     string
	Metrics  string
	LogLevel string
	Trace    string
}

func loadConfig(getenv func(string) string) config {
	cfg := config{
		Addr:     getenv("VISITMAP_HTTP_ADDR"),
		Metrics:  strings.ToLower(strings.TrimSpace(getenv("VISITMAP_METRICS"))),
		LogLevel: getenv("VISITMAP_LOG_LEVEL"),
		Trace:    strings.ToLower(strings.TrimSpace(getenv("VISITMAP_TRACE"))),
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.Metrics == "" {
		cfg.Metrics = "prometheus"
	}
	return cfg
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, loadConfig(os.Getenv), os.Stderr, nil)
	stop()
	exitFunc(code)
}

// run serves until ctx is cancelled. ready, when non-nil, receives the bound
// address once the listener is up.
func run(ctx context.Context, cfg config, stderr io.Writer, ready chan<- string) int {
	logger := core.NewSlogLogger(stderr, cfg.LogLevel)

	recorder, metricsHandler, err := buildMetrics(cfg.Metrics)
	if err != nil {
		logger.Error("configure metrics", "error", err)
		return 2
	}

	store, err := openStore(ctx)
	if err != nil {
		logger.Error("open store", "error", err)
		return 1
	}
	defer func() {
		if err := core.CloseStore(store); err != nil {
			logger.Warn("close store", "error", err)
		}
	}()

	opts := []core.ServiceOption{
		core.WithLogger(logger),
		core.WithMetricsRecorder(recorder),
	}
	if cfg.Trace == "json" {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(stderr)))
	}
	svc := core.NewService(store, opts...)
	router := visits.NewRouter(svc, visits.Config{Logger: logger, Metrics: metricsHandler})

	ln, err := listen("tcp", cfg.Addr)
	if err != nil {
		logger.Error("listen", "addr", cfg.Addr, "error", err)
		return 1
	}
	logger.Info("visitmapd listening", "addr", ln.Addr().String(), "driver", store.Driver(), "metrics", cfg.Metrics)
	if ready != nil {
		ready <- ln.Addr().String()
	}

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := serve(ctx, srv, ln); err != nil {
		logger.Error("serve", "error", err)
		return 1
	}
	logger.Info("visitmapd stopped")
	return 0
}

// serve runs srv on ln and shuts it down gracefully when ctx is done.
func serve(ctx context.Context, srv *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// buildMetrics returns the recorder handed to the service and the handler
// mounted at /metrics (nil when metrics are off).
func buildMetrics(mode string) (core.MetricsRecorder, http.Handler, error) {
	switch mode {
	case "prometheus":
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rec, err := core.NewPrometheusMetricsRecorder(reg)
		if err != nil {
			return nil, nil, err
		}
		return rec, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), nil
	case "expvar":
		return core.NewExpvarMetricsRecorder(""), expvar.Handler(), nil
	case "none", "off":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown metrics mode %q", mode)
	}
}
