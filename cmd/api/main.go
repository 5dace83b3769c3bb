package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/whereissam/walcache/admission"
	"github.com/whereissam/walcache/blob"
	"github.com/whereissam/walcache/config"
	gatewaychi "github.com/whereissam/walcache/internal/http/chi"
	"github.com/whereissam/walcache/metrics"
	"github.com/whereissam/walcache/upstream"
	"github.com/whereissam/walcache/webhook"
	"github.com/whereissam/walcache/webhook/memory"
	webhookredis "github.com/whereissam/walcache/webhook/redis"
)

const TIMEOUT = 30 * time.Second

/* Composition root: loads configuration, wires the upstream monitor, the
 * blob coordinator, the admission controller, and the webhook engine,
 * then runs the HTTP server until a shutdown signal arrives.
 */

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		return
	}
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	loader := upstream.NewLoader()
	if err := loader.Load(cfg.EndpointsFile); err != nil {
		fmt.Println(err)
		return
	}

	monitor := upstream.NewMonitor(loader, upstream.MonitorConfig{
		Interval:     cfg.ProbeInterval(),
		ProbeTimeout: cfg.ProbeTimeout(),
	}, logger)
	monitor.Start(ctx)
	defer monitor.Stop()

	coordinator := blob.NewCoordinator(monitor, blob.Config{
		FallbackEnabled: cfg.FallbackEnabled,
		FallbackGateway: cfg.FallbackGateway,
	}, logger)

	controller := admission.NewController(admission.Config{
		MaxConcurrent:         cfg.MaxConcurrent,
		MaxPerSource:          cfg.MaxPerSource,
		QueueTimeout:          cfg.QueueTimeout(),
		MaxConnectionDuration: cfg.MaxConnectionDuration(),
		SlowThreshold:         cfg.SlowThreshold(),
	}, logger)

	repo, err := newRepository(cfg)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer repo.Close(ctx)

	engine := webhook.NewEngine(repo, webhook.DefaultEngineConfig(), logger)
	engine.Start(ctx)
	defer engine.Shutdown()

	collector := metrics.NewGatewayCollector(controller, monitor, repo)
	exporter, err := metrics.NewOTelExporter(collector)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer exporter.Shutdown(context.Background())

	r := gatewaychi.Handlers(controller, monitor, coordinator, engine, exporter.ServeHTTP())
	http.Handle("/", r)
	srv := &http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Addr:         ":" + cfg.Port,
		Handler:      http.DefaultServeMux,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, errShutdown)
	fmt.Printf("Listening on port %s\n", cfg.Port)
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		fmt.Println(err)
		return
	}

	// Drain admitted connections before the background loops stop
	drainCtx, cancel := context.WithTimeout(context.Background(), TIMEOUT)
	defer cancel()
	controller.Shutdown(drainCtx)

	err = <-errShutdown
	if err != nil {
		fmt.Println(err)
		return
	}
}

func newRepository(cfg *config.Config) (webhook.Repository, error) {
	switch cfg.WebhookStore {
	case "redis":
		return webhookredis.NewRepository(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "memory", "":
		return memory.NewRepository(), nil
	default:
		return nil, fmt.Errorf("unknown webhook store: %s", cfg.WebhookStore)
	}
}

func shutdown(server *http.Server, ctxShutdown context.Context, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), TIMEOUT)
	defer stop()

	err := server.Shutdown(ctxTimeout)
	switch err {
	case nil:
		fmt.Printf("\nShutting down server...\n")
		errShutdown <- nil
	case context.DeadlineExceeded:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	default:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	}
}
