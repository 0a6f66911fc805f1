package main

import (
	"context"
	"crypto/subtle"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"ipguard/internal/api"
	"ipguard/internal/config"
	"ipguard/internal/counter"
	"ipguard/internal/detection"
	"ipguard/internal/logger"
	"ipguard/internal/models"
	"ipguard/internal/observability"
	"ipguard/internal/ratelimit"
	"ipguard/internal/schedule"
	"ipguard/internal/storage"
	"ipguard/internal/tracking"
	"ipguard/internal/version"
)

// jobTimeout bounds one run of any scheduled batch job.
const jobTimeout = 10 * time.Minute

var configFile = flag.String("config", "", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ver := version.GetInfo()

	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)
	slog.Info("Starting ipguard", "version", ver.Version, "commit", ver.GitCommit)

	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	storageInstance, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer storageInstance.Close()

	// Wrap storage with instrumentation if metrics are enabled.
	var activeStorage storage.Storage = storageInstance
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStorage(storageInstance)
		if err != nil {
			slog.Error("Failed to create instrumented storage", "error", err)
			os.Exit(1)
		}
		activeStorage = instrumented
	}

	detector, err := detection.NewDetector(activeStorage, activeStorage, activeStorage, cfg.Detection)
	if err != nil {
		slog.Error("Failed to initialize detector", "error", err)
		os.Exit(1)
	}
	escalator, err := detection.NewEscalator(activeStorage, activeStorage, cfg.Detection.EscalationThreshold)
	if err != nil {
		slog.Error("Failed to initialize escalator", "error", err)
		os.Exit(1)
	}
	reaper, err := detection.NewReaper(activeStorage, cfg.Detection.Retention())
	if err != nil {
		slog.Error("Failed to initialize reaper", "error", err)
		os.Exit(1)
	}

	runner, err := schedule.NewRunner([]schedule.Job{
		{
			Name:     "anomaly-scan",
			Interval: cfg.Detection.ScanInterval,
			Timeout:  jobTimeout,
			Run: func(ctx context.Context, now time.Time) error {
				_, err := detector.Scan(ctx, now)
				return err
			},
		},
		{
			Name:     "escalate",
			Interval: cfg.Detection.EscalateInterval,
			Timeout:  jobTimeout,
			Run: func(ctx context.Context, now time.Time) error {
				_, err := escalator.Escalate(ctx, now)
				return err
			},
		},
		{
			Name:     "reap-flags",
			Interval: cfg.Detection.ReapInterval,
			Timeout:  jobTimeout,
			Run: func(ctx context.Context, now time.Time) error {
				_, err := reaper.Reap(ctx, now)
				return err
			},
		},
	})
	if err != nil {
		slog.Error("Failed to initialize scheduler", "error", err)
		os.Exit(1)
	}

	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	defer cancelScheduler()
	if err := runner.Start(schedulerCtx); err != nil {
		slog.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer runner.Stop()

	handlers := api.NewHandlers(activeStorage, detector, cfg.Security, ver)

	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	// Admission order: blocklist first, then request capture, then rate
	// limiting. The recorder sits outside the limiter so throttled
	// requests still land in the activity log the detector scans.
	chain := []mux.MiddlewareFunc{
		tracking.Blocklist(activeStorage),
		tracking.Recorder(activeStorage, cfg.Detection.LoginPath),
	}

	var counterStore counter.Store
	if cfg.RateLimit.Enabled {
		counterStore, err = initializeCounter(cfg.RateLimit.Counter)
		if err != nil {
			slog.Error("Failed to initialize rate limit counter", "error", err)
			os.Exit(1)
		}
		defer counterStore.Close()

		limiter, err := ratelimit.NewLimiter(counterStore, cfg.RateLimit)
		if err != nil {
			slog.Error("Failed to initialize rate limiter", "error", err)
			os.Exit(1)
		}
		chain = append(chain, ratelimit.Middleware(limiter, authenticatedCheck(cfg.Security)))
	}

	handler := api.WrapAdmission(router, chain...)

	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Starting server", "addr", server.Addr)

		var err error
		if cfg.Server.TLSEnabled {
			if cfg.Server.TLSCertFile == "" || cfg.Server.TLSKeyFile == "" {
				slog.Error("TLS is enabled but cert file or key file is not specified")
				os.Exit(1)
			}
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// initializeCounter creates the rate-limit counter store based on
// configuration.
func initializeCounter(cfg models.CounterConfig) (counter.Store, error) {
	switch cfg.Type {
	case models.CounterTypeMemory:
		return counter.NewMemoryStore(time.Minute), nil
	case models.CounterTypeRedis:
		return counter.NewRedisStore(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported counter type: %s", cfg.Type)
	}
}

// authenticatedCheck returns the AuthFunc selecting the authenticated rate
// tier. A request is authenticated when it carries the admin bearer token;
// with auth disabled, any bearer credential selects the higher tier.
func authenticatedCheck(cfg models.SecurityConfig) ratelimit.AuthFunc {
	return func(r *http.Request) bool {
		authHeader := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			return false
		}
		if !cfg.EnableAuth {
			return authHeader != prefix
		}
		token := authHeader[len(prefix):]
		return subtle.ConstantTimeCompare([]byte(token), []byte(cfg.AdminToken)) == 1
	}
}
