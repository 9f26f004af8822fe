package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/okian/bluffmeter/internal/adapters/http/api"
	"github.com/okian/bluffmeter/internal/adapters/http/swagger"
	"github.com/okian/bluffmeter/internal/adapters/http/ws"
	"github.com/okian/bluffmeter/internal/adapters/judge"
	"github.com/okian/bluffmeter/internal/adapters/repository"
	app "github.com/okian/bluffmeter/internal/app"
	"github.com/okian/bluffmeter/internal/config"
	"github.com/okian/bluffmeter/internal/domain/scoring"
	"github.com/okian/bluffmeter/pkg/logger"
	"github.com/okian/bluffmeter/pkg/metrics"
)

// HTTP server timeout constants. WriteTimeout stays zero: the live socket
// holds its response open for the whole interview.
const (
	readTimeout       = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	// A missing .env is fine; real deployments use the environment.
	_ = godotenv.Load()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load()
	if err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	if err := logger.Init(logger.WithFormat(logger.Format(cfg.LogFormat))); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() { _ = logger.Sync() }()
	loggerInstance := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, loggerInstance); err != nil {
		loggerInstance.Error(ctx, "server exited with error", logger.Error(err))
	}
}

// run wires the process and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error(ctx, "store close failed", logger.Error(err))
		}
	}()

	j, err := newJudge(ctx, cfg)
	if err != nil {
		return err
	}

	svc := newService(store, j, cfg, log)
	live := ws.NewHandler(svc, ws.WithAllowedOrigin(cfg.AllowedOrigin))

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(ctx, svc, live, cfg),
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("judge", j.Name()),
			logger.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			_ = svc.Stop(context.WithoutCancel(ctx))
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	// Stop accepting requests first, then end live sessions and drain the
	// write queue; the deferred store close runs last.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error(ctx, "service stop failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// newHandler builds the routed mux behind the chi middleware stack.
func newHandler(ctx context.Context, svc *app.Service, live *ws.Handler, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, cfg.MaxLeaderboardLimit).Register(ctx, mux)
	live.Register(ctx, mux)

	var h http.Handler = mux
	h = middleware.Recoverer(h)
	h = middleware.RealIP(h)
	h = middleware.RequestID(h)
	return h
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch strings.ToLower(cfg.StoreDriver) {
	case config.DriverMemory:
		return repository.NewMemoryStore(), nil
	default:
		store, err := repository.NewSQLite(ctx, cfg.SQLitePath,
			repository.WithLogger(logger.Named("store")))
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	}
}

func newJudge(ctx context.Context, cfg *config.Config) (judge.Judge, error) {
	var (
		base judge.Judge
		err  error
	)
	switch strings.ToLower(cfg.JudgeProvider) {
	case config.ProviderScripted:
		base = judge.NewScripted()
	case config.ProviderOpenRouter:
		base, err = judge.NewOpenRouter(cfg.OpenRouterAPIKey,
			judge.WithOpenRouterBaseURL(cfg.OpenRouterBaseURL),
			judge.WithOpenRouterModel(cfg.JudgeModel),
			judge.WithOpenRouterTimeout(time.Duration(cfg.JudgeTimeoutMS)*time.Millisecond))
	default:
		base, err = judge.NewGemini(ctx, cfg.GeminiAPIKey, judge.WithGeminiModel(cfg.JudgeModel))
	}
	if err != nil {
		return nil, fmt.Errorf("create %s judge: %w", cfg.JudgeProvider, err)
	}
	return judge.NewRetrying(base, judge.WithMaxRetries(cfg.JudgeMaxRetries)), nil
}

func newService(store repository.Store, j judge.Judge, cfg *config.Config, log logger.Logger) *app.Service {
	return app.New(store, j,
		app.WithLogger(log.Named("session")),
		app.WithWorkerCount(cfg.WriterCount),
		app.WithQueueSize(cfg.WriteQueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithQuietPeriod(time.Duration(cfg.DebounceMS)*time.Millisecond),
		app.WithAdversarialThreshold(cfg.AdversarialThreshold),
		app.WithJudgeTimeout(time.Duration(cfg.JudgeTimeoutMS)*time.Millisecond),
		app.WithCalculator(scoring.NewCalculator(scoring.WithDifficultyWeights(cfg.DifficultyWeightedScoring))),
	)
}

// startSystemMetricsUpdater refreshes process gauges until ctx is done.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes service gauges until ctx is done.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(ctx, svc)
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}

func updateServiceMetrics(ctx context.Context, svc *app.Service) {
	stats := svc.GetStats(ctx)

	if queueLen, ok := stats["queue_length"].(int); ok {
		metrics.UpdateQueueSize(queueLen)
	}
	if ranked, ok := stats["ranked_candidates"].(int); ok {
		metrics.UpdateLeaderboardEntries(ranked)
	}
	if live, ok := stats["live_sessions"].(int); ok {
		metrics.UpdateActiveSessions(live)
	}
}
