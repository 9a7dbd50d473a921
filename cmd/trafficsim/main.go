package main

import (
	"context"
	"flag"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trafficsim/internal/cache"
	"trafficsim/internal/config"
	"trafficsim/internal/domain"
	"trafficsim/internal/handler"
	"trafficsim/internal/history"
	"trafficsim/internal/hub"
	"trafficsim/internal/influx"
	"trafficsim/internal/logging"
	"trafficsim/internal/middleware"
	"trafficsim/internal/runner"
	"trafficsim/internal/scenario"
	"trafficsim/internal/sim"
	"trafficsim/internal/store"
	"trafficsim/internal/telemetry"
)

func main() {
	configFile := flag.String("config", os.Getenv("CONFIG_FILE"), "optional config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logOpts := logging.Options{Level: cfg.LogLevel, Output: os.Stdout}
	if cfg.GraylogEnabled {
		logOpts.GraylogAddr = cfg.GraylogAddr
	}
	logger, err := logging.New(logOpts)
	if err != nil {
		logger.Warn("graylog disabled", "error", err)
	}
	slog.SetDefault(logger)

	logger.Info("starting trafficsim server",
		"log_level", cfg.LogLevel.String(),
		"http_addr", cfg.HTTPAddr,
		"tick_interval", cfg.TickInterval,
		"metrics_interval", cfg.MetricsInterval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	params := sim.DefaultParams()
	params.MetricsInterval = cfg.MetricsInterval
	params.SpawnProbability = cfg.SpawnProbability
	params.MaxVehicles = cfg.MaxVehicles

	var simOpts []sim.Option
	if cfg.Seed != 0 {
		simOpts = append(simOpts, sim.WithRand(rand.New(rand.NewPCG(cfg.Seed, cfg.Seed>>1|1))))
	}
	simulation := sim.New(params, domain.Bounds{MinGreen: cfg.MinGreen, MaxGreen: cfg.MaxGreen}, simOpts...)

	snapshotStore := store.New()
	wsHub := hub.NewHub(logger)
	scenarios := scenario.NewService(cfg.TileZoomLevel, logger)

	metrics, err := telemetry.New()
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
		metrics = nil
	}

	run := runner.New(simulation, snapshotStore, wsHub, metrics, runner.Options{
		TickInterval: cfg.TickInterval,
		QueueSize:    cfg.CommandQueueSize,
	}, logger)
	if metrics != nil {
		run.AddSink(metrics)
	}

	var recorder *history.Recorder
	var historyReader *history.Reader
	if cfg.HistoryEnabled {
		db, err := history.Open(cfg.HistoryDriver, cfg.HistoryDSN, logger)
		if err != nil {
			logger.Warn("history disabled", "error", err)
		} else {
			recorder = history.NewRecorder(db, cfg.HistoryBuffer, logger)
			historyReader = history.NewReader(db)
			run.AddSink(recorder)
		}
	}

	var influxSink *influx.Sink
	if cfg.InfluxEnabled {
		influxSink, err = influx.Connect(ctx, influx.Options{
			URL:        cfg.InfluxURL,
			Token:      cfg.InfluxToken,
			Org:        cfg.InfluxOrg,
			Bucket:     cfg.InfluxBucket,
			BackupPath: cfg.InfluxBackup,
		}, logger)
		if err != nil {
			logger.Warn("influx disabled", "error", err)
			influxSink = nil
		} else {
			run.AddSink(influxSink)
		}
	}

	var redisCache *cache.RedisCache
	var mirror *cache.Mirror
	if cfg.RedisEnabled {
		redisCache, err = cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			logger.Warn("redis disabled", "error", err)
			redisCache = nil
		} else {
			mirror = cache.NewMirror(redisCache, snapshotStore, scenarios, cache.MirrorOptions{
				Interval:       cfg.MirrorInterval,
				TTL:            cfg.CacheTTL,
				MaxTransitions: cfg.MirrorTransitions,
			}, logger)
			run.AddSink(mirror)
		}
	}

	bootstrap(ctx, cfg, run, scenarios, redisCache, logger)

	stats := handler.NewStats()
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerWindow, cfg.RateLimitWindow, cfg.RateLimitWhitelist, logger)
	limiter.OnBlocked(stats.IncRateLimitBlocked)

	httpHandler := handler.NewHTTPHandler(snapshotStore)
	controlHandler := handler.NewControlHandler(run, logger)
	scenarioHandler := handler.NewScenarioHandler(scenarios, controlHandler, logger)
	historyHandler := handler.NewHistoryHandler(historyReader)
	healthHandler := handler.NewHealthHandler(run, snapshotStore)
	statsHandler := handler.NewStatsHandler(stats, snapshotStore, wsHub, run, limiter)
	wsHandler := handler.NewWSHandler(wsHub, snapshotStore, stats, logger)

	limited := func(h http.HandlerFunc) http.Handler {
		return limiter.Middleware(h)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/state", httpHandler.GetState)
	mux.HandleFunc("GET /v1/vehicles", httpHandler.ListVehicles)
	mux.HandleFunc("GET /v1/vehicles/{id}", httpHandler.GetVehicle)
	mux.HandleFunc("GET /v1/signal", httpHandler.GetSignal)
	mux.HandleFunc("GET /v1/events", httpHandler.ListEvents)

	mux.Handle("POST /v1/sim/start", limited(controlHandler.Start))
	mux.Handle("POST /v1/sim/pause", limited(controlHandler.Pause))
	mux.Handle("POST /v1/sim/reset", limited(controlHandler.Reset))
	mux.Handle("POST /v1/sim/collision", limited(controlHandler.Collision))
	mux.Handle("PUT /v1/signal/bounds", limited(controlHandler.SetBounds))
	mux.Handle("POST /v1/signal/phase", limited(controlHandler.ForcePhase))
	mux.Handle("PUT /v1/signal/mode", limited(controlHandler.SetMode))
	mux.Handle("POST /v1/bridge/connect", limited(controlHandler.Connect))
	mux.Handle("PUT /v1/view", limited(controlHandler.SetView))

	mux.HandleFunc("GET /v1/scenario", scenarioHandler.GetScenario)
	mux.Handle("POST /v1/scenario", limited(scenarioHandler.ImportScenario))
	mux.HandleFunc("GET /v1/scenario/cities", scenarioHandler.ListCities)

	mux.HandleFunc("GET /v1/history/transitions", historyHandler.ListTransitions)
	mux.HandleFunc("GET /v1/history/samples", historyHandler.ListSamples)

	mux.HandleFunc("GET /v1/stats", statsHandler.GetStats)
	mux.HandleFunc("GET /healthz", healthHandler.Healthz)
	mux.HandleFunc("GET /readyz", healthHandler.Readyz)

	// the websocket upgrade bypasses the gzip writer
	root := http.NewServeMux()
	root.HandleFunc("/v1/ws", wsHandler.ServeWS)
	root.Handle("/", handler.CountRequests(stats)(handler.CORSMiddleware(cfg.CORSOrigin)(handler.GzipMiddleware(mux))))

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      root,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go wsHub.Run(ctx)
	go limiter.Run(ctx)
	go run.Run(ctx)

	if recorder != nil {
		go recorder.Run(ctx)
	}
	if mirror != nil {
		go mirror.Run(ctx)
	}

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if recorder != nil {
		select {
		case <-recorder.Done():
		case <-shutdownCtx.Done():
			logger.Warn("history flush timed out")
		}
	}
	if influxSink != nil {
		if err := influxSink.Close(); err != nil {
			logger.Error("influx close error", "error", err)
		}
	}
	if redisCache != nil {
		redisCache.Close()
	}

	logger.Info("shutdown complete")
}

// bootstrap queues the host preconditions requested by configuration. A
// scenario mirrored by a previous process is restored when no city is set.
func bootstrap(ctx context.Context, cfg *config.Config, run *runner.Runner, scenarios *scenario.Service, redisCache *cache.RedisCache, logger *slog.Logger) {
	var (
		sc     domain.Scenario
		haveSc bool
	)

	switch {
	case cfg.AutoConfigureCity != "":
		built, err := scenarios.Build(cfg.AutoConfigureCity)
		if err != nil {
			logger.Warn("auto configure failed", "city", cfg.AutoConfigureCity, "error", err)
			break
		}
		sc, haveSc = built, true
	case redisCache != nil:
		loadCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		mirrored, ok, err := cache.LoadScenario(loadCtx, redisCache)
		cancel()
		if err != nil {
			logger.Warn("failed to load mirrored scenario", "error", err)
		}
		sc, haveSc = mirrored, ok && mirrored.Configured
	}

	if haveSc {
		if err := run.Submit(runner.Configure(sc)); err != nil {
			logger.Warn("bootstrap command dropped", "command", runner.KindConfigure, "error", err)
		} else {
			scenarios.Commit(sc)
		}
	}

	var cmds []runner.Command
	if cfg.AutoConnect {
		cmds = append(cmds, runner.Connect())
	}
	if cfg.AutoStart {
		cmds = append(cmds, runner.Start())
	}

	for _, cmd := range cmds {
		if err := run.Submit(cmd); err != nil {
			logger.Warn("bootstrap command dropped", "command", cmd.String(), "error", err)
		}
	}
}
