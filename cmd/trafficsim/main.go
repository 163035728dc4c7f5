// Command trafficsim runs the urban traffic agent simulation and its HTTP
// control surface.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/citytraffic/internal/agents"
	"github.com/talgya/citytraffic/internal/api"
	"github.com/talgya/citytraffic/internal/broadcast"
	"github.com/talgya/citytraffic/internal/config"
	"github.com/talgya/citytraffic/internal/engine"
	"github.com/talgya/citytraffic/internal/entropy"
	"github.com/talgya/citytraffic/internal/maps"
	"github.com/talgya/citytraffic/internal/persistence"
	"github.com/talgya/citytraffic/internal/routing"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("trafficsim starting",
		"tick", cfg.Tick,
		"perception", cfg.PerceptionEvery,
		"nearby_km", cfg.NearbyRadiusKm,
		"workers", cfg.Workers,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ──────────────────────────────────────────────────────
	var db *persistence.DB
	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			slog.Error("failed to create data directory", "error", err)
			os.Exit(1)
		}
		var err error
		db, err = persistence.Open(cfg.DBPath)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("database opened", "path", cfg.DBPath, "previous_run_ticks", humanize.Comma(int64(db.LastTick())))
	} else {
		slog.Warn("TRAFFICSIM_DB empty, road blockages will not persist")
	}

	// ── Route provider ────────────────────────────────────────────────
	var base routing.Provider
	if client := maps.NewClient(cfg.MapsAPIKey); client != nil {
		base = client
		slog.Info("route provider: directions API")
	} else {
		synthCfg := routing.DefaultSyntheticConfig()
		if cfg.Seed != 0 {
			synthCfg.Seed = cfg.Seed
		}
		base = routing.NewSyntheticProvider(synthCfg)
		slog.Warn("GOOGLE_MAPS_API_KEY not set, using synthetic routes")
	}
	cached, err := routing.NewCachedProvider(
		routing.NewTimeoutProvider(base, cfg.RouteTimeout),
		cfg.RouteCacheSize,
		cfg.RouteBucket,
	)
	if err != nil {
		slog.Error("failed to build route cache", "error", err)
		os.Exit(1)
	}

	// ── Broadcast ─────────────────────────────────────────────────────
	hub := broadcast.NewHub(api.OriginChecker(cfg.CORSOrigins))
	go hub.Run(ctx)

	sinks := broadcast.Multi{hub}
	if cfg.NATSURL != "" {
		nc, err := broadcast.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			slog.Error("NATS unavailable, continuing without it", "url", cfg.NATSURL, "error", err)
		} else {
			defer nc.Close()
			sinks = append(sinks, nc)
		}
	}
	queue := broadcast.NewQueue(cfg.BroadcastSize, sinks)
	go queue.Run(ctx)

	// ── Simulation ────────────────────────────────────────────────────
	rng := entropy.NewSeeded(cfg.Seed)
	simCfg := engine.DefaultConfig()
	simCfg.Tick = cfg.Tick
	simCfg.PerceptionEvery = cfg.PerceptionEvery
	simCfg.NearbyRadiusKm = cfg.NearbyRadiusKm
	simCfg.Workers = cfg.Workers
	simCfg.SummaryEvery = cfg.SummaryEvery

	sim := engine.NewSimulation(simCfg, agents.NewSpawner(cached, rng), rng)
	sim.Publisher = queue
	if db != nil {
		sim.Store = db
		restored, err := db.LoadConditions()
		if err != nil {
			slog.Error("failed to load road conditions", "error", err)
		} else {
			sim.RestoreConditions(restored)
		}
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.AdminKey == "" {
		slog.Warn("TRAFFICSIM_ADMIN_KEY not set, mutating endpoints are open")
	}
	apiServer := &api.Server{
		Sim:          sim,
		Hub:          hub,
		Provider:     cached,
		Port:         cfg.Port,
		AdminKey:     cfg.AdminKey,
		CORSOrigins:  cfg.CORSOrigins,
		Context:      ctx,
		SpawnLimiter: api.NewRateLimiter(60, time.Minute),
	}
	srv := apiServer.Start()

	fmt.Printf("\ntrafficsim is listening: http://localhost:%d/api/v1/simulation/status\n", cfg.Port)
	fmt.Println("POST /api/v1/simulation/start to begin. (Ctrl+C to stop)")

	<-ctx.Done()
	slog.Info("received signal, shutting down")

	sim.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}

	hits, misses := cached.Stats()
	slog.Info("shutdown stats",
		"hits", humanize.Comma(hits),
		"misses", humanize.Comma(misses),
		"published", humanize.Comma(int64(queue.Delivered())),
		"dropped", humanize.Comma(int64(queue.Dropped())),
	)

	// Final save on shutdown.
	if db != nil {
		if err := db.SaveRunState(sim.Status().Tick, time.Now()); err != nil {
			slog.Error("final save failed", "error", err)
		}
	}

	fmt.Println("Simulation stopped.")
}
