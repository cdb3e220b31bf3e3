package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appconfig "github.com/dkoval/showtracks/internal/config"
	"github.com/dkoval/showtracks/internal/database"
	"github.com/dkoval/showtracks/internal/events"
	"github.com/dkoval/showtracks/internal/pipeline"
	"github.com/dkoval/showtracks/internal/playlist"
	"github.com/dkoval/showtracks/internal/redis"
	"github.com/dkoval/showtracks/internal/repository"
	"github.com/dkoval/showtracks/internal/server"
	"github.com/dkoval/showtracks/internal/spotify"
	"github.com/dkoval/showtracks/internal/storage"
	httpapi "github.com/dkoval/showtracks/internal/transport/http"
	"github.com/dkoval/showtracks/internal/worker"
)

func main() {
	cfg := appconfig.Load()
	slog.Info("starting showtracks", "addr", cfg.HTTPAddr, "workers", cfg.WorkerPoolSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("failed to apply migrations", "err", err)
		os.Exit(1)
	}

	repo := repository.New(db)

	// Rows left in building by a previous crash can never finish.
	if failed, err := repo.FailAllBuilding(ctx); err != nil {
		slog.Error("failed to reset interrupted jobs", "err", err)
		os.Exit(1)
	} else if failed > 0 {
		slog.Warn("reset interrupted jobs from previous run", "count", failed)
	}

	// The artist cache is optional; jobs run without it.
	var cache pipeline.ArtistCache
	redisService, err := redis.New(cfg.RedisURL, cfg.ArtistCacheTTL)
	if err != nil {
		slog.Warn("redis unavailable, artist cache disabled", "err", err)
	} else {
		defer redisService.Close()
		cache = redisService
	}

	archive, err := storage.NewArchive(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize snapshot archive", "err", err)
		os.Exit(1)
	}

	catalog := spotify.NewClient(spotify.Config{
		ClientID:     cfg.SpotifyClientID,
		ClientSecret: cfg.SpotifyClientSecret,
		RefreshToken: cfg.SpotifyRefreshToken,
		UserID:       cfg.SpotifyUserID,
	})

	renderer := events.NewChromeRenderer(2 * time.Minute)
	eventSource := events.NewAdapter(cfg.EventsBaseURL, cfg.EventsPageDelay, renderer, archive)

	describer := playlist.NewDescriber(cfg.OpenAIAPIKey)
	assembler := playlist.NewAssembler(catalog, describer)

	runner := pipeline.NewRunner(eventSource, catalog, cache, assembler, repo)
	pool := worker.NewPool(repo, runner, cfg.WorkerPoolSize, cfg.WorkerInterval, cfg.BuildTimeout)
	pool.Start(ctx)

	handlers := &httpapi.Handlers{
		Store:    repo,
		Config:   cfg,
		DBPinger: db.Pool(),
	}
	if redisService != nil {
		handlers.RedisPinger = redisService
	}
	r := server.NewRouter(handlers)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	slog.Info("shutting down")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)

	cancel()
	pool.Wait()
}
