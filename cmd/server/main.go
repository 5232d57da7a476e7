package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Meet/internal/adapters/http"
	signaling "github.com/dkeye/Meet/internal/adapters/signal"
	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/storage"
	"github.com/dkeye/Meet/internal/transcribe"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	var durable storage.Durable
	if cfg.Mongo.URI != "" {
		conn := storage.NewConnector(storage.MongoConfig{
			URI:            cfg.Mongo.URI,
			Database:       cfg.Mongo.Database,
			MaxPoolSize:    cfg.Mongo.MaxPoolSize,
			ConnectTimeout: cfg.Mongo.ConnectTimeout,
		})
		durable = storage.NewMongo(conn)
		conn.StartAsync(ctx)
	} else {
		log.Warn().Str("module", "main").Msg("mongo uri not set, rooms live in memory only")
	}
	store := storage.New(durable, storage.NewMemory())

	assembly := transcribe.NewAssemblyDialer(transcribe.AssemblyConfig{
		URL:        cfg.Transcription.AssemblyAI.URL,
		APIURL:     cfg.Transcription.AssemblyAI.APIURL,
		APIKey:     cfg.Transcription.AssemblyAI.APIKey,
		SampleRate: cfg.Transcription.AssemblyAI.SampleRate,
	})
	var hub *transcribe.Hub
	if assembly.Configured() {
		hub = transcribe.NewHub(assembly, transcribe.ParseScope(cfg.Transcription.Scope))
		defer hub.Close()
	}
	xfyun := transcribe.NewXfyunRelay(transcribe.XfyunConfig{
		URL:    cfg.Transcription.Xfyun.URL,
		AppID:  cfg.Transcription.Xfyun.AppID,
		APIKey: cfg.Transcription.Xfyun.APIKey,
	})

	o := &orch.Orchestrator{
		Registry:      app.NewRegistry(),
		Store:         store,
		Locks:         app.NewRoomLocks(),
		Policy:        app.PolicyByName(cfg.Backpressure),
		Transcription: hub,
		HistoryLimit:  cfg.HistoryLimit,
	}
	go o.RunSweeper(ctx, cfg.SweepInterval)

	limiter := signaling.NewRateLimiter(cfg.RateLimit.Points, cfg.RateLimit.Duration, cfg.RateLimit.Block)
	go limiter.Run(ctx, time.Minute, cfg.RateLimit.Duration)

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Orch:      o,
		Store:     store,
		Limiter:   limiter,
		Xfyun:     xfyun,
		Assembly:  assembly,
		Streaming: hub != nil,
		Started:   time.Now(),
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("storage", store.Backend()).Str("transcription_scope", cfg.Transcription.Scope).Msg("Meet server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
