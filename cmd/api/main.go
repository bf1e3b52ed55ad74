package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/telemyapp/aegis-meeting-bot/internal/api"
	"github.com/telemyapp/aegis-meeting-bot/internal/bot"
	"github.com/telemyapp/aegis-meeting-bot/internal/config"
	"github.com/telemyapp/aegis-meeting-bot/internal/storage"
)

func main() {
	cfg, err := config.LoadServerFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	overrides, err := bot.LoadSelectorOverrides(cfg.SelectorsFile)
	if err != nil {
		log.Fatalf("load selector overrides: %v", err)
	}

	uploader, err := buildUploader(cfg)
	if err != nil {
		log.Fatalf("init uploader: %v", err)
	}

	engine := bot.NewEngine(bot.EngineOptions{
		Overrides:    overrides,
		Headless:     cfg.Headless,
		Display:      cfg.Display,
		AudioSource:  cfg.AudioSource,
		PollInterval: cfg.PollInterval,
		CallbackKey:  cfg.CallbackKey,
		Uploader:     uploader,
	})
	manager := api.NewManager(engine, cfg.MaxSessions)
	handler := api.NewRouter(cfg, manager)

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("aegis-meeting-bot api listening on %s", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server: %v", err)
	}
}

func buildUploader(cfg config.Config) (storage.Uploader, error) {
	switch cfg.StorageProvider {
	case "s3":
		return storage.NewS3Uploader(storage.S3UploaderOptions{
			Bucket: cfg.S3Bucket,
			Region: cfg.S3Region,
			Prefix: cfg.S3Prefix,
		})
	default:
		return storage.NewFakeUploader(), nil
	}
}
