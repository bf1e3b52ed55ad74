// Command bot runs a single meeting session end to end and exits. Exit
// code 0 means the session settled through a graceful path; anything that
// ends with reason error exits 1 so supervisors can tell the two apart.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/oklog/ulid/v2"

	"github.com/telemyapp/aegis-meeting-bot/internal/bot"
	"github.com/telemyapp/aegis-meeting-bot/internal/config"
	"github.com/telemyapp/aegis-meeting-bot/internal/model"
	"github.com/telemyapp/aegis-meeting-bot/internal/storage"
)

func main() {
	cfg, err := config.LoadWorkerFromEnv()
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

	sessionCfg := cfg.SessionConfig(ulid.Make().String())
	log.Printf("event=worker_start session_id=%s platform=%s target=%s",
		sessionCfg.SessionID, sessionCfg.Platform, sessionCfg.JoinLocator())

	res := engine.Run(ctx, sessionCfg, logEvent)

	log.Printf("event=worker_done session_id=%s reason=%s", res.SessionID, res.EndReason)
	if res.EndReason == model.EndError {
		os.Exit(1)
	}
}

func logEvent(ev model.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	log.Printf("event=session_event payload=%s", raw)
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
