package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/telemyapp/aegis-meeting-bot/internal/model"
)

// Config covers both binaries: the coordinator API and the single-session
// worker. Each Load variant validates only the fields its binary needs.
type Config struct {
	ListenAddr      string
	JWTSecret       string
	CallbackKey     string
	MaxSessions     int
	SelectorsFile   string
	StorageProvider string
	S3Bucket        string
	S3Region        string
	S3Prefix        string

	Platform            model.Platform
	MeetingURL          string
	MeetingID           string
	Passcode            string
	DisplayName         string
	CallbackURL         string
	RecordingDir        string
	Display             string
	AudioSource         string
	Headless            bool
	WaitingRoomTimeout  time.Duration
	EveryoneLeftTimeout time.Duration
	InactivityTimeout   time.Duration
	HeartbeatInterval   time.Duration
	PollInterval        time.Duration
}

func load() Config {
	// A missing .env is the normal production case.
	_ = godotenv.Load()
	return Config{
		ListenAddr:      envOrDefault("MEETBOT_LISTEN_ADDR", ":8080"),
		JWTSecret:       os.Getenv("MEETBOT_JWT_SECRET"),
		CallbackKey:     os.Getenv("MEETBOT_CALLBACK_KEY"),
		MaxSessions:     ParsePositiveIntEnv("MEETBOT_MAX_SESSIONS", 8),
		SelectorsFile:   os.Getenv("MEETBOT_SELECTORS_FILE"),
		StorageProvider: envOrDefault("MEETBOT_STORAGE_PROVIDER", "fake"),
		S3Bucket:        os.Getenv("MEETBOT_S3_BUCKET"),
		S3Region:        envOrDefault("MEETBOT_S3_REGION", "us-east-1"),
		S3Prefix:        envOrDefault("MEETBOT_S3_PREFIX", "recordings"),

		Platform:            model.Platform(strings.ToLower(envOrDefault("MEETBOT_PLATFORM", "meet"))),
		MeetingURL:          os.Getenv("MEETBOT_MEETING_URL"),
		MeetingID:           os.Getenv("MEETBOT_MEETING_ID"),
		Passcode:            os.Getenv("MEETBOT_PASSCODE"),
		DisplayName:         envOrDefault("MEETBOT_DISPLAY_NAME", "Notetaker Bot"),
		CallbackURL:         os.Getenv("MEETBOT_CALLBACK_URL"),
		RecordingDir:        envOrDefault("MEETBOT_RECORDING_DIR", "/tmp/recordings"),
		Display:             envOrDefault("MEETBOT_DISPLAY", ":99"),
		AudioSource:         envOrDefault("MEETBOT_AUDIO_SOURCE", "default"),
		Headless:            envBool("MEETBOT_HEADLESS", true),
		WaitingRoomTimeout:  envDuration("MEETBOT_WAITING_ROOM_TIMEOUT", 10*time.Minute),
		EveryoneLeftTimeout: envDuration("MEETBOT_EVERYONE_LEFT_TIMEOUT", 2*time.Minute),
		InactivityTimeout:   envDuration("MEETBOT_INACTIVITY_TIMEOUT", 0),
		HeartbeatInterval:   envDuration("MEETBOT_HEARTBEAT_INTERVAL", 30*time.Second),
		PollInterval:        envDuration("MEETBOT_POLL_INTERVAL", 2*time.Second),
	}
}

// LoadServerFromEnv loads and validates coordinator configuration.
func LoadServerFromEnv() (Config, error) {
	cfg := load()
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("MEETBOT_JWT_SECRET is required")
	}
	if cfg.StorageProvider != "fake" && cfg.StorageProvider != "s3" {
		return Config{}, fmt.Errorf("MEETBOT_STORAGE_PROVIDER must be one of fake|s3")
	}
	if cfg.StorageProvider == "s3" && cfg.S3Bucket == "" {
		return Config{}, fmt.Errorf("MEETBOT_S3_BUCKET is required for s3 storage provider")
	}
	return cfg, nil
}

// LoadWorkerFromEnv loads and validates single-session worker
// configuration.
func LoadWorkerFromEnv() (Config, error) {
	cfg := load()
	if !validPlatform(cfg.Platform) {
		return Config{}, fmt.Errorf("MEETBOT_PLATFORM must be one of meet|zoom|teams")
	}
	if cfg.MeetingURL == "" && cfg.MeetingID == "" {
		return Config{}, fmt.Errorf("one of MEETBOT_MEETING_URL or MEETBOT_MEETING_ID is required")
	}
	if cfg.WaitingRoomTimeout <= 0 {
		return Config{}, fmt.Errorf("MEETBOT_WAITING_ROOM_TIMEOUT must be positive")
	}
	if cfg.StorageProvider != "fake" && cfg.StorageProvider != "s3" {
		return Config{}, fmt.Errorf("MEETBOT_STORAGE_PROVIDER must be one of fake|s3")
	}
	if cfg.StorageProvider == "s3" && cfg.S3Bucket == "" {
		return Config{}, fmt.Errorf("MEETBOT_S3_BUCKET is required for s3 storage provider")
	}
	return cfg, nil
}

// SessionConfig assembles the immutable per-session config for one
// worker run.
func (c Config) SessionConfig(sessionID string) model.SessionConfig {
	return model.SessionConfig{
		SessionID:   sessionID,
		Platform:    c.Platform,
		MeetingURL:  c.MeetingURL,
		MeetingID:   c.MeetingID,
		Passcode:    c.Passcode,
		DisplayName: c.DisplayName,
		AutoLeave: model.AutoLeavePolicy{
			WaitingRoomTimeout:  c.WaitingRoomTimeout,
			EveryoneLeftTimeout: c.EveryoneLeftTimeout,
			InactivityTimeout:   c.InactivityTimeout,
		},
		HeartbeatInterval: c.HeartbeatInterval,
		CallbackURL:       c.CallbackURL,
		RecordingDir:      c.RecordingDir,
	}
}

func validPlatform(p model.Platform) bool {
	switch p {
	case model.PlatformMeet, model.PlatformZoom, model.PlatformTeams:
		return true
	default:
		return false
	}
}

func envOrDefault(k, v string) string {
	if raw := os.Getenv(k); raw != "" {
		return raw
	}
	return v
}

func envBool(k string, d bool) bool {
	raw := os.Getenv(k)
	if raw == "" {
		return d
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return d
	}
	return b
}

func envDuration(k string, d time.Duration) time.Duration {
	raw := os.Getenv(k)
	if raw == "" {
		return d
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v < 0 {
		return d
	}
	return v
}

func ParsePositiveIntEnv(k string, d int) int {
	raw := os.Getenv(k)
	if raw == "" {
		return d
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return d
	}
	return n
}
