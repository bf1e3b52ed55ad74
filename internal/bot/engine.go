package bot

import (
	"context"
	"log"
	"time"

	"github.com/telemyapp/aegis-meeting-bot/internal/browser"
	"github.com/telemyapp/aegis-meeting-bot/internal/capture"
	"github.com/telemyapp/aegis-meeting-bot/internal/model"
	"github.com/telemyapp/aegis-meeting-bot/internal/notify"
	"github.com/telemyapp/aegis-meeting-bot/internal/storage"
)

type EngineOptions struct {
	Overrides    SelectorOverrides
	Headless     bool
	Display      string
	AudioSource  string
	PollInterval time.Duration
	// CallbackKey signs callbacks for whichever callback URL each session
	// carries.
	CallbackKey string
	Uploader    storage.Uploader
}

// LiveEngine runs sessions against a real browser and encoder. One
// engine serves many sessions; all per-session state lives in the
// controller it builds per run.
type LiveEngine struct {
	opts EngineOptions
}

func NewEngine(opts EngineOptions) *LiveEngine {
	return &LiveEngine{opts: opts}
}

func (e *LiveEngine) Run(ctx context.Context, cfg model.SessionConfig, emit model.EventSink) model.SessionResult {
	platform, err := ForConfig(cfg, e.opts.Overrides)
	if err != nil {
		return model.SessionResult{
			SessionID: cfg.SessionID,
			EndReason: model.EndError,
			StartedAt: time.Now(),
			EndedAt:   time.Now(),
			Err:       err,
		}
	}

	driver := browser.NewRodDriver(browser.RodOptions{Headless: e.opts.Headless})
	pipe := capture.New(capture.Options{
		Dir:         cfg.RecordingDir,
		Display:     e.opts.Display,
		AudioSource: e.opts.AudioSource,
	})
	reporter := notify.NewReporter(cfg.CallbackURL, e.opts.CallbackKey)

	var ctrl *Controller
	ctrl = New(cfg, platform, driver, pipe, emit, Options{
		PollInterval: e.opts.PollInterval,
		Heartbeat: func(hctx context.Context) error {
			return reporter.Heartbeat(hctx, cfg.SessionID, ctrl.State(), ctrl.Tracker().Size())
		},
	})

	res := ctrl.Run(ctx)

	recordingURL := e.uploadArtifact(res)
	if err := reporter.Completion(context.Background(), res, recordingURL); err != nil {
		log.Printf("event=completion_report_failed session_id=%s err=%q", cfg.SessionID, err.Error())
	}
	return res
}

// uploadArtifact ships the sealed recording off-host; an unsealed or
// missing artifact uploads nothing.
func (e *LiveEngine) uploadArtifact(res model.SessionResult) string {
	if e.opts.Uploader == nil || res.Artifact == nil || !res.Artifact.Sealed {
		return ""
	}
	upCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	out, err := e.opts.Uploader.Upload(upCtx, storage.UploadRequest{
		SessionID:   res.SessionID,
		Path:        res.Artifact.Path,
		ContentType: res.Artifact.ContentType,
	})
	if err != nil {
		log.Printf("event=artifact_upload_failed session_id=%s path=%s err=%q", res.SessionID, res.Artifact.Path, err.Error())
		return ""
	}
	log.Printf("event=artifact_uploaded session_id=%s provider=%s key=%s", res.SessionID, out.Provider, out.Key)
	return out.URL
}
