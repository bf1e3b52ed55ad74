package bot

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telemyapp/aegis-meeting-bot/internal/browser"
	"github.com/telemyapp/aegis-meeting-bot/internal/capture"
	"github.com/telemyapp/aegis-meeting-bot/internal/jobs"
	"github.com/telemyapp/aegis-meeting-bot/internal/metrics"
	"github.com/telemyapp/aegis-meeting-bot/internal/model"
	"github.com/telemyapp/aegis-meeting-bot/internal/tracker"
)

// CapturePipeline is the slice of the capture package the controller
// needs; *capture.Pipeline satisfies it.
type CapturePipeline interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) capture.Status
	Failures() <-chan error
	Artifact() *model.RecordingArtifact
}

type Options struct {
	// PollInterval is the composite monitor tick; defaults to 2s.
	PollInterval time.Duration
	// LeaveTimeout bounds the UI leave attempt; defaults to 10s.
	LeaveTimeout time.Duration
	// Heartbeat, when set, runs on every heartbeat tick in addition to
	// the emitted heartbeat event.
	Heartbeat func(context.Context) error
}

// Controller owns one session end to end: it drives the driver through
// the platform join procedure, runs capture and monitoring concurrently
// while in the meeting, and guarantees cleanup on every exit path. It is
// the sole owner of session state transitions and the only component
// allowed to close the shared page.
type Controller struct {
	cfg      model.SessionConfig
	platform Platform
	driver   browser.Driver
	capture  CapturePipeline
	track    *tracker.Tracker
	emit     model.EventSink
	runner   *jobs.Runner
	opts     Options

	mu     sync.Mutex
	state  model.SessionState
	reason model.EndReason
	cancel context.CancelFunc

	cleanupOnce sync.Once
}

func New(cfg model.SessionConfig, p Platform, d browser.Driver, pipe CapturePipeline, emit model.EventSink, opts Options) *Controller {
	if emit == nil {
		emit = func(model.Event) {}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.LeaveTimeout <= 0 {
		opts.LeaveTimeout = 10 * time.Second
	}
	return &Controller{
		cfg:      cfg,
		platform: p,
		driver:   d,
		capture:  pipe,
		track:    tracker.New(cfg.SessionID, emit),
		emit:     emit,
		runner:   jobs.NewRunner(),
		opts:     opts,
		state:    model.StateIdle,
	}
}

func (c *Controller) State() model.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Tracker() *tracker.Tracker { return c.track }

// Abort force-transitions the session to cleanup from any state. Safe to
// call at any time, concurrently with Run, and more than once.
func (c *Controller) Abort() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		return
	}
	// Run never started; still settle the session terminally.
	c.setReasonOnce(model.EndError)
	c.cleanup()
}

// Run executes the full session lifecycle and always returns a settled
// result; failures are carried in the result, not thrown past cleanup.
func (c *Controller) Run(ctx context.Context) model.SessionResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	startedAt := time.Now()
	labels := map[string]string{"platform": string(c.cfg.Platform)}
	metrics.Default().AddGauge("meetingbot_active_sessions", 1, nil)
	defer metrics.Default().AddGauge("meetingbot_active_sessions", -1, nil)

	c.setState(model.StateJoining)
	c.emit(model.Event{Type: model.EventJoining, SessionID: c.cfg.SessionID, At: startedAt})

	if err := c.join(ctx); err != nil {
		reason := model.EndError
		status := "error"
		if errors.Is(err, ErrWaitingRoomTimeout) {
			reason = model.EndWaitingRoomTimeout
			status = "waiting_room_timeout"
		}
		metrics.Default().IncCounter("meetingbot_joins_total", withLabel(labels, "status", status))
		log.Printf("event=join_failed session_id=%s platform=%s reason=%s err=%q",
			c.cfg.SessionID, c.cfg.Platform, reason, err.Error())
		return c.finish(reason, err, startedAt, false)
	}
	metrics.Default().IncCounter("meetingbot_joins_total", withLabel(labels, "status", "ok"))
	metrics.Default().ObserveHistogram("meetingbot_join_duration_ms",
		float64(time.Since(startedAt).Milliseconds()), labels)

	c.setState(model.StateInMeeting)
	c.emit(model.Event{Type: model.EventInMeeting, SessionID: c.cfg.SessionID, At: time.Now()})
	log.Printf("event=in_meeting session_id=%s platform=%s", c.cfg.SessionID, c.cfg.Platform)

	captureFailed, injected := c.startMonitorActivities(ctx)

	c.runner.Every(ctx, "heartbeat", c.cfg.HeartbeatInterval, func(hctx context.Context) error {
		c.emit(model.Event{Type: model.EventHeartbeat, SessionID: c.cfg.SessionID, At: time.Now()})
		if c.opts.Heartbeat != nil {
			return c.opts.Heartbeat(hctx)
		}
		return nil
	})

	reason, cause, attemptLeave := c.monitor(ctx, captureFailed, injected)
	// Stop the probes and heartbeats before touching the leave control.
	cancel()
	return c.finish(reason, cause, startedAt, attemptLeave)
}

// join launches the browser and runs the platform join procedure bounded
// by the waiting-room timeout. A lapsed bound maps to
// ErrWaitingRoomTimeout; anything else is a generic automation failure.
func (c *Controller) join(ctx context.Context) error {
	if err := c.driver.Launch(ctx); err != nil {
		return err
	}
	joinCtx := ctx
	var cancel context.CancelFunc
	if c.cfg.AutoLeave.WaitingRoomTimeout > 0 {
		joinCtx, cancel = context.WithTimeout(ctx, c.cfg.AutoLeave.WaitingRoomTimeout)
		defer cancel()
	}
	err := c.platform.Join(joinCtx, c.driver, c.cfg)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return ErrWaitingRoomTimeout
	}
	return err
}

// startMonitorActivities starts the capture pipeline and the tracking
// injection concurrently, without blocking each other. A capture start
// failure is fatal to the recording only; an injection failure is retried
// on the poll cadence.
func (c *Controller) startMonitorActivities(ctx context.Context) (captureFailed, injected *atomic.Bool) {
	captureFailed = &atomic.Bool{}
	injected = &atomic.Bool{}
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := c.capture.Start(ctx); err != nil {
			captureFailed.Store(true)
			log.Printf("event=capture_start_failed session_id=%s err=%q", c.cfg.SessionID, err.Error())
			return
		}
		if art := c.capture.Artifact(); art != nil {
			c.track.SetRecordingStart(art.StartedAt)
		}
	}()
	go func() {
		defer wg.Done()
		if err := c.platform.InjectTracking(ctx, c.driver, c.track); err != nil {
			log.Printf("event=tracking_inject_failed session_id=%s err=%q", c.cfg.SessionID, err.Error())
			return
		}
		injected.Store(true)
	}()
	wg.Wait()

	if !injected.Load() {
		go c.retryInjection(ctx, injected)
	}
	return captureFailed, injected
}

func (c *Controller) retryInjection(ctx context.Context, injected *atomic.Bool) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for !injected.Load() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := c.platform.InjectTracking(ctx, c.driver, c.track); err != nil {
			log.Printf("event=tracking_inject_retry_failed session_id=%s err=%q", c.cfg.SessionID, err.Error())
			continue
		}
		injected.Store(true)
	}
}

// monitor blocks until the termination detector resolves, the capture
// pipeline fails fatally, or the session is aborted. It decides whether a
// UI leave is attempted: kicked and dead-driver paths skip it, a
// capture-only failure still leaves politely.
func (c *Controller) monitor(ctx context.Context, captureFailed, injected *atomic.Bool) (model.EndReason, error, bool) {
	type watchResult struct {
		reason model.EndReason
		err    error
	}
	w := &watcher{
		platform: c.platform,
		driver:   c.driver,
		track:    c.track,
		policy:   c.cfg.AutoLeave,
		poll:     c.opts.PollInterval,
		injected: injected.Load,
	}
	resCh := make(chan watchResult, 1)
	go func() {
		reason, err := w.run(ctx)
		resCh <- watchResult{reason: reason, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			if ctx.Err() != nil {
				// External abort while a watcher was in flight.
				return model.EndError, ctx.Err(), false
			}
			return model.EndError, res.err, false
		}
		attemptLeave := res.reason != model.EndKicked
		if captureFailed.Load() {
			// The recording is gone but the meeting is intact; record the
			// session as failed yet still exit through the UI.
			return model.EndError, &capture.CaptureError{Err: errors.New("recording failed during session")}, attemptLeave
		}
		return res.reason, nil, attemptLeave
	case err := <-c.capture.Failures():
		log.Printf("event=capture_fatal session_id=%s err=%q", c.cfg.SessionID, err.Error())
		return model.EndError, err, true
	case <-ctx.Done():
		return model.EndError, ctx.Err(), false
	}
}

// finish runs the leave phase when applicable and the unconditional
// cleanup, then assembles the session result.
func (c *Controller) finish(reason model.EndReason, cause error, startedAt time.Time, attemptLeave bool) model.SessionResult {
	c.setReasonOnce(reason)

	if attemptLeave {
		c.setState(model.StateLeaving)
		leaveCtx, cancel := context.WithTimeout(context.Background(), c.opts.LeaveTimeout)
		err := c.platform.Leave(leaveCtx, c.driver)
		cancel()
		if err != nil {
			// The control being gone usually means the session is already
			// over; either way cleanup proceeds.
			log.Printf("event=leave_failed session_id=%s err=%q", c.cfg.SessionID, err.Error())
		}
	}

	c.cleanup()

	c.mu.Lock()
	finalReason := c.reason
	c.mu.Unlock()

	endedAt := time.Now()
	metrics.Default().IncCounter("meetingbot_sessions_ended_total", map[string]string{
		"platform": string(c.cfg.Platform),
		"reason":   string(finalReason),
	})
	metrics.Default().ObserveHistogram("meetingbot_session_duration_ms",
		float64(endedAt.Sub(startedAt).Milliseconds()),
		map[string]string{"platform": string(c.cfg.Platform), "reason": string(finalReason)})

	return model.SessionResult{
		SessionID:  c.cfg.SessionID,
		EndReason:  finalReason,
		Artifact:   c.capture.Artifact(),
		Timeframes: c.track.Timeframes(),
		StartedAt:  startedAt,
		EndedAt:    endedAt,
		Err:        cause,
	}
}

// cleanup is idempotent and unconditional: stop capture, close the
// browser, settle state, emit the terminal event. It never fails and is
// safe on partially-initialized sessions.
func (c *Controller) cleanup() {
	c.cleanupOnce.Do(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		stopStart := time.Now()
		status := c.capture.Stop(stopCtx)
		metrics.Default().ObserveHistogram("meetingbot_capture_finalize_ms",
			float64(time.Since(stopStart).Milliseconds()),
			map[string]string{"status": string(status)})

		if err := c.driver.Close(); err != nil {
			log.Printf("event=driver_close_failed session_id=%s err=%q", c.cfg.SessionID, err.Error())
		}

		c.setReasonOnce(model.EndError)
		c.mu.Lock()
		c.state = model.StateEnded
		reason := c.reason
		c.mu.Unlock()

		log.Printf("event=session_ended session_id=%s platform=%s reason=%s capture_status=%s",
			c.cfg.SessionID, c.cfg.Platform, reason, status)
		c.emit(model.Event{
			Type:      model.EventEnded,
			SessionID: c.cfg.SessionID,
			At:        time.Now(),
			EndReason: reason,
		})
	})
}

func (c *Controller) setState(s model.SessionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// setReasonOnce records the terminal reason; the first write wins.
func (c *Controller) setReasonOnce(r model.EndReason) {
	c.mu.Lock()
	if c.reason == "" {
		c.reason = r
	}
	c.mu.Unlock()
}

func withLabel(base map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(base)+1)
	for key, value := range base {
		out[key] = value
	}
	out[k] = v
	return out
}
