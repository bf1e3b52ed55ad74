package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/telemyapp/aegis-meeting-bot/internal/browser"
	"github.com/telemyapp/aegis-meeting-bot/internal/model"
	"github.com/telemyapp/aegis-meeting-bot/internal/tracker"
)

// Platform is the per-product capability set the shared controller is
// parameterized over. Implementations are pure strategy objects: they hold
// selector configuration and nothing session-scoped.
//
// DetectKicked and DetectMeetingEnded are short bounded probes: an absent
// signal is (false, nil), never an error. A returned error is an
// unexpected failure the controller treats as fatal.
type Platform interface {
	Name() model.Platform
	// Join performs the full platform join procedure and blocks until the
	// joined signal appears or ctx is done. The caller bounds ctx with the
	// waiting-room timeout.
	Join(ctx context.Context, d browser.Driver, cfg model.SessionConfig) error
	// Leave attempts the UI leave action. Failure to find the control is
	// reported as browser.ErrElementNotFound; the session is likely
	// already gone and the caller proceeds to cleanup regardless.
	Leave(ctx context.Context, d browser.Driver) error
	DetectKicked(ctx context.Context, d browser.Driver) (bool, error)
	DetectMeetingEnded(ctx context.Context, d browser.Driver) (bool, error)
	// InjectTracking installs the in-page roster observers feeding the
	// tracker. Both delivery shapes (per-tile nodes and merged-audio-group
	// nodes) produce messages into the same tracker entry points.
	InjectTracking(ctx context.Context, d browser.Driver, t *tracker.Tracker) error
}

// ForConfig builds the platform strategy for a session config.
func ForConfig(cfg model.SessionConfig, ov SelectorOverrides) (Platform, error) {
	switch cfg.Platform {
	case model.PlatformMeet:
		return newMeet(ov.Meet), nil
	case model.PlatformZoom:
		return newZoom(ov.Zoom), nil
	case model.PlatformTeams:
		return newTeams(ov.Teams), nil
	default:
		return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
}

// probe timeouts are sub-second so the composite monitor loop stays
// responsive and cancellable.
const (
	probeWait  = 400 * time.Millisecond
	actionWait = 2 * time.Second
)

// clickFirst clicks the first selector that resolves within per-selector
// wait. Reports whether anything was clicked; ErrElementNotFound from
// individual candidates is an expected negative.
func clickFirst(ctx context.Context, d browser.Driver, selectors []string, wait time.Duration) (bool, error) {
	for _, sel := range selectors {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		err := d.Click(ctx, sel, wait)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, browser.ErrElementNotFound) {
			continue
		}
		return false, err
	}
	return false, nil
}

// anyVisible probes the selector candidates with a short bounded wait each.
func anyVisible(ctx context.Context, d browser.Driver, selectors []string, wait time.Duration) (bool, error) {
	for _, sel := range selectors {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		err := d.WaitVisible(ctx, sel, wait)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, browser.ErrElementNotFound) {
			continue
		}
		return false, err
	}
	return false, nil
}

// awaitAny loops over the candidates until one is visible or ctx is done.
// A lapsed ctx is reported as ErrWaitingRoomTimeout by callers in the join
// path; here it surfaces as ctx.Err.
func awaitAny(ctx context.Context, d browser.Driver, selectors []string) error {
	for {
		ok, err := anyVisible(ctx, d, selectors, probeWait)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// rosterMessage is the wire shape the in-page observers deliver through
// the exposed callback.
type rosterMessage struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// trackerCallbackName is the page-global function name all platform
// observer scripts call.
const trackerCallbackName = "aegisRosterEvent"

// trackingHandler adapts exposed-callback payloads to tracker entry
// points. Malformed payloads are logged and dropped, not fatal.
func trackingHandler(t *tracker.Tracker) func(payload string) {
	return func(payload string) {
		var msg rosterMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			log.Printf("event=roster_message_malformed err=%q payload=%q", err.Error(), payload)
			return
		}
		if msg.ID == "" {
			return
		}
		now := time.Now()
		switch msg.Kind {
		case "join":
			t.Join(model.Participant{ID: msg.ID, Name: msg.Name, JoinedAt: now})
		case "leave":
			t.Leave(msg.ID)
		case "speaking":
			t.Speaking(msg.ID, msg.Name, now)
		default:
			log.Printf("event=roster_message_unknown_kind kind=%q", msg.Kind)
		}
	}
}

// injectObservers wires the exposed callback and evaluates the observer
// script. Shared by all three platforms; only the script differs.
func injectObservers(ctx context.Context, d browser.Driver, t *tracker.Tracker, script string) error {
	if err := d.Expose(ctx, trackerCallbackName, trackingHandler(t)); err != nil {
		return err
	}
	return d.Eval(ctx, script)
}
