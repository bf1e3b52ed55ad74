package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/telemyapp/aegis-meeting-bot/internal/model"
)

// fakeEngine scripts session behavior per test. The default runs until
// the session context is cancelled, like a meeting that never ends.
type fakeEngine struct {
	runFn func(ctx context.Context, cfg model.SessionConfig, emit model.EventSink) model.SessionResult
}

func (e *fakeEngine) Run(ctx context.Context, cfg model.SessionConfig, emit model.EventSink) model.SessionResult {
	if e.runFn != nil {
		return e.runFn(ctx, cfg, emit)
	}
	emit(model.Event{Type: model.EventJoining, SessionID: cfg.SessionID, At: time.Now()})
	emit(model.Event{Type: model.EventInMeeting, SessionID: cfg.SessionID, At: time.Now()})
	<-ctx.Done()
	emit(model.Event{Type: model.EventEnded, SessionID: cfg.SessionID, At: time.Now(), EndReason: model.EndError})
	return model.SessionResult{SessionID: cfg.SessionID, EndReason: model.EndError, Err: ctx.Err()}
}

func testCfg() model.SessionConfig {
	return model.SessionConfig{
		Platform:   model.PlatformMeet,
		MeetingURL: "https://meet.google.com/abc-defg-hij",
	}
}

func waitForState(t *testing.T, m *Manager, id string, want model.SessionState) SessionView {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		view, err := m.Get(id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if view.State == want {
			return view
		}
		time.Sleep(5 * time.Millisecond)
	}
	view, _ := m.Get(id)
	t.Fatalf("state = %s, want %s", view.State, want)
	return SessionView{}
}

func TestStartAssignsSessionID(t *testing.T) {
	m := NewManager(&fakeEngine{}, 4)
	view, created, err := m.Start(testCfg(), "client_1", uuid.New(), "h1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !created {
		t.Fatalf("created = false, want true")
	}
	if view.SessionID == "" {
		t.Fatalf("empty session id")
	}
	m.Abort(view.SessionID)
}

func TestStartIdempotentSamePayload(t *testing.T) {
	m := NewManager(&fakeEngine{}, 4)
	key := uuid.New()

	first, created, err := m.Start(testCfg(), "client_1", key, "h1")
	if err != nil || !created {
		t.Fatalf("first start: err=%v created=%v", err, created)
	}
	second, created, err := m.Start(testCfg(), "client_1", key, "h1")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if created {
		t.Fatalf("second start created a new session")
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("session ids differ: %s vs %s", first.SessionID, second.SessionID)
	}
	m.Abort(first.SessionID)
}

func TestStartIdempotencyScopedPerClient(t *testing.T) {
	m := NewManager(&fakeEngine{}, 4)
	key := uuid.New()

	first, _, err := m.Start(testCfg(), "client_a", key, "h1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	second, created, err := m.Start(testCfg(), "client_b", key, "h1")
	if err != nil {
		t.Fatalf("start for second client: %v", err)
	}
	if !created {
		t.Fatalf("second client replayed the first client's session")
	}
	if second.SessionID == first.SessionID {
		t.Fatalf("clients share session %s", first.SessionID)
	}
	m.Abort(first.SessionID)
	m.Abort(second.SessionID)
}

func TestStartIdempotencyMismatch(t *testing.T) {
	m := NewManager(&fakeEngine{}, 4)
	key := uuid.New()

	first, _, err := m.Start(testCfg(), "client_1", key, "h1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_, _, err = m.Start(testCfg(), "client_1", key, "h2")
	if !errors.Is(err, ErrIdempotencyMismatch) {
		t.Fatalf("got %v, want ErrIdempotencyMismatch", err)
	}
	m.Abort(first.SessionID)
}

func TestStartEnforcesSessionLimit(t *testing.T) {
	m := NewManager(&fakeEngine{}, 1)
	first, _, err := m.Start(testCfg(), "client_1", uuid.New(), "h1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	_, _, err = m.Start(testCfg(), "client_1", uuid.New(), "h2")
	if !errors.Is(err, ErrTooManySessions) {
		t.Fatalf("got %v, want ErrTooManySessions", err)
	}

	// An ended session frees its slot.
	m.Abort(first.SessionID)
	waitForState(t, m, first.SessionID, model.StateEnded)
	if _, _, err := m.Start(testCfg(), "client_1", uuid.New(), "h3"); err != nil {
		t.Fatalf("start after slot freed: %v", err)
	}
}

func TestGetUnknownSession(t *testing.T) {
	m := NewManager(&fakeEngine{}, 4)
	if _, err := m.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestAbortSettlesSession(t *testing.T) {
	m := NewManager(&fakeEngine{}, 4)
	view, _, err := m.Start(testCfg(), "client_1", uuid.New(), "h1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, m, view.SessionID, model.StateInMeeting)

	if _, err := m.Abort(view.SessionID); err != nil {
		t.Fatalf("abort: %v", err)
	}
	// The ended event lands before the engine returns its result, so poll
	// for the result rather than the state.
	deadline := time.Now().Add(2 * time.Second)
	for {
		final, err := m.Get(view.SessionID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if final.Result != nil {
			if final.Result.EndReason != model.EndError {
				t.Fatalf("end reason = %s, want %s", final.Result.EndReason, model.EndError)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no result recorded after abort")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubscribeReplayAndLive(t *testing.T) {
	m := NewManager(&fakeEngine{}, 4)
	view, _, err := m.Start(testCfg(), "client_1", uuid.New(), "h1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, m, view.SessionID, model.StateInMeeting)

	replay, live, cancel, err := m.Subscribe(view.SessionID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	if len(replay) < 2 {
		t.Fatalf("replay has %d events, want >= 2", len(replay))
	}
	if replay[0].Type != model.EventJoining {
		t.Fatalf("first replayed event = %s", replay[0].Type)
	}

	m.Abort(view.SessionID)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-live:
			if !ok {
				t.Fatalf("stream closed before ended event")
			}
			if ev.Type == model.EventEnded {
				return
			}
		case <-deadline:
			t.Fatalf("no ended event on live stream")
		}
	}
}

func TestSubscribeEndedSessionClosesImmediately(t *testing.T) {
	instant := &fakeEngine{
		runFn: func(_ context.Context, cfg model.SessionConfig, emit model.EventSink) model.SessionResult {
			emit(model.Event{Type: model.EventEnded, SessionID: cfg.SessionID, At: time.Now(), EndReason: model.EndLeftNormally})
			return model.SessionResult{SessionID: cfg.SessionID, EndReason: model.EndLeftNormally}
		},
	}
	m := NewManager(instant, 4)
	view, _, err := m.Start(testCfg(), "client_1", uuid.New(), "h1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, m, view.SessionID, model.StateEnded)

	replay, live, cancel, err := m.Subscribe(view.SessionID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	if len(replay) != 1 {
		t.Fatalf("replay has %d events, want 1", len(replay))
	}
	if _, ok := <-live; ok {
		t.Fatalf("live channel not closed for ended session")
	}
}
