package tracker

import (
	"sync"
	"testing"
	"time"

	"github.com/telemyapp/aegis-meeting-bot/internal/model"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *eventRecorder) sink(ev model.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) all() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}

func TestJoinDuplicateIsNoOp(t *testing.T) {
	rec := &eventRecorder{}
	tr := New("ses_1", rec.sink)

	tr.Join(model.Participant{ID: "p1", Name: "Alice"})
	tr.Join(model.Participant{ID: "p1", Name: "Alice"})

	if got := tr.Size(); got != 1 {
		t.Fatalf("size = %d, want 1", got)
	}
	if got := len(rec.all()); got != 1 {
		t.Fatalf("emitted %d events, want 1", got)
	}
}

func TestLeaveAbsentIsNoOp(t *testing.T) {
	rec := &eventRecorder{}
	tr := New("ses_1", rec.sink)

	tr.Leave("ghost")

	if got := len(rec.all()); got != 0 {
		t.Fatalf("emitted %d events, want 0", got)
	}
}

func TestJoinLeaveEmitsParticipantEvents(t *testing.T) {
	rec := &eventRecorder{}
	tr := New("ses_1", rec.sink)

	tr.Join(model.Participant{ID: "p1", Name: "Alice"})
	tr.Leave("p1")

	events := rec.all()
	if len(events) != 2 {
		t.Fatalf("emitted %d events, want 2", len(events))
	}
	if events[0].Type != model.EventParticipantJoin {
		t.Fatalf("first event = %s, want %s", events[0].Type, model.EventParticipantJoin)
	}
	if events[1].Type != model.EventParticipantLeave {
		t.Fatalf("second event = %s, want %s", events[1].Type, model.EventParticipantLeave)
	}
	if events[0].Participant == nil || events[0].Participant.Name != "Alice" {
		t.Fatalf("join event participant = %+v, want Alice", events[0].Participant)
	}
}

func TestAloneSinceSetOnShrinkToOne(t *testing.T) {
	tr := New("ses_1", nil)

	tr.Join(model.Participant{ID: "bot"})
	if _, ok := tr.AloneSince(); ok {
		t.Fatalf("alone set after first join, want unset")
	}

	tr.Join(model.Participant{ID: "p1"})
	tr.Leave("p1")

	at, ok := tr.AloneSince()
	if !ok {
		t.Fatalf("alone not set after shrink to one")
	}
	if time.Since(at) > time.Minute {
		t.Fatalf("alone instant %v too old", at)
	}
}

func TestAloneSinceClearedOnCompanyReturning(t *testing.T) {
	tr := New("ses_1", nil)

	tr.Join(model.Participant{ID: "bot"})
	tr.Join(model.Participant{ID: "p1"})
	tr.Leave("p1")
	tr.Join(model.Participant{ID: "p2"})

	if _, ok := tr.AloneSince(); ok {
		t.Fatalf("alone still set after company returned")
	}
}

func TestAloneSinceNotResetByRepeatedShrink(t *testing.T) {
	tr := New("ses_1", nil)

	tr.Join(model.Participant{ID: "bot"})
	tr.Join(model.Participant{ID: "p1"})
	tr.Leave("p1")
	first, _ := tr.AloneSince()

	// Duplicate leave must not move the alone instant.
	tr.Leave("p1")
	second, ok := tr.AloneSince()
	if !ok || !second.Equal(first) {
		t.Fatalf("alone instant moved: first=%v second=%v", first, second)
	}
}

func TestSpeakingRecordsLastSpeech(t *testing.T) {
	tr := New("ses_1", nil)

	if _, ok := tr.LastSpeechAt(); ok {
		t.Fatalf("last speech set before any activity")
	}

	now := time.Now()
	tr.Speaking("p1", "Alice", now)
	got, ok := tr.LastSpeechAt()
	if !ok || !got.Equal(now) {
		t.Fatalf("last speech = %v ok=%v, want %v", got, ok, now)
	}

	// Out-of-order delivery never regresses the high-water mark.
	tr.Speaking("p2", "Bob", now.Add(-time.Minute))
	got, _ = tr.LastSpeechAt()
	if !got.Equal(now) {
		t.Fatalf("last speech regressed to %v", got)
	}
}

func TestSpeakingOffsetsClampedToRecordingStart(t *testing.T) {
	tr := New("ses_1", nil)
	start := time.Now()
	tr.SetRecordingStart(start)

	// Speech observed before recording start clamps to offset zero.
	tr.Speaking("p1", "Alice", start.Add(-2*time.Second))
	tr.Speaking("p1", "Alice", start.Add(2*time.Second))

	frames := tr.Timeframes()
	if len(frames) == 0 {
		t.Fatalf("no timeframes derived")
	}
	if frames[0].Start != 0 {
		t.Fatalf("first frame start = %v, want 0", frames[0].Start)
	}
}

func TestRosterSnapshot(t *testing.T) {
	tr := New("ses_1", nil)
	tr.Join(model.Participant{ID: "p1", Name: "Alice"})
	tr.Join(model.Participant{ID: "p2", Name: "Bob"})

	roster := tr.Roster()
	if len(roster) != 2 {
		t.Fatalf("roster size = %d, want 2", len(roster))
	}
}
