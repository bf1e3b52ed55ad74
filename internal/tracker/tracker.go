// Package tracker keeps the live participant roster and per-participant
// speaking activity for one session. All mutation goes through the three
// callback entry points; every other component reads only.
package tracker

import (
	"sync"
	"time"

	"github.com/telemyapp/aegis-meeting-bot/internal/model"
)

// Tracker is the single writer of the roster. Entry points are invoked
// asynchronously and unordered relative to each other; each is safe for
// concurrent use.
type Tracker struct {
	sessionID string
	emit      model.EventSink

	mu             sync.Mutex
	roster         map[string]model.Participant
	activity       map[string][]time.Duration
	names          map[string]string
	recordingStart time.Time
	lastSpeech     time.Time
	aloneSince     time.Time
}

func New(sessionID string, emit model.EventSink) *Tracker {
	if emit == nil {
		emit = func(model.Event) {}
	}
	return &Tracker{
		sessionID: sessionID,
		emit:      emit,
		roster:    make(map[string]model.Participant),
		activity:  make(map[string][]time.Duration),
		names:     make(map[string]string),
	}
}

// SetRecordingStart fixes the instant activity offsets are measured from.
func (t *Tracker) SetRecordingStart(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordingStart = at
}

// Join adds a participant to the roster. A duplicate join for an id
// already present is a no-op: platform UIs re-fire join signals.
func (t *Tracker) Join(p model.Participant) {
	t.mu.Lock()
	if _, ok := t.roster[p.ID]; ok {
		t.mu.Unlock()
		return
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	before := len(t.roster)
	t.roster[p.ID] = p
	t.names[p.ID] = p.Name
	t.applyTransition(before, len(t.roster), p.JoinedAt)
	t.mu.Unlock()

	t.emit(model.Event{
		Type:        model.EventParticipantJoin,
		SessionID:   t.sessionID,
		At:          p.JoinedAt,
		Participant: &p,
	})
}

// Leave removes a participant from the roster; an absent id is a no-op.
// The id stays usable as a key for historical activity lookups.
func (t *Tracker) Leave(id string) {
	t.mu.Lock()
	p, ok := t.roster[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	before := len(t.roster)
	delete(t.roster, id)
	now := time.Now()
	t.applyTransition(before, len(t.roster), now)
	t.mu.Unlock()

	t.emit(model.Event{
		Type:        model.EventParticipantLeave,
		SessionID:   t.sessionID,
		At:          now,
		Participant: &p,
	})
}

// Speaking appends an activity timestamp for the participant, creating the
// sequence on first speech. Unknown ids are recorded too: the merged-audio
// delivery path can report speech for a participant whose tile event has
// not arrived yet.
func (t *Tracker) Speaking(id, name string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if name != "" {
		t.names[id] = name
	} else if _, ok := t.names[id]; !ok {
		t.names[id] = id
	}
	offset := time.Duration(0)
	if !t.recordingStart.IsZero() && at.After(t.recordingStart) {
		offset = at.Sub(t.recordingStart)
	}
	t.activity[id] = append(t.activity[id], offset)
	if at.After(t.lastSpeech) {
		t.lastSpeech = at
	}
}

// applyTransition records the alone-start instant exactly when the roster
// shrinks from >1 to ==1 and clears it exactly when it grows back above 1.
// Caller holds t.mu.
func (t *Tracker) applyTransition(before, after int, at time.Time) {
	switch {
	case before > 1 && after == 1:
		t.aloneSince = at
	case before == 1 && after > 1:
		t.aloneSince = time.Time{}
	}
}

func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.roster)
}

// AloneSince reports the instant the roster last shrank to a single
// participant, if it has not grown back since.
func (t *Tracker) AloneSince() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aloneSince, !t.aloneSince.IsZero()
}

// LastSpeechAt reports the wall-clock instant of the most recent speech
// activity observed, if any.
func (t *Tracker) LastSpeechAt() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSpeech, !t.lastSpeech.IsZero()
}

// Roster returns a snapshot of the live participants.
func (t *Tracker) Roster() []model.Participant {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.Participant, 0, len(t.roster))
	for _, p := range t.roster {
		out = append(out, p)
	}
	return out
}
