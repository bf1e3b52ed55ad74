package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telemyapp/aegis-meeting-bot/internal/model"
)

var (
	ErrNotFound            = errors.New("session not found")
	ErrTooManySessions     = errors.New("session limit reached")
	ErrIdempotencyMismatch = errors.New("idempotency key reused with different payload")
)

// Engine runs one bot session to completion. The production engine wires
// a real browser and capture pipeline; tests substitute a scripted one.
type Engine interface {
	Run(ctx context.Context, cfg model.SessionConfig, emit model.EventSink) model.SessionResult
}

// eventBuffer caps the per-session replay log; a long meeting with a
// chatty roster stays bounded.
const eventBuffer = 512

type session struct {
	cfg         model.SessionConfig
	clientID    string
	requestHash string
	cancel      context.CancelFunc
	createdAt   time.Time

	mu     sync.Mutex
	state  model.SessionState
	result *model.SessionResult
	events []model.Event
	subs   map[chan model.Event]struct{}
}

// idemKey scopes idempotency to the authenticated client; one client
// replaying another client's key never resolves the other's session.
type idemKey struct {
	clientID string
	key      uuid.UUID
}

// Manager is the in-process session registry. Sessions are ephemeral:
// they exist from start until the process forgets them, and everything a
// finished session produced travels through the completion callback, not
// through here.
type Manager struct {
	engine Engine
	max    int

	mu       sync.Mutex
	sessions map[string]*session
	byIdem   map[idemKey]string
}

func NewManager(engine Engine, maxSessions int) *Manager {
	if maxSessions <= 0 {
		maxSessions = 8
	}
	return &Manager{
		engine:   engine,
		max:      maxSessions,
		sessions: make(map[string]*session),
		byIdem:   make(map[idemKey]string),
	}
}

type SessionView struct {
	SessionID string
	ClientID  string
	Platform  model.Platform
	State     model.SessionState
	CreatedAt time.Time
	Result    *model.SessionResult
}

// Start registers a new session and launches the engine. A repeated
// idempotency key with an identical payload returns the existing session.
func (m *Manager) Start(cfg model.SessionConfig, clientID string, idem uuid.UUID, requestHash string) (SessionView, bool, error) {
	m.mu.Lock()
	if id, ok := m.byIdem[idemKey{clientID: clientID, key: idem}]; ok {
		existing := m.sessions[id]
		m.mu.Unlock()
		if existing.requestHash != requestHash {
			return SessionView{}, false, ErrIdempotencyMismatch
		}
		return existing.view(), false, nil
	}
	active := 0
	for _, s := range m.sessions {
		if s.currentState() != model.StateEnded {
			active++
		}
	}
	if active >= m.max {
		m.mu.Unlock()
		return SessionView{}, false, ErrTooManySessions
	}

	cfg.SessionID = uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		cfg:         cfg,
		clientID:    clientID,
		requestHash: requestHash,
		cancel:      cancel,
		createdAt:   time.Now(),
		state:       model.StateIdle,
		subs:        make(map[chan model.Event]struct{}),
	}
	m.sessions[cfg.SessionID] = s
	m.byIdem[idemKey{clientID: clientID, key: idem}] = cfg.SessionID
	m.mu.Unlock()

	go func() {
		defer cancel()
		res := m.engine.Run(ctx, cfg, s.record)
		s.mu.Lock()
		s.result = &res
		s.state = model.StateEnded
		s.mu.Unlock()
		log.Printf("event=session_done session_id=%s reason=%s", res.SessionID, res.EndReason)
	}()

	return s.view(), true, nil
}

func (m *Manager) Get(sessionID string) (SessionView, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return SessionView{}, ErrNotFound
	}
	return s.view(), nil
}

func (m *Manager) List() []SessionView {
	m.mu.Lock()
	out := make([]SessionView, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.view())
	}
	m.mu.Unlock()
	return out
}

// Abort cancels the session's context; the engine's cleanup settles the
// session from there. Aborting an ended session is a no-op.
func (m *Manager) Abort(sessionID string) (SessionView, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return SessionView{}, ErrNotFound
	}
	s.cancel()
	return s.view(), nil
}

// Subscribe returns the event replay so far plus a live channel. The
// caller must invoke the returned cancel func when done.
func (m *Manager) Subscribe(sessionID string) ([]model.Event, <-chan model.Event, func(), error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, nil, nil, ErrNotFound
	}

	ch := make(chan model.Event, 64)
	s.mu.Lock()
	replay := append([]model.Event(nil), s.events...)
	ended := s.state == model.StateEnded
	if !ended {
		s.subs[ch] = struct{}{}
	} else {
		close(ch)
	}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, live := s.subs[ch]; live {
			delete(s.subs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return replay, ch, cancel, nil
}

// record is the manager-side event sink handed to the engine: it updates
// derived state, keeps the bounded replay log, and fans out to
// subscribers without ever blocking the session.
func (s *session) record(ev model.Event) {
	s.mu.Lock()
	switch ev.Type {
	case model.EventJoining:
		s.state = model.StateJoining
	case model.EventInMeeting:
		s.state = model.StateInMeeting
	case model.EventEnded:
		s.state = model.StateEnded
	}
	if len(s.events) < eventBuffer {
		s.events = append(s.events, ev)
	}
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	if ev.Type == model.EventEnded {
		for ch := range s.subs {
			delete(s.subs, ch)
			close(ch)
		}
	}
	s.mu.Unlock()
}

func (s *session) currentState() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) view() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionView{
		SessionID: s.cfg.SessionID,
		ClientID:  s.clientID,
		Platform:  s.cfg.Platform,
		State:     s.state,
		CreatedAt: s.createdAt,
		Result:    s.result,
	}
}

// HashJSON canonicalizes a request payload for idempotency comparison.
func HashJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
