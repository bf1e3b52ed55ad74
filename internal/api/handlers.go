package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/telemyapp/aegis-meeting-bot/internal/auth"
	"github.com/telemyapp/aegis-meeting-bot/internal/model"
)

type startBotRequest struct {
	Platform                   string `json:"platform"`
	MeetingURL                 string `json:"meeting_url"`
	MeetingID                  string `json:"meeting_id"`
	Passcode                   string `json:"passcode"`
	DisplayName                string `json:"display_name"`
	CallbackURL                string `json:"callback_url"`
	WaitingRoomTimeoutSeconds  int    `json:"waiting_room_timeout_seconds"`
	EveryoneLeftTimeoutSeconds int    `json:"everyone_left_timeout_seconds"`
	InactivityTimeoutSeconds   int    `json:"inactivity_timeout_seconds"`
}

func (s *Server) handleStartBot(w http.ResponseWriter, r *http.Request) {
	clientID, ok := auth.ClientIDFromContext(r.Context())
	if !ok {
		writeAPIError(w, http.StatusUnauthorized, "unauthorized", "missing client identity")
		return
	}

	idemRaw := r.Header.Get("Idempotency-Key")
	if idemRaw == "" {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "Idempotency-Key is required")
		return
	}
	idem, err := parseIdempotencyKey(idemRaw)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "Idempotency-Key must be uuid-v4")
		return
	}

	var req startBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	cfg, err := s.sessionConfigFrom(req)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	hash, err := HashJSON(req)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "failed to hash request")
		return
	}

	view, created, err := s.manager.Start(cfg, clientID, idem, hash)
	if err != nil {
		switch {
		case errors.Is(err, ErrIdempotencyMismatch):
			writeAPIError(w, http.StatusConflict, "idempotency_mismatch", "same key used with different payload")
		case errors.Is(err, ErrTooManySessions):
			writeAPIError(w, http.StatusTooManyRequests, "too_many_sessions", "session limit reached")
		default:
			writeAPIError(w, http.StatusInternalServerError, "internal_error", "failed to start bot session")
		}
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		log.Printf("event=bot_started session_id=%s client_id=%s platform=%s", view.SessionID, clientID, view.Platform)
	}
	writeJSON(w, status, map[string]any{"bot": toBotResponse(view)})
}

func (s *Server) handleGetBot(w http.ResponseWriter, r *http.Request) {
	view, err := s.manager.Get(pathSessionID(r))
	if err != nil {
		writeAPIError(w, http.StatusNotFound, "not_found", "bot session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bot": toBotResponse(view)})
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	views := s.manager.List()
	bots := make([]map[string]any, 0, len(views))
	for _, v := range views {
		bots = append(bots, toBotResponse(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bots": bots})
}

func (s *Server) handleAbortBot(w http.ResponseWriter, r *http.Request) {
	view, err := s.manager.Abort(pathSessionID(r))
	if err != nil {
		writeAPIError(w, http.StatusNotFound, "not_found", "bot session not found")
		return
	}
	log.Printf("event=bot_abort_requested session_id=%s", view.SessionID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"session_id": view.SessionID,
		"state":      string(view.State),
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Auth happens via the bearer token before the upgrade.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleBotEvents streams the session's lifecycle events over a
// websocket: full replay first, then live events until the session ends
// or the client goes away.
func (s *Server) handleBotEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := pathSessionID(r)
	replay, live, cancel, err := s.manager.Subscribe(sessionID)
	if err != nil {
		writeAPIError(w, http.StatusNotFound, "not_found", "bot session not found")
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Drain client frames so pings and close frames are processed.
	go func() {
		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				cancel()
				return
			}
		}
	}()

	for _, ev := range replay {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
	for ev := range live {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"), deadline)
}

func (s *Server) sessionConfigFrom(req startBotRequest) (model.SessionConfig, error) {
	platform := model.Platform(req.Platform)
	switch platform {
	case model.PlatformMeet, model.PlatformZoom, model.PlatformTeams:
	default:
		return model.SessionConfig{}, errors.New("platform must be one of meet|zoom|teams")
	}
	if req.MeetingURL == "" && req.MeetingID == "" {
		return model.SessionConfig{}, errors.New("one of meeting_url or meeting_id is required")
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = s.cfg.DisplayName
	}
	policy := model.AutoLeavePolicy{
		WaitingRoomTimeout:  s.cfg.WaitingRoomTimeout,
		EveryoneLeftTimeout: s.cfg.EveryoneLeftTimeout,
		InactivityTimeout:   s.cfg.InactivityTimeout,
	}
	if req.WaitingRoomTimeoutSeconds > 0 {
		policy.WaitingRoomTimeout = time.Duration(req.WaitingRoomTimeoutSeconds) * time.Second
	}
	if req.EveryoneLeftTimeoutSeconds > 0 {
		policy.EveryoneLeftTimeout = time.Duration(req.EveryoneLeftTimeoutSeconds) * time.Second
	}
	if req.InactivityTimeoutSeconds > 0 {
		policy.InactivityTimeout = time.Duration(req.InactivityTimeoutSeconds) * time.Second
	}

	return model.SessionConfig{
		Platform:          platform,
		MeetingURL:        req.MeetingURL,
		MeetingID:         req.MeetingID,
		Passcode:          req.Passcode,
		DisplayName:       displayName,
		AutoLeave:         policy,
		HeartbeatInterval: s.cfg.HeartbeatInterval,
		CallbackURL:       req.CallbackURL,
		RecordingDir:      s.cfg.RecordingDir,
	}, nil
}

func toBotResponse(v SessionView) map[string]any {
	resp := map[string]any{
		"session_id": v.SessionID,
		"platform":   string(v.Platform),
		"state":      string(v.State),
		"created_at": v.CreatedAt.UTC().Format(time.RFC3339),
	}
	if v.Result != nil {
		result := map[string]any{
			"end_reason": string(v.Result.EndReason),
			"started_at": v.Result.StartedAt.UTC().Format(time.RFC3339),
			"ended_at":   v.Result.EndedAt.UTC().Format(time.RFC3339),
		}
		if v.Result.Artifact != nil && v.Result.Artifact.Sealed {
			result["recording_path"] = v.Result.Artifact.Path
		}
		if v.Result.Err != nil {
			result["error"] = v.Result.Err.Error()
		}
		resp["result"] = result
	}
	return resp
}
