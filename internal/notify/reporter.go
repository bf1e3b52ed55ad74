// Package notify posts session progress to the configured callback URL:
// periodic heartbeats while in the meeting and one completion report
// after cleanup.
package notify

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/telemyapp/aegis-meeting-bot/internal/metrics"
	"github.com/telemyapp/aegis-meeting-bot/internal/model"
)

const authHeader = "X-Bot-Auth"

// Reporter delivers callbacks with bounded retries. A nil Reporter is a
// valid no-op, so callers never branch on whether a callback URL was
// configured.
type Reporter struct {
	url       string
	sharedKey string
	client    *http.Client
}

func NewReporter(url, sharedKey string) *Reporter {
	if url == "" {
		return nil
	}
	return &Reporter{
		url:       url,
		sharedKey: sharedKey,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

type heartbeatPayload struct {
	Kind             string `json:"kind"`
	SessionID        string `json:"session_id"`
	State            string `json:"state"`
	ParticipantCount int    `json:"participant_count"`
	At               string `json:"at"`
}

type completionPayload struct {
	Kind         string                   `json:"kind"`
	SessionID    string                   `json:"session_id"`
	EndReason    string                   `json:"end_reason"`
	StartedAt    string                   `json:"started_at"`
	EndedAt      string                   `json:"ended_at"`
	RecordingURL string                   `json:"recording_url,omitempty"`
	Timeframes   []model.SpeakerTimeframe `json:"timeframes"`
	Error        string                   `json:"error,omitempty"`
}

func (r *Reporter) Heartbeat(ctx context.Context, sessionID string, state model.SessionState, participants int) error {
	if r == nil {
		return nil
	}
	return r.post(ctx, "heartbeat", heartbeatPayload{
		Kind:             "heartbeat",
		SessionID:        sessionID,
		State:            string(state),
		ParticipantCount: participants,
		At:               time.Now().UTC().Format(time.RFC3339),
	})
}

// Completion reports the terminal session result. recordingURL is empty
// when no sealed artifact was uploaded.
func (r *Reporter) Completion(ctx context.Context, res model.SessionResult, recordingURL string) error {
	if r == nil {
		return nil
	}
	p := completionPayload{
		Kind:         "completion",
		SessionID:    res.SessionID,
		EndReason:    string(res.EndReason),
		StartedAt:    res.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:      res.EndedAt.UTC().Format(time.RFC3339),
		RecordingURL: recordingURL,
		Timeframes:   res.Timeframes,
	}
	if res.Err != nil {
		p.Error = res.Err.Error()
	}
	return r.post(ctx, "completion", p)
}

func (r *Reporter) post(ctx context.Context, kind string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	err = retryHTTP(ctx, kind, func(callCtx context.Context) error {
		req, reqErr := http.NewRequestWithContext(callCtx, http.MethodPost, r.url, bytes.NewReader(body))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		if r.sharedKey != "" {
			req.Header.Set(authHeader, r.sharedKey)
		}
		resp, doErr := r.client.Do(req)
		if doErr != nil {
			return &transportError{err: doErr}
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		return &statusError{code: resp.StatusCode}
	})
	status := "ok"
	if err != nil {
		status = "error"
		log.Printf("event=callback_failed kind=%s err=%q", kind, err.Error())
	}
	metrics.Default().IncCounter("meetingbot_callback_posts_total", map[string]string{
		"kind":   kind,
		"status": status,
	})
	return err
}

type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("callback status %d", e.code) }

type transportError struct {
	err error
}

func (e *transportError) Error() string { return fmt.Sprintf("callback transport: %v", e.err) }
func (e *transportError) Unwrap() error { return e.err }

func retryHTTP(ctx context.Context, kind string, fn func(context.Context) error) error {
	const (
		maxAttempts = 4
		baseDelay   = 250 * time.Millisecond
		maxDelay    = 2 * time.Second
	)
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			return err
		}
		if attempt == maxAttempts {
			return err
		}
		metrics.Default().IncCounter("meetingbot_callback_retries_total", map[string]string{
			"kind":   kind,
			"reason": retryReason(err),
		})
		delay := baseDelay * time.Duration(1<<(attempt-1))
		if delay > maxDelay {
			delay = maxDelay
		}
		delay = withJitter(delay)
		log.Printf("event=callback_retry kind=%s attempt=%d delay_ms=%d err=%q", kind, attempt, delay.Milliseconds(), err.Error())
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// isTransient treats network failures, throttling, and server errors as
// retryable; any other HTTP status is the receiver's final answer.
func isTransient(err error) bool {
	switch e := err.(type) {
	case *transportError:
		return true
	case *statusError:
		return e.code == http.StatusTooManyRequests || e.code >= 500
	default:
		return false
	}
}

func retryReason(err error) string {
	switch e := err.(type) {
	case *transportError:
		return "transport"
	case *statusError:
		return fmt.Sprintf("status_%d", e.code)
	default:
		return "unknown"
	}
}

func withJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	floor := delay / 10
	span := delay - floor
	if span <= 0 {
		return floor
	}
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return floor + (span / 2)
	}
	max := uint64(span)
	n := binary.LittleEndian.Uint64(raw[:]) % max
	// Jittered delay in [10% of base, 100% of base).
	return floor + time.Duration(n)
}
