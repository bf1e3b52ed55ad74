package model

import "time"

type Platform string

const (
	PlatformMeet  Platform = "meet"
	PlatformZoom  Platform = "zoom"
	PlatformTeams Platform = "teams"
)

type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateJoining   SessionState = "joining"
	StateInMeeting SessionState = "in_meeting"
	StateLeaving   SessionState = "leaving"
	StateEnded     SessionState = "ended"
)

type EndReason string

const (
	EndLeftNormally       EndReason = "left_normally"
	EndKicked             EndReason = "kicked"
	EndWaitingRoomTimeout EndReason = "waiting_room_timeout"
	EndAloneTimeout       EndReason = "alone_timeout"
	EndInactivityTimeout  EndReason = "inactivity_timeout"
	EndError              EndReason = "error"
)

// AutoLeavePolicy bounds how long the bot stays in the three situations
// where nobody would miss it. Zero disables the corresponding timeout,
// except WaitingRoomTimeout which must be positive for a worker session.
type AutoLeavePolicy struct {
	WaitingRoomTimeout  time.Duration
	EveryoneLeftTimeout time.Duration
	InactivityTimeout   time.Duration
}

// SessionConfig is immutable for the lifetime of one bot session.
type SessionConfig struct {
	SessionID         string
	Platform          Platform
	MeetingURL        string
	MeetingID         string
	Passcode          string
	DisplayName       string
	AutoLeave         AutoLeavePolicy
	HeartbeatInterval time.Duration
	CallbackURL       string
	RecordingDir      string
}

// JoinLocator returns the navigable join target: the meeting URL when
// present, otherwise a URL built from the numeric meeting ID.
func (c SessionConfig) JoinLocator() string {
	if c.MeetingURL != "" {
		return c.MeetingURL
	}
	switch c.Platform {
	case PlatformZoom:
		return "https://zoom.us/wc/join/" + c.MeetingID
	case PlatformMeet:
		return "https://meet.google.com/" + c.MeetingID
	default:
		return c.MeetingID
	}
}

type Participant struct {
	ID       string
	Name     string
	JoinedAt time.Time
}

// SpeakerTimeframe is a merged interval of continuous speaking activity
// for one participant, offset from recording start.
type SpeakerTimeframe struct {
	SpeakerName string
	Start       time.Duration
	End         time.Duration
}

type RecordingArtifact struct {
	Path        string
	ContentType string
	StartedAt   time.Time
	Sealed      bool
}

// SessionResult is the per-session completion value reported through the
// callback; nothing about a finished session lives in process-wide state.
type SessionResult struct {
	SessionID  string
	EndReason  EndReason
	Artifact   *RecordingArtifact
	Timeframes []SpeakerTimeframe
	StartedAt  time.Time
	EndedAt    time.Time
	Err        error
}
