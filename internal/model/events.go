package model

import "time"

type EventType string

const (
	EventJoining          EventType = "joining"
	EventInMeeting        EventType = "in_meeting"
	EventParticipantJoin  EventType = "participant_join"
	EventParticipantLeave EventType = "participant_leave"
	EventHeartbeat        EventType = "heartbeat"
	EventEnded            EventType = "ended"
)

// Event is one lifecycle notification surfaced to the job-submission
// collaborator. Participant is set only for the participant event types;
// EndReason only for EventEnded.
type Event struct {
	Type        EventType    `json:"type"`
	SessionID   string       `json:"session_id"`
	At          time.Time    `json:"at"`
	Participant *Participant `json:"participant,omitempty"`
	EndReason   EndReason    `json:"end_reason,omitempty"`
}

// EventSink receives lifecycle events. Implementations must not block the
// session; slow consumers buffer or drop on their own side.
type EventSink func(Event)
