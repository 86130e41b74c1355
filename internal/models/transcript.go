package models

// TranscriptSegment is a finalized, time-bounded unit of recognized text.
// For a given session the published sequence of EndSec values is
// non-decreasing; the segment builder enforces that watermark.
type TranscriptSegment struct {
	Text       string  `json:"text"`
	StartSec   float64 `json:"startSec"`
	EndSec     float64 `json:"endSec"`
	Confidence float64 `json:"confidence,omitempty"`
	Language   string  `json:"language"`
	Completed  bool    `json:"completed"`
}

// SessionStartEvent is published once per session on the transcript channel.
type SessionStartEvent struct {
	Type              string `json:"type"`
	SessionID         string `json:"sessionId"`
	StartTimestampIso string `json:"startTimestampIso"`
}

// SessionEndEvent is published once per session on the transcript channel.
type SessionEndEvent struct {
	Type            string `json:"type"`
	SessionID       string `json:"sessionId"`
	EndTimestampIso string `json:"endTimestampIso"`
}

// TranscriptionEvent carries one or more finalized segments.
type TranscriptionEvent struct {
	Type      string              `json:"type"`
	SessionID string              `json:"sessionId"`
	Segments  []TranscriptSegment `json:"segments"`
}

// SpeakerEventType discriminates speaking-state transitions.
type SpeakerEventType string

const (
	// SpeakerStart marks a participant transitioning SILENT -> SPEAKING.
	SpeakerStart SpeakerEventType = "START"
	// SpeakerEnd marks a participant transitioning SPEAKING -> SILENT.
	SpeakerEnd SpeakerEventType = "END"
)

// SpeakerEvent is published on the speaker channel. RelativeTimestampMs is
// measured against the session's audio-start anchor and is never negative.
type SpeakerEvent struct {
	EventType           SpeakerEventType `json:"eventType"`
	ParticipantID       string           `json:"participantId"`
	ParticipantName     string           `json:"participantName"`
	RelativeTimestampMs int64            `json:"relativeTimestampMs"`
}
