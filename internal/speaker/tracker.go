// Package speaker converts noisy per-participant activity observations
// into debounced SPEAKING/SILENT transition events.
package speaker

import (
	"time"

	"meet-transcription-pipeline/internal/capture"
	"meet-transcription-pipeline/internal/models"
)

// Tracker is a pure reducer over activity observations. It is the sole
// owner of each participant's logical speaking state, so for any one
// participant the emitted events strictly alternate START/END.
//
// Not safe for concurrent use: the tracker is owned by the pipeline
// coordinator, which serializes all observation handling.
type Tracker struct {
	now       func() time.Time
	anchor    time.Time
	anchorSet bool
	speaking  map[string]bool
}

// NewTracker creates a tracker with no participants and no audio anchor.
func NewTracker() *Tracker {
	return &Tracker{
		now:      time.Now,
		speaking: make(map[string]bool),
	}
}

// SetAnchor establishes the session's audio-start anchor. Relative event
// timestamps are measured against it. Only the first call takes effect.
func (t *Tracker) SetAnchor(ts time.Time) {
	if t.anchorSet {
		return
	}
	t.anchor = ts
	t.anchorSet = true
}

// AnchorSet reports whether the audio-start anchor has been established.
func (t *Tracker) AnchorSet() bool {
	return t.anchorSet
}

// Observe evaluates one activity observation. It returns a transition
// event when the participant's state changed, or nil otherwise.
//
// Observations before the anchor exists are ignored entirely, state
// included: once audio starts, the next observation of an already-active
// participant emits exactly one START, never a spurious pair, and no END
// can ever precede its START. Unknown participants start SILENT.
func (t *Tracker) Observe(obs capture.SpeakerObservation) *models.SpeakerEvent {
	if !t.anchorSet {
		return nil
	}
	prev := t.speaking[obs.ParticipantID]
	if prev == obs.Active {
		return nil
	}
	t.speaking[obs.ParticipantID] = obs.Active

	rel := t.now().Sub(t.anchor).Milliseconds()
	if rel < 0 {
		rel = 0
	}

	eventType := models.SpeakerEnd
	if obs.Active {
		eventType = models.SpeakerStart
	}
	return &models.SpeakerEvent{
		EventType:           eventType,
		ParticipantID:       obs.ParticipantID,
		ParticipantName:     obs.ParticipantName,
		RelativeTimestampMs: rel,
	}
}
