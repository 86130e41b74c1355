package models

import (
	"encoding/json"
	"sync"
	"testing"
)

func TestNewSession(t *testing.T) {
	s1 := NewSession("en-US", TaskTranscribe, 16000)
	s2 := NewSession("en-US", TaskTranscribe, 16000)

	if s1.ID == "" || s1.ID == s2.ID {
		t.Errorf("expected unique non-empty session ids, got %q and %q", s1.ID, s2.ID)
	}
	if s1.Language != "en-US" || s1.Task != TaskTranscribe || s1.SampleRateHz != 16000 {
		t.Errorf("unexpected session %+v", s1)
	}
	if s1.StartPublished() || s1.EndPublished() {
		t.Error("new session must have no published lifecycle events")
	}
}

func TestSession_PublishFlagsClaimOnce(t *testing.T) {
	s := NewSession("en-US", TaskTranscribe, 16000)

	var wg sync.WaitGroup
	claims := make(chan bool, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claims <- s.MarkStartPublished()
		}()
	}
	wg.Wait()
	close(claims)

	won := 0
	for claimed := range claims {
		if claimed {
			won++
		}
	}
	if won != 1 {
		t.Errorf("expected exactly one winning claim, got %d", won)
	}
	if !s.StartPublished() {
		t.Error("flag must be set after a claim")
	}
}

func TestTranscriptSegment_JSONShape(t *testing.T) {
	seg := TranscriptSegment{
		Text:      "hello",
		StartSec:  0.2,
		EndSec:    1.4,
		Language:  "en-US",
		Completed: true,
	}
	data, err := json.Marshal(seg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	for _, key := range []string{"text", "startSec", "endSec", "language", "completed"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("missing field %q in %s", key, data)
		}
	}
	// Zero confidence is omitted from the wire shape.
	if _, ok := fields["confidence"]; ok {
		t.Errorf("zero confidence must be omitted, got %s", data)
	}
}

func TestSpeakerEvent_JSONShape(t *testing.T) {
	ev := SpeakerEvent{
		EventType:           SpeakerStart,
		ParticipantID:       "p1",
		ParticipantName:     "Alice",
		RelativeTimestampMs: 1200,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if fields["eventType"] != "START" {
		t.Errorf("expected eventType START, got %v", fields["eventType"])
	}
	for _, key := range []string{"participantId", "participantName", "relativeTimestampMs"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("missing field %q in %s", key, data)
		}
	}
}
