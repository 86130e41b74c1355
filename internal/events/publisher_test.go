package events

import (
	"context"
	"sync"
	"testing"

	"meet-transcription-pipeline/internal/models"
)

func disabledPublisher() *Publisher {
	return New(&Config{
		Enabled:          false,
		TopicTranscripts: "meeting.transcripts",
		TopicSpeakers:    "meeting.speakers",
		Principal:        "svc-test",
	})
}

func TestNew_NilConfig(t *testing.T) {
	p := New(nil)
	if p.enabled {
		t.Error("nil config must produce a disabled publisher")
	}
	sess := models.NewSession("en-US", models.TaskTranscribe, 16000)
	if err := p.PublishSessionStart(context.Background(), sess); err != nil {
		t.Errorf("disabled publish must not fail: %v", err)
	}
}

func TestNew_DisabledWithoutBrokers(t *testing.T) {
	p := New(&Config{Enabled: true, Brokers: nil})
	if p.enabled {
		t.Error("enabled config without brokers must fall back to log-only mode")
	}
}

func TestPublishSessionStart_AtMostOnce(t *testing.T) {
	p := disabledPublisher()
	sess := models.NewSession("en-US", models.TaskTranscribe, 16000)

	if err := p.PublishSessionStart(context.Background(), sess); err != nil {
		t.Fatalf("first publish failed: %v", err)
	}
	if !sess.StartPublished() {
		t.Error("session must record the start publication")
	}
	if err := p.PublishSessionStart(context.Background(), sess); err != nil {
		t.Errorf("repeat publish must be a no-op, got %v", err)
	}
}

func TestPublishSessionEnd_AtMostOnce(t *testing.T) {
	p := disabledPublisher()
	sess := models.NewSession("en-US", models.TaskTranscribe, 16000)

	if err := p.PublishSessionEnd(context.Background(), sess); err != nil {
		t.Fatalf("first publish failed: %v", err)
	}
	if !sess.EndPublished() {
		t.Error("session must record the end publication")
	}
	if err := p.PublishSessionEnd(context.Background(), sess); err != nil {
		t.Errorf("repeat publish must be a no-op, got %v", err)
	}
}

func TestPublishLifecycle_ConcurrentCallsClaimOnce(t *testing.T) {
	p := disabledPublisher()
	sess := models.NewSession("en-US", models.TaskTranscribe, 16000)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.PublishSessionEnd(context.Background(), sess)
		}()
	}
	wg.Wait()

	if !sess.EndPublished() {
		t.Error("session_end must have been claimed")
	}
}

func TestPublishSegments_EmptySkipped(t *testing.T) {
	p := disabledPublisher()
	sess := models.NewSession("en-US", models.TaskTranscribe, 16000)
	if err := p.PublishSegments(context.Background(), sess, nil); err != nil {
		t.Errorf("empty segment batch must be a no-op, got %v", err)
	}
}

func TestPublishSegments_Disabled(t *testing.T) {
	p := disabledPublisher()
	sess := models.NewSession("en-US", models.TaskTranscribe, 16000)
	segments := []models.TranscriptSegment{
		{Text: "hello", StartSec: 0.2, EndSec: 1.4, Language: "en-US", Completed: true},
	}
	if err := p.PublishSegments(context.Background(), sess, segments); err != nil {
		t.Errorf("disabled publish must not fail: %v", err)
	}
}

func TestPublishSpeakerEvent_Disabled(t *testing.T) {
	p := disabledPublisher()
	sess := models.NewSession("en-US", models.TaskTranscribe, 16000)
	ev := models.SpeakerEvent{
		EventType:           models.SpeakerStart,
		ParticipantID:       "p1",
		ParticipantName:     "Alice",
		RelativeTimestampMs: 1200,
	}
	if err := p.PublishSpeakerEvent(context.Background(), sess, ev); err != nil {
		t.Errorf("disabled publish must not fail: %v", err)
	}
}

func TestClose_NoWriters(t *testing.T) {
	p := New(nil)
	if err := p.Close(); err != nil {
		t.Errorf("closing a disabled publisher must not fail: %v", err)
	}
}
