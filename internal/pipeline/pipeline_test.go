package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"meet-transcription-pipeline/internal/capture"
	"meet-transcription-pipeline/internal/events"
	"meet-transcription-pipeline/internal/models"
	"meet-transcription-pipeline/internal/observability/metrics"
	"meet-transcription-pipeline/internal/session"
	"meet-transcription-pipeline/internal/stt/mock"
)

func newTestPipeline(script []mock.Utterance) *Pipeline {
	return New(Config{
		Language:           "en-US",
		Task:               models.TaskTranscribe,
		TargetSampleRateHz: 16000,
		InterimResults:     true,
		ConnectTimeout:     time.Second,
		ReconnectDelay:     5 * time.Millisecond,
		PublishTimeout:     time.Second,
		CommandBuffer:      64,
	}, mock.Factory(script), events.New(nil))
}

func testFrame() capture.AudioFrame {
	return capture.AudioFrame{
		Samples:            make([]float32, 160),
		SourceSampleRateHz: 16000,
		CaptureStartMs:     time.Now().UnixMilli(),
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPipeline_EndToEnd(t *testing.T) {
	p := newTestPipeline(nil)
	src := capture.NewChanSource(16)

	segmentsBefore := testutil.ToFloat64(metrics.DefaultMetrics.SegmentsPublished)

	runDone := make(chan error, 1)
	go func() { runDone <- p.Run(context.Background(), src) }()

	// One frame per script step: the mock delivers the interims of each
	// utterance first, then its final.
	steps := 0
	for _, utt := range mock.DefaultScript {
		steps += len(utt.Interims) + 1
	}
	for i := 0; i < steps; i++ {
		src.PushFrame(testFrame())
	}

	waitFor(t, func() bool {
		return testutil.ToFloat64(metrics.DefaultMetrics.SegmentsPublished)-segmentsBefore == float64(len(mock.DefaultScript))
	}, "expected one published segment per scripted final")

	if !p.Session().StartPublished() {
		t.Error("session_start must be published when the run loop starts")
	}
	if p.Manager().State() != session.StateStreaming {
		t.Errorf("expected STREAMING, got %s", p.Manager().State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if err := <-runDone; err != nil {
		t.Errorf("Run returned %v", err)
	}
	if !p.Session().EndPublished() {
		t.Error("session_end must be published on shutdown")
	}
}

func TestPipeline_EmptyFramesDoNotConnect(t *testing.T) {
	p := newTestPipeline(nil)
	src := capture.NewChanSource(16)

	go func() { _ = p.Run(context.Background(), src) }()
	defer p.Shutdown(context.Background())

	src.PushFrame(capture.AudioFrame{SourceSampleRateHz: 16000})
	src.PushFrame(capture.AudioFrame{SourceSampleRateHz: 16000})
	time.Sleep(50 * time.Millisecond)

	if got := p.Manager().State(); got != session.StateUninitialized {
		t.Errorf("empty frames must not open a backend stream, got %s", got)
	}
}

func TestPipeline_UpdateConfigValidation(t *testing.T) {
	p := newTestPipeline(nil)
	defer p.Shutdown(context.Background())

	if err := p.UpdateConfig("klingon", ""); err == nil {
		t.Error("expected error for unsupported language")
	}
	if err := p.UpdateConfig("", "summarize"); err == nil {
		t.Error("expected error for unsupported task")
	}
	if err := p.UpdateConfig("es-ES", "translate"); err != nil {
		t.Errorf("valid update rejected: %v", err)
	}
}

func TestPipeline_UpdateConfigRestartsStream(t *testing.T) {
	p := newTestPipeline(nil)
	src := capture.NewChanSource(16)

	go func() { _ = p.Run(context.Background(), src) }()
	defer p.Shutdown(context.Background())

	src.PushFrame(testFrame())
	waitFor(t, func() bool {
		return p.Manager().State() == session.StateStreaming
	}, "pipeline did not connect")

	if err := p.UpdateConfig("es-ES", ""); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}
	waitFor(t, func() bool {
		return p.Manager().Reconnects() == 1
	}, "language change did not restart the stream")

	// Same values again: no further restart.
	if err := p.UpdateConfig("es-ES", "transcribe"); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := p.Manager().Reconnects(); got != 1 {
		t.Errorf("unchanged config must not restart, got %d reconnects", got)
	}
}

func TestPipeline_ControlEndPublishesSessionEnd(t *testing.T) {
	p := newTestPipeline(nil)
	src := capture.NewChanSource(16)

	go func() { _ = p.Run(context.Background(), src) }()
	defer p.Shutdown(context.Background())

	p.Control("end")
	waitFor(t, func() bool {
		return p.Session().EndPublished()
	}, "control token 'end' did not publish session_end")
}

func TestPipeline_UnknownControlIgnored(t *testing.T) {
	p := newTestPipeline(nil)
	src := capture.NewChanSource(16)

	go func() { _ = p.Run(context.Background(), src) }()
	defer p.Shutdown(context.Background())

	p.Control("bogus")
	time.Sleep(50 * time.Millisecond)
	if p.Session().EndPublished() {
		t.Error("unknown control token must not end the session")
	}
}

func TestPipeline_SpeakerEventsAnchored(t *testing.T) {
	p := newTestPipeline(nil)
	src := capture.NewChanSource(16)

	startCounter := metrics.DefaultMetrics.SpeakerEvents.WithLabelValues("START")
	before := testutil.ToFloat64(startCounter)

	go func() { _ = p.Run(context.Background(), src) }()
	defer p.Shutdown(context.Background())

	// No audio yet: the observation is dropped without emitting anything.
	src.PushObservation(capture.SpeakerObservation{ParticipantID: "p1", Active: true})
	time.Sleep(50 * time.Millisecond)
	if got := testutil.ToFloat64(startCounter); got != before {
		t.Errorf("pre-anchor observation must not emit events, counter moved by %f", got-before)
	}

	src.PushFrame(testFrame())
	waitFor(t, func() bool {
		return p.Manager().State() == session.StateStreaming
	}, "pipeline did not connect")

	src.PushObservation(capture.SpeakerObservation{ParticipantID: "p1", Active: true})
	waitFor(t, func() bool {
		return testutil.ToFloat64(startCounter)-before == 1
	}, "expected one START event after the anchor is set")
}

func TestPipeline_SourceCloseKeepsLoopAlive(t *testing.T) {
	p := newTestPipeline(nil)
	src := capture.NewChanSource(16)

	runDone := make(chan error, 1)
	go func() { runDone <- p.Run(context.Background(), src) }()

	src.PushFrame(testFrame())
	src.Close()

	// The loop must keep serving commands after the source is gone.
	time.Sleep(50 * time.Millisecond)
	p.Control("end")
	waitFor(t, func() bool {
		return p.Session().EndPublished()
	}, "loop must keep serving commands after the source closes")

	p.Shutdown(context.Background())
	if err := <-runDone; err != nil {
		t.Errorf("Run returned %v", err)
	}
}

func TestPipeline_ShutdownIdempotent(t *testing.T) {
	p := newTestPipeline(nil)
	src := capture.NewChanSource(16)

	go func() { _ = p.Run(context.Background(), src) }()

	p.Shutdown(context.Background())
	p.Shutdown(context.Background())

	if p.Manager().State() != session.StateClosed {
		t.Errorf("expected CLOSED, got %s", p.Manager().State())
	}
	if !p.Session().EndPublished() {
		t.Error("session_end must be published")
	}
}

func TestPipeline_RunCancelledByContext(t *testing.T) {
	p := newTestPipeline(nil)
	src := capture.NewChanSource(16)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- p.Run(ctx, src) }()

	cancel()
	select {
	case err := <-runDone:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return on context cancellation")
	}
	p.Shutdown(context.Background())
}
