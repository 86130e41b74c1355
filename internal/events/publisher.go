// Package events appends pipeline events to the durable message stream.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"meet-transcription-pipeline/internal/models"
	"meet-transcription-pipeline/internal/observability/metrics"
)

// Config holds stream publisher configuration.
type Config struct {
	Brokers          []string
	TopicTranscripts string
	TopicSpeakers    string
	Principal        string
	Enabled          bool
}

// Publisher appends session-lifecycle and transcript entries to the
// transcript topic and speaker transitions to the speaker topic. Entries
// are ordered per topic by partition key (the session id). Publish
// failures are logged and the entry is lost; there is no retry queue.
//
// The at-most-once guarantee for session_start/session_end lives in the
// Session's publish flags, not in the transport.
type Publisher struct {
	writerTranscripts *kafka.Writer
	writerSpeakers    *kafka.Writer
	principal         string
	topicTranscripts  string
	topicSpeakers     string
	enabled           bool
	metrics           *metrics.Metrics
}

// New creates a stream publisher. With Kafka disabled or no brokers
// configured it runs in log-only mode: every entry is logged, nothing is
// written.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Stream publisher disabled (nil config), using log-only mode")
		return &Publisher{enabled: false, metrics: m}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Stream publisher disabled, using log-only mode")
		return &Publisher{
			principal:        cfg.Principal,
			topicTranscripts: cfg.TopicTranscripts,
			topicSpeakers:    cfg.TopicSpeakers,
			enabled:          false,
			metrics:          m,
		}
	}

	// Longer dial timeouts for DNS resolution in Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	writerTranscripts := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicTranscripts,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
	writerSpeakers := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicSpeakers,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicTranscripts", cfg.TopicTranscripts).
		Str("topicSpeakers", cfg.TopicSpeakers).
		Str("principal", cfg.Principal).
		Msg("Stream publisher initialized")

	return &Publisher{
		writerTranscripts: writerTranscripts,
		writerSpeakers:    writerSpeakers,
		principal:         cfg.Principal,
		topicTranscripts:  cfg.TopicTranscripts,
		topicSpeakers:     cfg.TopicSpeakers,
		enabled:           true,
		metrics:           m,
	}
}

// PublishSessionStart appends the session_start entry. At most one entry
// is ever published per session; repeat calls are no-ops.
func (p *Publisher) PublishSessionStart(ctx context.Context, sess *models.Session) error {
	if !sess.MarkStartPublished() {
		log.Debug().Str("sessionId", sess.ID).Msg("session_start already published, skipping")
		return nil
	}
	ev := models.SessionStartEvent{
		Type:              "session_start",
		SessionID:         sess.ID,
		StartTimestampIso: time.Now().UTC().Format(time.RFC3339),
	}
	return p.publish(ctx, p.writerTranscripts, p.topicTranscripts, "session_start", sess.ID, ev)
}

// PublishSessionEnd appends the session_end entry. At most one entry is
// ever published per session; repeat calls are no-ops.
func (p *Publisher) PublishSessionEnd(ctx context.Context, sess *models.Session) error {
	if !sess.MarkEndPublished() {
		log.Debug().Str("sessionId", sess.ID).Msg("session_end already published, skipping")
		return nil
	}
	ev := models.SessionEndEvent{
		Type:            "session_end",
		SessionID:       sess.ID,
		EndTimestampIso: time.Now().UTC().Format(time.RFC3339),
	}
	return p.publish(ctx, p.writerTranscripts, p.topicTranscripts, "session_end", sess.ID, ev)
}

// PublishSegments appends a transcription entry carrying the segments.
func (p *Publisher) PublishSegments(ctx context.Context, sess *models.Session, segments []models.TranscriptSegment) error {
	if len(segments) == 0 {
		return nil
	}
	ev := models.TranscriptionEvent{
		Type:      "transcription",
		SessionID: sess.ID,
		Segments:  segments,
	}
	return p.publish(ctx, p.writerTranscripts, p.topicTranscripts, "transcription", sess.ID, ev)
}

// PublishSpeakerEvent appends a speaker transition to the speaker topic.
func (p *Publisher) PublishSpeakerEvent(ctx context.Context, sess *models.Session, ev models.SpeakerEvent) error {
	return p.publish(ctx, p.writerSpeakers, p.topicSpeakers, "speaker_event", sess.ID, ev)
}

// publish is the internal method that writes to a specific writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to stream, entry lost")
		p.metrics.RecordPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both stream writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerTranscripts != nil {
		if e := p.writerTranscripts.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing transcript writer")
			err = e
		}
	}
	if p.writerSpeakers != nil {
		if e := p.writerSpeakers.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing speaker writer")
			err = e
		}
	}
	return err
}
