// Package pipeline wires capture, resampling, recognition, segment
// building and event publication together, and owns the session identity.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"meet-transcription-pipeline/internal/audio"
	"meet-transcription-pipeline/internal/capture"
	"meet-transcription-pipeline/internal/config"
	"meet-transcription-pipeline/internal/events"
	"meet-transcription-pipeline/internal/models"
	"meet-transcription-pipeline/internal/observability/logging"
	"meet-transcription-pipeline/internal/observability/metrics"
	"meet-transcription-pipeline/internal/segment"
	"meet-transcription-pipeline/internal/session"
	"meet-transcription-pipeline/internal/speaker"
	"meet-transcription-pipeline/internal/stt"
)

// Config holds pipeline settings.
type Config struct {
	Language           string
	Task               models.Task
	TargetSampleRateHz int
	InterimResults     bool
	ConnectTimeout     time.Duration
	ReconnectDelay     time.Duration
	PublishTimeout     time.Duration
	CommandBuffer      int
}

type cmdKind int

const (
	cmdResult cmdKind = iota
	cmdConfigure
	cmdControl
)

type command struct {
	kind     cmdKind
	result   stt.Result
	language string
	task     models.Task
	token    string
}

// Pipeline is the coordinator. A single run loop processes audio frames,
// recognition results, speaker observations, configuration updates and
// control signals one at a time, so no shared session or watermark state
// is ever touched from two handlers at once.
type Pipeline struct {
	cfg       Config
	sess      *models.Session
	manager   *session.Manager
	builder   *segment.Builder
	tracker   *speaker.Tracker
	publisher *events.Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	cmds     chan command
	quit     chan struct{}
	started  atomic.Bool
	loopDone chan struct{}
	shutdown sync.Once
}

// New creates a pipeline with a fresh session. The factory is invoked by
// the session manager for every backend stream it opens.
func New(cfg Config, factory stt.Factory, publisher *events.Publisher) *Pipeline {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.CommandBuffer < 1 {
		cfg.CommandBuffer = 256
	}

	sess := models.NewSession(cfg.Language, cfg.Task, cfg.TargetSampleRateHz)
	p := &Pipeline{
		cfg:       cfg,
		sess:      sess,
		builder:   segment.NewBuilder(cfg.Language),
		tracker:   speaker.NewTracker(),
		publisher: publisher,
		metrics:   metrics.DefaultMetrics,
		logger:    logging.WithSession("pipeline", sess.ID),
		cmds:      make(chan command, cfg.CommandBuffer),
		quit:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	p.manager = session.NewManager(factory, session.Config{
		Language:       cfg.Language,
		Task:           cfg.Task,
		SampleRateHz:   cfg.TargetSampleRateHz,
		InterimResults: cfg.InterimResults,
		ConnectTimeout: cfg.ConnectTimeout,
		ReconnectDelay: cfg.ReconnectDelay,
	}, p.enqueueResult)
	return p
}

// Session returns the pipeline's session.
func (p *Pipeline) Session() *models.Session { return p.sess }

// Manager returns the recognition session manager.
func (p *Pipeline) Manager() *session.Manager { return p.manager }

// Run publishes session_start and processes the capture source until the
// context is cancelled or Shutdown is called. The source's channels may
// close earlier; the loop keeps serving results and commands regardless.
func (p *Pipeline) Run(ctx context.Context, src capture.Source) error {
	p.started.Store(true)
	defer close(p.loopDone)

	p.logger.Info().
		Str("language", p.sess.Language).
		Str("task", string(p.sess.Task)).
		Msg("Pipeline starting")
	if err := p.publishSessionStart(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("session_start publish failed, entry dropped")
	}

	frames := src.Frames()
	observations := src.Observations()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.quit:
			return nil
		case f, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			p.handleFrame(ctx, f)
		case o, ok := <-observations:
			if !ok {
				observations = nil
				continue
			}
			p.handleObservation(ctx, o)
		case c := <-p.cmds:
			p.handleCommand(ctx, c)
		}
	}
}

// UpdateConfig requests a language/task change. Empty values leave the
// current setting untouched. Validation errors are returned to the
// caller; a change that matches the live configuration triggers nothing.
func (p *Pipeline) UpdateConfig(language, task string) error {
	if language != "" {
		if err := config.ValidateLanguage(language); err != nil {
			return err
		}
	}
	var t models.Task
	if task != "" {
		normalized, err := config.NormalizeTask(task)
		if err != nil {
			return err
		}
		t = normalized
	}
	p.enqueue(command{kind: cmdConfigure, language: language, task: t})
	return nil
}

// Control delivers a session control token ("leaving", "end").
func (p *Pipeline) Control(token string) {
	p.enqueue(command{kind: cmdControl, token: token})
}

// Shutdown stops the run loop, closes the recognition session and
// publishes session_end exactly once. Idempotent. Buffers are not
// drained: audio still in flight at shutdown is lost.
func (p *Pipeline) Shutdown(ctx context.Context) {
	p.shutdown.Do(func() {
		close(p.quit)
		if p.started.Load() {
			select {
			case <-p.loopDone:
			case <-ctx.Done():
			}
		}

		p.manager.Shutdown()

		pubCtx, cancel := context.WithTimeout(context.Background(), p.cfg.PublishTimeout)
		defer cancel()
		if err := p.publisher.PublishSessionEnd(pubCtx, p.sess); err != nil {
			p.logger.Warn().Err(err).Msg("session_end publish failed, entry dropped")
		}
		p.logger.Info().Msg("Pipeline shut down")
	})
}

// enqueueResult feeds recognition results from the session manager's
// stream goroutine into the run loop.
func (p *Pipeline) enqueueResult(res stt.Result) {
	p.enqueue(command{kind: cmdResult, result: res})
}

// enqueue never blocks: a full queue drops the command to bound memory.
func (p *Pipeline) enqueue(c command) {
	select {
	case p.cmds <- c:
	default:
		p.logger.Warn().Int("kind", int(c.kind)).Msg("Command queue full, dropping")
	}
}

func (p *Pipeline) handleCommand(ctx context.Context, c command) {
	switch c.kind {
	case cmdResult:
		p.handleResult(ctx, c.result)
	case cmdConfigure:
		p.handleConfigure(c.language, c.task)
	case cmdControl:
		p.handleControl(ctx, c.token)
	}
}

func (p *Pipeline) handleFrame(ctx context.Context, f capture.AudioFrame) {
	p.metrics.RecordFrame(len(f.Samples))
	if len(f.Samples) == 0 {
		return
	}

	if !p.tracker.AnchorSet() {
		anchor := time.Now()
		if f.CaptureStartMs > 0 {
			anchor = time.UnixMilli(f.CaptureStartMs)
		}
		p.tracker.SetAnchor(anchor)
		p.logger.Info().Time("anchor", anchor).Msg("Audio anchor established")
	}

	chunk := audio.Resample(f.Samples, f.SourceSampleRateHz, p.cfg.TargetSampleRateHz)
	if len(chunk.Bytes) == 0 {
		return
	}
	if err := p.manager.Send(ctx, chunk); err != nil {
		// Only unrecoverable configuration errors surface here.
		p.logger.Error().Err(err).Msg("Recognition backend unusable")
	}
}

func (p *Pipeline) handleResult(ctx context.Context, res stt.Result) {
	if !res.IsFinal {
		p.logger.Debug().Str("transcript", res.Transcript).Msg("Interim result discarded")
		return
	}
	seg := p.builder.OnResult(res)
	if seg == nil {
		return
	}
	p.metrics.RecordSegment(p.builder.Watermark())

	pubCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()
	if err := p.publisher.PublishSegments(pubCtx, p.sess, []models.TranscriptSegment{*seg}); err != nil {
		p.logger.Warn().Err(err).Msg("Segment publish failed, entry dropped")
	}
}

func (p *Pipeline) handleObservation(ctx context.Context, o capture.SpeakerObservation) {
	ev := p.tracker.Observe(o)
	if ev == nil {
		return
	}
	p.metrics.RecordSpeakerEvent(string(ev.EventType))

	pubCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()
	if err := p.publisher.PublishSpeakerEvent(pubCtx, p.sess, *ev); err != nil {
		p.logger.Warn().Err(err).Msg("Speaker event publish failed, entry dropped")
	}
}

func (p *Pipeline) handleConfigure(language string, task models.Task) {
	if language == "" {
		language = p.sess.Language
	}
	if task == "" {
		task = p.sess.Task
	}
	if language == p.sess.Language && task == p.sess.Task {
		return
	}

	p.sess.Language = language
	p.sess.Task = task
	p.builder.SetLanguage(language)
	if err := p.manager.Configure(language, task); err != nil {
		p.logger.Error().Err(err).Msg("Reconfigure failed")
	}
}

func (p *Pipeline) handleControl(ctx context.Context, token string) {
	switch token {
	case "leaving", "end":
		pubCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
		defer cancel()
		if err := p.publisher.PublishSessionEnd(pubCtx, p.sess); err != nil {
			p.logger.Warn().Err(err).Msg("session_end publish failed, entry dropped")
		}
	default:
		p.logger.Warn().Str("token", token).Msg("Unknown control token ignored")
	}
}

func (p *Pipeline) publishSessionStart(ctx context.Context) error {
	pubCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()
	return p.publisher.PublishSessionStart(pubCtx, p.sess)
}
