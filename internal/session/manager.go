// Package session owns the single live backend recognition stream:
// connect, send, reconfigure, reconnect-on-failure, shutdown.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"meet-transcription-pipeline/internal/audio"
	"meet-transcription-pipeline/internal/models"
	"meet-transcription-pipeline/internal/observability/logging"
	"meet-transcription-pipeline/internal/observability/metrics"
	"meet-transcription-pipeline/internal/stt"
)

// State is the lifecycle state of the session manager.
type State int

const (
	// StateUninitialized - no stream has been established yet, or a
	// configuration error left the manager without one.
	StateUninitialized State = iota
	// StateConnecting - a backend stream is being established.
	StateConnecting
	// StateStreaming - a backend stream is live and accepting audio.
	StateStreaming
	// StateError - the stream failed; a reconnect will follow.
	StateError
	// StateEnded - the backend ended the stream; a reconnect will follow.
	StateEnded
	// StateReconnecting - a restart cycle is tearing down and reconnecting.
	StateReconnecting
	// StateClosed - explicit shutdown. Terminal.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateError:
		return "ERROR"
	case StateEnded:
		return "ENDED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ErrManagerClosed is returned by operations after Shutdown.
var ErrManagerClosed = errors.New("session manager is closed")

// Config holds the manager's stream configuration and timing policy.
type Config struct {
	Language       string
	Task           models.Task
	SampleRateHz   int
	InterimResults bool

	// ConnectTimeout bounds each connect attempt; ReconnectDelay spaces
	// consecutive attempts of one reconnect cycle.
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
}

// streamConfig is the mutable part of Config, guarded by the mutex.
type streamConfig struct {
	language       string
	task           models.Task
	sampleRateHz   int
	interimResults bool
}

// Manager owns at most one live backend stream at a time. All state
// transitions happen under one mutex; an in-flight restart suppresses
// overlapping restart triggers so two streams can never coexist.
type Manager struct {
	factory  stt.Factory
	onResult func(res stt.Result)
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	connectTimeout time.Duration
	reconnectDelay time.Duration

	// ctx bounds the lifetime of every stream the manager opens.
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	cfg          streamConfig
	adapter      stt.Adapter
	streamCancel context.CancelFunc
	gen          uint64
	restarting   bool
	reconnects   uint64
}

// NewManager creates a manager in UNINITIALIZED state. onResult receives
// every recognition result from whichever stream is currently live.
func NewManager(factory stt.Factory, cfg Config, onResult func(res stt.Result)) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		factory:        factory,
		onResult:       onResult,
		metrics:        metrics.DefaultMetrics,
		logger:         logging.WithComponent("session-manager"),
		connectTimeout: cfg.ConnectTimeout,
		reconnectDelay: cfg.ReconnectDelay,
		ctx:            ctx,
		cancel:         cancel,
		state:          StateUninitialized,
		cfg: streamConfig{
			language:       cfg.Language,
			task:           cfg.Task,
			sampleRateHz:   cfg.SampleRateHz,
			interimResults: cfg.InterimResults,
		},
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reconnects returns the number of reconnect cycles entered so far.
func (m *Manager) Reconnects() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnects
}

// Configure applies a language/task change. A no-op when nothing changed;
// otherwise the live stream is torn down and re-established with the new
// configuration. Not permitted after Shutdown.
func (m *Manager) Configure(language string, task models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		return ErrManagerClosed
	}
	if language == m.cfg.language && task == m.cfg.task {
		return nil
	}
	m.cfg.language = language
	m.cfg.task = task

	// Nothing live yet, or a restart already in flight: the new values
	// are picked up when that connect happens.
	if m.state == StateUninitialized || m.restarting {
		return nil
	}
	return m.restartLocked("configuration change")
}

// Send transmits one PCM chunk. A sample-rate change forces a restart at
// the new rate before transmitting. With no live stream, Send connects
// lazily. Transient failures are logged and absorbed (the chunk is
// dropped, never queued); only unrecoverable configuration errors are
// returned.
func (m *Manager) Send(ctx context.Context, chunk audio.PcmChunk) error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.restarting {
		m.mu.Unlock()
		m.metrics.RecordChunkDropped("restarting")
		return nil
	}

	if chunk.SampleRateHz != m.cfg.sampleRateHz {
		m.cfg.sampleRateHz = chunk.SampleRateHz
		if m.state == StateStreaming {
			if err := m.restartLocked("sample rate change"); err != nil {
				fatal := isConfigError(err)
				m.mu.Unlock()
				m.metrics.RecordChunkDropped("reconnect_failed")
				if fatal {
					return err
				}
				return nil
			}
		}
	}

	if m.state != StateStreaming {
		if err := m.connectLocked(); err != nil {
			fatal := isConfigError(err)
			if fatal {
				m.state = StateUninitialized
			}
			m.mu.Unlock()
			m.metrics.RecordChunkDropped("connect_failed")
			m.logger.Warn().Err(err).Msg("Lazy connect failed, dropping chunk")
			if fatal {
				return err
			}
			return nil
		}
	}
	adapter := m.adapter
	m.mu.Unlock()

	// Writes get the same bound as connects: a stalled transport surfaces
	// as a send failure and takes the reconnect path instead of wedging
	// the caller.
	sendCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	err := adapter.SendAudio(sendCtx, chunk.Bytes)
	cancel()
	if err != nil {
		m.logger.Warn().Err(err).Msg("Backend rejected audio chunk")
		m.metrics.RecordChunkDropped("send_failed")
		m.sendFailed()
		return nil
	}
	m.metrics.RecordChunkSent(len(chunk.Bytes))
	return nil
}

// Shutdown closes the live stream and releases the backend connection.
// Terminal and idempotent. The lifetime context is cancelled before the
// mutex is taken so an in-flight connect attempt unblocks instead of
// making shutdown wait for it.
func (m *Manager) Shutdown() {
	m.cancel()

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.state = StateClosed
	m.teardownLocked()
	m.mu.Unlock()

	m.logger.Info().Msg("Session manager closed")
}

// restartLocked runs one synchronous reconnect cycle under the mutex:
// tear down, reconnect with the current configuration. The restarting
// flag coalesces any triggers that arrive meanwhile.
func (m *Manager) restartLocked(reason string) error {
	m.restarting = true
	m.teardownLocked()
	m.state = StateReconnecting
	m.reconnects++
	m.metrics.RecordReconnect()
	m.logger.Info().Str("reason", reason).Msg("Restarting backend stream")

	err := m.connectLocked()
	m.restarting = false
	if err != nil {
		if isConfigError(err) {
			m.state = StateUninitialized
		}
		m.logger.Warn().Err(err).Msg("Restart failed")
	}
	return err
}

// connectOutcome is the result of one stream establishment attempt.
type connectOutcome struct {
	adapter stt.Adapter
	err     error
}

// connectLocked establishes a fresh stream, waiting at most the connect
// timeout. Callers hold the mutex and have verified the manager is not
// closed. The whole establishment (factory plus stream start) runs in a
// goroutine under a per-stream context: an attempt that outlives the
// timeout, or the manager itself, is cancelled and abandoned instead of
// holding the mutex hostage.
func (m *Manager) connectLocked() error {
	m.state = StateConnecting
	m.gen++

	streamCtx, streamCancel := context.WithCancel(m.ctx)
	cb := &streamCallback{m: m, gen: m.gen}
	cfg := stt.StreamConfig{
		LanguageCode:   m.cfg.language,
		SampleRateHz:   m.cfg.sampleRateHz,
		InterimResults: m.cfg.interimResults,
	}

	done := make(chan connectOutcome, 1)
	go func() {
		adapter, err := m.factory(streamCtx)
		if err != nil {
			done <- connectOutcome{err: err}
			return
		}
		if err := adapter.Start(streamCtx, cfg, cb); err != nil {
			_ = adapter.Close()
			done <- connectOutcome{err: err}
			return
		}
		done <- connectOutcome{adapter: adapter}
	}()

	timer := time.NewTimer(m.connectTimeout)
	defer timer.Stop()

	var out connectOutcome
	select {
	case out = <-done:
	case <-timer.C:
		streamCancel()
		m.gen++
		go discardOutcome(done)
		m.state = StateError
		m.metrics.RecordConnectFailure("timeout")
		return fmt.Errorf("backend stream establishment timed out after %s", m.connectTimeout)
	case <-m.ctx.Done():
		streamCancel()
		m.gen++
		go discardOutcome(done)
		m.state = StateError
		return m.ctx.Err()
	}

	if out.err != nil {
		streamCancel()
		m.state = StateError
		m.metrics.RecordConnectFailure(failureKind(out.err))
		return out.err
	}

	m.adapter = out.adapter
	m.streamCancel = streamCancel
	m.state = StateStreaming
	m.logger.Info().
		Str("language", m.cfg.language).
		Int("sampleRateHz", m.cfg.sampleRateHz).
		Msg("Backend stream established")
	return nil
}

// discardOutcome cleans up after an abandoned connect attempt when it
// eventually finishes.
func discardOutcome(done <-chan connectOutcome) {
	if out := <-done; out.adapter != nil {
		_ = out.adapter.Close()
	}
}

// teardownLocked closes the current adapter, cancels its stream context
// and invalidates callbacks from its stream.
func (m *Manager) teardownLocked() {
	if m.adapter != nil {
		_ = m.adapter.Close()
		m.adapter = nil
	}
	if m.streamCancel != nil {
		m.streamCancel()
		m.streamCancel = nil
	}
	m.gen++
}

func (m *Manager) sendFailed() {
	m.mu.Lock()
	if m.state == StateClosed || m.restarting {
		m.mu.Unlock()
		return
	}
	m.state = StateError
	m.mu.Unlock()
	m.triggerRestart("send failure")
}

// streamAborted handles a backend-reported error or end-of-stream from
// the stream identified by gen. Stale streams are ignored.
func (m *Manager) streamAborted(gen uint64, err error) {
	m.mu.Lock()
	if m.state == StateClosed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.state = StateError
		m.metrics.RecordStreamError()
		m.logger.Warn().Err(err).Msg("Backend stream error")
	} else {
		m.state = StateEnded
		m.logger.Info().Msg("Backend ended stream")
	}
	m.mu.Unlock()

	m.triggerRestart("stream aborted")
}

// triggerRestart starts one asynchronous reconnect cycle unless the
// manager is closed or a restart is already in flight.
func (m *Manager) triggerRestart(reason string) {
	m.mu.Lock()
	if m.state == StateClosed || m.restarting {
		m.mu.Unlock()
		return
	}
	m.restarting = true
	m.state = StateReconnecting
	m.reconnects++
	m.metrics.RecordReconnect()
	m.mu.Unlock()

	go m.restartLoop(reason)
}

// restartLoop reconnects until a stream is live again, spacing attempts
// by the reconnect delay. Each failed attempt triggers exactly one fresh
// attempt as long as the manager is not closed. A configuration error
// stops the loop: retrying cannot fix it.
func (m *Manager) restartLoop(reason string) {
	m.logger.Info().Str("reason", reason).Msg("Reconnecting backend stream")
	for {
		m.mu.Lock()
		if m.state == StateClosed {
			m.restarting = false
			m.mu.Unlock()
			return
		}
		m.teardownLocked()
		m.state = StateReconnecting
		err := m.connectLocked()
		if err == nil {
			m.restarting = false
			m.mu.Unlock()
			return
		}
		if isConfigError(err) {
			m.state = StateUninitialized
			m.restarting = false
			m.mu.Unlock()
			m.logger.Error().Err(err).Msg("Configuration error, abandoning reconnect")
			return
		}
		m.mu.Unlock()

		m.logger.Warn().Err(err).Dur("retryIn", m.reconnectDelay).Msg("Reconnect attempt failed")
		select {
		case <-m.ctx.Done():
			m.mu.Lock()
			m.restarting = false
			m.mu.Unlock()
			return
		case <-time.After(m.reconnectDelay):
		}
	}
}

// streamCallback forwards stream events to the manager, tagged with the
// stream generation so callbacks from torn-down streams are discarded.
type streamCallback struct {
	m   *Manager
	gen uint64
}

func (c *streamCallback) OnResult(res stt.Result) {
	c.m.mu.Lock()
	stale := c.m.state == StateClosed || c.gen != c.m.gen
	c.m.mu.Unlock()
	if stale {
		return
	}
	c.m.metrics.RecordResult(res.IsFinal)
	c.m.onResult(res)
}

func (c *streamCallback) OnStreamEnd() {
	c.m.streamAborted(c.gen, nil)
}

func (c *streamCallback) OnStreamError(err error) {
	c.m.streamAborted(c.gen, err)
}

// isConfigError reports whether err is an unrecoverable configuration
// error (bad credentials, rejected recognition config) rather than a
// transient transport failure.
func isConfigError(err error) bool {
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied,
		codes.InvalidArgument, codes.FailedPrecondition:
		return true
	default:
		return false
	}
}

func failureKind(err error) string {
	if isConfigError(err) {
		return "config"
	}
	return "transient"
}
