// Package mock provides a scripted STT adapter for running the pipeline
// without cloud credentials. Results are delivered synchronously as audio
// arrives, which keeps tests deterministic.
package mock

import (
	"context"
	"sync"

	"meet-transcription-pipeline/internal/stt"
)

// Utterance is one scripted exchange: interim hypotheses followed by a
// final result carrying word time offsets.
type Utterance struct {
	Interims []string
	Final    stt.Result
}

// DefaultScript provides sample utterances for simulation.
var DefaultScript = []Utterance{
	{
		Interims: []string{"good", "good morning"},
		Final: stt.Result{
			IsFinal:    true,
			Transcript: "Good morning everyone",
			Confidence: 0.95,
			Words: []stt.WordInfo{
				{Text: "Good", StartSec: 0.2, EndSec: 0.5},
				{Text: "morning", StartSec: 0.5, EndSec: 0.9},
				{Text: "everyone", StartSec: 0.9, EndSec: 1.4},
			},
		},
	},
	{
		Interims: []string{"let's get"},
		Final: stt.Result{
			IsFinal:    true,
			Transcript: "Let's get started",
			Confidence: 0.92,
			Words: []stt.WordInfo{
				{Text: "Let's", StartSec: 2.1, EndSec: 2.4},
				{Text: "get", StartSec: 2.4, EndSec: 2.6},
				{Text: "started", StartSec: 2.6, EndSec: 3.1},
			},
		},
	},
}

// Adapter implements stt.Adapter with scripted responses. Each call to
// SendAudio advances the script by one step: first the interims of the
// current utterance, then its final.
type Adapter struct {
	mu        sync.Mutex
	cb        stt.Callback
	script    []Utterance
	utterance int
	step      int
	closed    bool
}

// New creates a mock adapter playing the given script, or DefaultScript
// when script is nil.
func New(script []Utterance) *Adapter {
	if script == nil {
		script = DefaultScript
	}
	return &Adapter{script: script}
}

// Factory returns an stt.Factory producing fresh adapters with the same
// script. Each reconnect replays from the top, like a new backend stream.
func Factory(script []Utterance) stt.Factory {
	return func(_ context.Context) (stt.Adapter, error) {
		return New(script), nil
	}
}

// Start begins the mock session.
func (a *Adapter) Start(_ context.Context, _ stt.StreamConfig, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cb = cb
	return nil
}

// SendAudio advances the script one step and delivers the next result
// inline on the caller's goroutine.
func (a *Adapter) SendAudio(_ context.Context, _ []byte) error {
	a.mu.Lock()
	if a.closed || a.cb == nil || a.utterance >= len(a.script) {
		a.mu.Unlock()
		return nil
	}

	utt := a.script[a.utterance]
	var res stt.Result
	if a.step < len(utt.Interims) {
		res = stt.Result{Transcript: utt.Interims[a.step]}
		a.step++
	} else {
		res = utt.Final
		a.utterance++
		a.step = 0
	}
	cb := a.cb
	a.mu.Unlock()

	cb.OnResult(res)
	return nil
}

// Close ends the mock session. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}
