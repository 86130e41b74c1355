// Package stt defines the streaming contract for speech-to-text backends.
// The backend's recognition algorithm is opaque; only this contract matters.
package stt

import "context"

// WordInfo is a word-level timestamp inside a recognition result.
type WordInfo struct {
	Text     string
	StartSec float64
	EndSec   float64
}

// Result is one recognition hypothesis from the backend. Interim results
// (IsFinal false) are provisional and are discarded downstream.
type Result struct {
	IsFinal    bool
	Transcript string
	Confidence float64
	// EndOffsetSec is the result-level end offset from stream start, or 0
	// when the backend did not report one.
	EndOffsetSec float64
	Words        []WordInfo
}

// Callback receives results and stream-termination signals from a live
// backend stream. Errors and backend-initiated end-of-stream are distinct
// conditions; both are recoverable by reconnecting.
type Callback interface {
	OnResult(res Result)
	OnStreamEnd()
	OnStreamError(err error)
}

// StreamConfig is the per-stream recognition configuration.
type StreamConfig struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
}

// Adapter is one live streaming session against an STT backend.
// Start opens the stream and begins delivering results to cb from a
// separate goroutine; SendAudio transmits 16-bit PCM; Close releases the
// stream and stops deliveries.
type Adapter interface {
	Start(ctx context.Context, cfg StreamConfig, cb Callback) error
	SendAudio(ctx context.Context, audio []byte) error
	Close() error
}

// Factory creates a fresh adapter for each backend stream. The session
// manager calls it on every connect and reconnect.
type Factory func(ctx context.Context) (Adapter, error)
