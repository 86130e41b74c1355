// Package models defines the data structures shared across the pipeline.
package models

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Task identifies what the recognition backend should do with the audio.
type Task string

// TaskTranscribe is the only task the pipeline performs. Requests for
// "translate" are normalized to it at the configuration boundary.
const TaskTranscribe Task = "transcribe"

// Session represents one continuous recording/recognition attempt.
// It is created once per attempt and owned exclusively by the pipeline
// coordinator. The lifecycle publish flags live here so that the
// at-most-once guarantee for session_start/session_end is part of the
// session's own state rather than booleans scattered across components.
type Session struct {
	ID           string
	Language     string
	Task         Task
	SampleRateHz int

	startPublished atomic.Bool
	endPublished   atomic.Bool
}

// NewSession creates a session with a fresh unique identifier.
func NewSession(language string, task Task, sampleRateHz int) *Session {
	return &Session{
		ID:           uuid.NewString(),
		Language:     language,
		Task:         task,
		SampleRateHz: sampleRateHz,
	}
}

// MarkStartPublished claims the one session_start publication.
// Returns true exactly once per session.
func (s *Session) MarkStartPublished() bool {
	return s.startPublished.CompareAndSwap(false, true)
}

// MarkEndPublished claims the one session_end publication.
// Returns true exactly once per session.
func (s *Session) MarkEndPublished() bool {
	return s.endPublished.CompareAndSwap(false, true)
}

// StartPublished reports whether session_start has been claimed.
func (s *Session) StartPublished() bool {
	return s.startPublished.Load()
}

// EndPublished reports whether session_end has been claimed.
func (s *Session) EndPublished() bool {
	return s.endPublished.Load()
}
