// Package segment reconciles raw recognition results into time-aligned
// transcript segments with a monotonic watermark.
package segment

import (
	"strings"

	"meet-transcription-pipeline/internal/models"
	"meet-transcription-pipeline/internal/stt"
)

// Builder turns final recognition results into transcript segments.
// The watermark is the maximum EndSec published so far for the session;
// segment times never regress below it, even when the backend delivers
// out-of-order or missing timing data.
//
// Not safe for concurrent use: the builder is owned by the pipeline
// coordinator, which serializes all result handling.
type Builder struct {
	language  string
	watermark float64
}

// NewBuilder creates a builder for a session in the given language.
func NewBuilder(language string) *Builder {
	return &Builder{language: language}
}

// SetLanguage updates the language stamped onto subsequent segments.
func (b *Builder) SetLanguage(language string) {
	b.language = language
}

// Watermark returns the maximum EndSec published so far.
func (b *Builder) Watermark() float64 {
	return b.watermark
}

// OnResult computes a segment from a final result, or nil when the result
// is interim or its transcript is empty. Timing derivation, in priority
// order: word-level timestamps, then the result-level end offset, then a
// zero-duration segment at the watermark. Start and end are clamped so
// the watermark never regresses.
func (b *Builder) OnResult(res stt.Result) *models.TranscriptSegment {
	if !res.IsFinal {
		return nil
	}
	text := strings.TrimSpace(res.Transcript)
	if text == "" {
		return nil
	}

	start, end := b.watermark, b.watermark
	if len(res.Words) > 0 {
		start = res.Words[0].StartSec
		end = res.Words[len(res.Words)-1].EndSec
	} else if res.EndOffsetSec > 0 {
		end = res.EndOffsetSec
	}

	if start < b.watermark {
		start = b.watermark
	}
	if end < start {
		end = start
	}
	b.watermark = end

	return &models.TranscriptSegment{
		Text:       text,
		StartSec:   start,
		EndSec:     end,
		Confidence: res.Confidence,
		Language:   b.language,
		Completed:  true,
	}
}
