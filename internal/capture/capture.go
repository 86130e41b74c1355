// Package capture defines the typed boundary between the pipeline and the
// host environment that records the meeting. The host pushes raw audio
// frames and speaker-activity observations through channels; the pipeline
// never knows how they were obtained.
package capture

// AudioFrame is one burst of raw audio from the capture collaborator.
// Samples are float amplitudes in [-1, 1] at the frame's true source rate.
// Frames arrive at irregular intervals and are consumed exactly once.
type AudioFrame struct {
	Samples            []float32
	SourceSampleRateHz int
	// CaptureStartMs is the wall-clock Unix millisecond timestamp of the
	// first sample, or 0 when the host could not establish one.
	CaptureStartMs int64
}

// SpeakerObservation is one sample of a participant's activity indicator.
type SpeakerObservation struct {
	ParticipantID   string
	ParticipantName string
	Active          bool
}

// Source is the subscription interface a capture host implements.
// Both channels are closed by the host when capture ends.
type Source interface {
	Frames() <-chan AudioFrame
	Observations() <-chan SpeakerObservation
}

// ChanSource is a Source backed by plain channels, for hosts that push
// values directly (and for tests).
type ChanSource struct {
	frames chan AudioFrame
	obs    chan SpeakerObservation
}

// NewChanSource creates a ChanSource with the given channel capacity.
func NewChanSource(buffer int) *ChanSource {
	return &ChanSource{
		frames: make(chan AudioFrame, buffer),
		obs:    make(chan SpeakerObservation, buffer),
	}
}

// Frames returns the audio frame channel.
func (s *ChanSource) Frames() <-chan AudioFrame { return s.frames }

// Observations returns the speaker observation channel.
func (s *ChanSource) Observations() <-chan SpeakerObservation { return s.obs }

// PushFrame delivers a frame to the pipeline.
func (s *ChanSource) PushFrame(f AudioFrame) { s.frames <- f }

// PushObservation delivers a speaker observation to the pipeline.
func (s *ChanSource) PushObservation(o SpeakerObservation) { s.obs <- o }

// Close closes both channels. The source must not be pushed to afterwards.
func (s *ChanSource) Close() {
	close(s.frames)
	close(s.obs)
}
