package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"meet-transcription-pipeline/internal/observability/logging"
)

// WAV header is 44 bytes for standard PCM files.
const wavHeaderSize = 44

// frameIntervalMs is the cadence of frames the WAV source emits,
// simulating real-time capture.
const frameIntervalMs = 100

// WavSource reads a 16-bit PCM WAV file and emits it as audio frames at
// real-time cadence. Intended for local runs and integration testing
// without a live meeting.
type WavSource struct {
	path         string
	sampleRateHz int
	channels     int
	frames       chan AudioFrame
	observations chan SpeakerObservation
}

// NewWavSource opens and validates the WAV file. Only PCM 16-bit audio
// is supported; multi-channel files are downmixed to mono.
func NewWavSource(path string) (*WavSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%s is not a valid WAV file", path)
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	if audioFormat != 1 {
		return nil, fmt.Errorf("only PCM WAV is supported, got format %d", audioFormat)
	}
	if bitsPerSample != 16 {
		return nil, fmt.Errorf("only 16-bit PCM is supported, got %d bits", bitsPerSample)
	}
	if numChannels < 1 {
		return nil, fmt.Errorf("invalid channel count %d", numChannels)
	}

	return &WavSource{
		path:         path,
		sampleRateHz: int(sampleRate),
		channels:     int(numChannels),
		frames:       make(chan AudioFrame, 16),
		observations: make(chan SpeakerObservation),
	}, nil
}

// SampleRateHz returns the file's sample rate.
func (w *WavSource) SampleRateHz() int { return w.sampleRateHz }

// Frames implements Source.
func (w *WavSource) Frames() <-chan AudioFrame { return w.frames }

// Observations implements Source. A WAV file carries no speaker
// activity; the channel closes when streaming finishes.
func (w *WavSource) Observations() <-chan SpeakerObservation { return w.observations }

// Stream reads the file and emits frames until EOF or context
// cancellation, then closes both channels.
func (w *WavSource) Stream(ctx context.Context) error {
	logger := logging.WithComponent("wav-source")
	defer close(w.frames)
	defer close(w.observations)

	f, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(wavHeaderSize, io.SeekStart); err != nil {
		return fmt.Errorf("failed to skip WAV header: %w", err)
	}

	// One frame of interleaved int16 samples per cadence tick.
	samplesPerFrame := w.sampleRateHz * w.channels * frameIntervalMs / 1000
	buf := make([]byte, samplesPerFrame*2)
	startMs := time.Now().UnixMilli()

	ticker := time.NewTicker(frameIntervalMs * time.Millisecond)
	defer ticker.Stop()

	var frameCount int
	for {
		n, err := io.ReadFull(f, buf)
		if err == io.EOF {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return fmt.Errorf("failed to read audio: %w", err)
		}

		frame := AudioFrame{
			Samples:            w.decode(buf[:n]),
			SourceSampleRateHz: w.sampleRateHz,
			CaptureStartMs:     startMs,
		}
		select {
		case w.frames <- frame:
			frameCount++
		case <-ctx.Done():
			return ctx.Err()
		}
		if err == io.ErrUnexpectedEOF {
			break
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	logger.Info().
		Str("path", w.path).
		Int("frames", frameCount).
		Msg("Finished streaming WAV file")
	return nil
}

// decode converts little-endian int16 PCM to mono float32 samples,
// averaging channels when the file is not mono.
func (w *WavSource) decode(data []byte) []float32 {
	sampleCount := len(data) / 2 / w.channels
	out := make([]float32, 0, sampleCount)
	for i := 0; i < sampleCount; i++ {
		var sum float32
		for c := 0; c < w.channels; c++ {
			off := (i*w.channels + c) * 2
			s := int16(binary.LittleEndian.Uint16(data[off : off+2]))
			sum += float32(s) / 32768
		}
		out = append(out, sum/float32(w.channels))
	}
	return out
}
