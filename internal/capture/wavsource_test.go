package capture

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeWav writes a minimal PCM WAV file with the given int16 samples.
func writeWav(t *testing.T, sampleRate int, channels int, samples []int16) string {
	t.Helper()

	dataSize := len(samples) * 2
	buf := make([]byte, wavHeaderSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*channels*2))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(channels*2))
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[wavHeaderSize+i*2:], uint16(s))
	}

	path := filepath.Join(t.TempDir(), "test.wav")
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		t.Fatalf("failed to write WAV file: %v", err)
	}
	return path
}

func TestNewWavSource_ValidFile(t *testing.T) {
	path := writeWav(t, 8000, 1, make([]int16, 800))
	src, err := NewWavSource(path)
	if err != nil {
		t.Fatalf("NewWavSource failed: %v", err)
	}
	if src.SampleRateHz() != 8000 {
		t.Errorf("expected 8000Hz, got %d", src.SampleRateHz())
	}
}

func TestNewWavSource_Rejections(t *testing.T) {
	if _, err := NewWavSource("/nonexistent.wav"); err == nil {
		t.Error("expected error for missing file")
	}

	notWav := filepath.Join(t.TempDir(), "not.wav")
	if err := os.WriteFile(notWav, make([]byte, wavHeaderSize), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := NewWavSource(notWav); err == nil {
		t.Error("expected error for non-RIFF file")
	}
}

func TestWavSource_StreamsFrames(t *testing.T) {
	// 300ms of a constant half-amplitude signal at 8kHz.
	samples := make([]int16, 2400)
	for i := range samples {
		samples[i] = 16384
	}
	path := writeWav(t, 8000, 1, samples)

	src, err := NewWavSource(path)
	if err != nil {
		t.Fatalf("NewWavSource failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		if err := src.Stream(ctx); err != nil {
			t.Errorf("Stream failed: %v", err)
		}
	}()

	var total int
	var frames int
	for f := range src.Frames() {
		frames++
		total += len(f.Samples)
		if f.SourceSampleRateHz != 8000 {
			t.Errorf("expected 8000Hz frames, got %d", f.SourceSampleRateHz)
		}
		if f.CaptureStartMs == 0 {
			t.Error("expected a capture start timestamp")
		}
		for _, s := range f.Samples {
			if math.Abs(float64(s)-0.5) > 0.001 {
				t.Fatalf("expected ~0.5 amplitude, got %f", s)
			}
		}
	}

	if total != len(samples) {
		t.Errorf("expected %d samples total, got %d", len(samples), total)
	}
	if frames != 3 {
		t.Errorf("expected 3 frames of 100ms, got %d", frames)
	}

	// Observations channel closes when streaming finishes.
	if _, ok := <-src.Observations(); ok {
		t.Error("expected closed observations channel")
	}
}

func TestWavSource_StereoDownmix(t *testing.T) {
	// Left channel at +0.5, right at -0.5: the mono mix is silence.
	samples := make([]int16, 1600)
	for i := 0; i < len(samples); i += 2 {
		samples[i] = 16384
		samples[i+1] = -16384
	}
	path := writeWav(t, 8000, 2, samples)

	src, err := NewWavSource(path)
	if err != nil {
		t.Fatalf("NewWavSource failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		if err := src.Stream(ctx); err != nil {
			t.Errorf("Stream failed: %v", err)
		}
	}()

	var total int
	for f := range src.Frames() {
		total += len(f.Samples)
		for _, s := range f.Samples {
			if math.Abs(float64(s)) > 0.001 {
				t.Fatalf("expected silence after downmix, got %f", s)
			}
		}
	}
	if total != len(samples)/2 {
		t.Errorf("expected %d mono samples, got %d", len(samples)/2, total)
	}
}

func TestChanSource(t *testing.T) {
	src := NewChanSource(4)

	src.PushFrame(AudioFrame{Samples: []float32{0.1}, SourceSampleRateHz: 16000})
	src.PushObservation(SpeakerObservation{ParticipantID: "p1", Active: true})
	src.Close()

	f, ok := <-src.Frames()
	if !ok || len(f.Samples) != 1 {
		t.Errorf("expected one frame, got ok=%v frame=%+v", ok, f)
	}
	if _, ok := <-src.Frames(); ok {
		t.Error("expected closed frame channel")
	}

	o, ok := <-src.Observations()
	if !ok || o.ParticipantID != "p1" {
		t.Errorf("expected one observation, got ok=%v obs=%+v", ok, o)
	}
	if _, ok := <-src.Observations(); ok {
		t.Error("expected closed observation channel")
	}
}
