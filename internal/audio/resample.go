// Package audio converts raw capture frames into the fixed-rate PCM the
// recognition backend expects.
package audio

import (
	"encoding/binary"
	"math"
)

// PcmChunk is a transient buffer of little-endian 16-bit signed mono
// samples at a known rate. It flows from the resampler to the session
// manager and is never retained.
type PcmChunk struct {
	Bytes        []byte
	SampleRateHz int
}

// DurationSec returns the chunk's play time in seconds.
func (c PcmChunk) DurationSec() float64 {
	if c.SampleRateHz <= 0 {
		return 0
	}
	return float64(len(c.Bytes)/2) / float64(c.SampleRateHz)
}

// Resample converts float samples at sourceRateHz into 16-bit PCM at
// targetRateHz using linear interpolation. The first and last input
// samples map exactly onto the output boundaries; interior samples are
// interpolated at fractional source index i*(inLen-1)/(outLen-1).
// Amplitudes are clamped to [-1, 1] before scaling. Empty input yields an
// empty chunk. Runs on every frame, so it allocates only the output buffer.
func Resample(samples []float32, sourceRateHz, targetRateHz int) PcmChunk {
	out := PcmChunk{SampleRateHz: targetRateHz}
	n := len(samples)
	if n == 0 || sourceRateHz <= 0 || targetRateHz <= 0 {
		return out
	}

	outLen := int(math.Round(float64(n) * float64(targetRateHz) / float64(sourceRateHz)))
	if outLen < 1 {
		outLen = 1
	}

	buf := make([]byte, outLen*2)
	if outLen == 1 {
		binary.LittleEndian.PutUint16(buf, uint16(pcm16(float64(samples[0]))))
		out.Bytes = buf
		return out
	}

	step := float64(n-1) / float64(outLen-1)
	for i := 0; i < outLen; i++ {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= n-1 {
			// Guards the last sample against float rounding so the
			// output boundary is the input boundary, exactly.
			idx = n - 1
			pos = float64(idx)
		}
		s := float64(samples[idx])
		if frac := pos - float64(idx); frac > 0 {
			s += (float64(samples[idx+1]) - s) * frac
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(pcm16(s)))
	}
	out.Bytes = buf
	return out
}

func pcm16(s float64) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(math.Round(s * 32767))
}
