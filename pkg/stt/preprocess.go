package stt

import "math"

// Conditioning parameters applied to every segment before recognition.
// Raw mic captures carry a DC bias on some ALSA devices and vary wildly in
// level, both of which hurt whisper accuracy on quiet speakers.
const (
	normalizePeak = 0.9
	trimThreshold = 0.01
	trimPadMs     = 100
)

// Condition prepares raw capture samples for recognition: converts to
// float32, removes DC offset, normalizes the peak to 0.9, and trims leading
// and trailing silence with a small pad so word onsets survive.
func Condition(samples []int16, sampleRate int) []float32 {
	if len(samples) == 0 {
		return nil
	}

	out := make([]float32, len(samples))
	var sum float64
	for i, s := range samples {
		f := float64(s) / 32768.0
		out[i] = float32(f)
		sum += f
	}

	// DC offset removal.
	offset := float32(sum / float64(len(out)))
	var peak float32
	for i := range out {
		out[i] -= offset
		if a := abs32(out[i]); a > peak {
			peak = a
		}
	}

	// Peak normalization. Skip near-silent buffers to avoid amplifying noise.
	if peak > 1e-4 {
		gain := normalizePeak / peak
		for i := range out {
			out[i] *= gain
		}
	}

	return trimSilence(out, sampleRate)
}

// trimSilence drops leading and trailing samples below the trim threshold,
// keeping trimPadMs of context on each side.
func trimSilence(samples []float32, sampleRate int) []float32 {
	pad := sampleRate * trimPadMs / 1000

	start := 0
	for start < len(samples) && abs32(samples[start]) < trimThreshold {
		start++
	}
	if start == len(samples) {
		// All silence; return as-is and let recognition report empty text.
		return samples
	}
	end := len(samples)
	for end > start && abs32(samples[end-1]) < trimThreshold {
		end--
	}

	start = max(0, start-pad)
	end = min(len(samples), end+pad)
	return samples[start:end]
}

func abs32(f float32) float32 {
	return float32(math.Abs(float64(f)))
}
