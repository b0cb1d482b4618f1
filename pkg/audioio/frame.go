package audioio

import "time"

// Frame is one fixed-length block of PCM16 samples captured from or destined
// for an audio device. Frames are immutable once emitted by a Source; whoever
// holds a Frame in its queue owns it.
type Frame struct {
	// Samples contains PCM16 audio samples (little-endian, interleaved).
	Samples []int16

	// SampleRate is the sample rate of this frame in Hz.
	SampleRate int

	// Channels is the number of interleaved channels.
	Channels int

	// Timestamp is when the first sample of this frame was captured.
	Timestamp time.Time

	// Dropped marks a capture discontinuity: the device overran and audio
	// was lost immediately before this frame. Downstream VAD uses this to
	// reset its rolling window rather than misreading the gap as silence.
	Dropped bool
}

// Bytes returns the raw little-endian bytes of the frame.
func (f *Frame) Bytes() []byte {
	buf := make([]byte, len(f.Samples)*2)
	for i, s := range f.Samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return buf
}

// FromBytes populates the frame from raw PCM16 little-endian bytes.
func (f *Frame) FromBytes(data []byte, sampleRate, channels int) {
	f.SampleRate = sampleRate
	f.Channels = channels
	f.Samples = make([]int16, len(data)/2)
	for i := range f.Samples {
		f.Samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
}

// Duration returns the playback duration of this frame.
func (f *Frame) Duration() time.Duration {
	if f.SampleRate == 0 || f.Channels == 0 {
		return 0
	}
	samplesPerChannel := len(f.Samples) / f.Channels
	return time.Duration(float64(samplesPerChannel) / float64(f.SampleRate) * float64(time.Second))
}

// FramesFromPCM splits raw PCM16 bytes into frames of frameSamples samples per
// channel. The final frame may be shorter. Used to chunk synthesized audio for
// a Sink so playback can be interrupted between frames.
func FramesFromPCM(data []byte, sampleRate, channels, frameSamples int) []Frame {
	if frameSamples <= 0 || len(data) < 2 {
		return nil
	}
	step := frameSamples * channels * 2
	frames := make([]Frame, 0, len(data)/step+1)
	for off := 0; off < len(data); off += step {
		end := off + step
		if end > len(data) {
			end = len(data)
		}
		var f Frame
		f.FromBytes(data[off:end], sampleRate, channels)
		frames = append(frames, f)
	}
	return frames
}
