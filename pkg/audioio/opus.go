package audioio

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// maxOpusFrameSamples is 120 ms at 48 kHz, the largest frame opus allows.
const maxOpusFrameSamples = 5760

// OpusDecoder turns raw opus packets into PCM16 samples. The remote
// microphone backend streams opus over the dashboard websocket to keep the
// uplink small; everything past the decoder is raw PCM.
type OpusDecoder struct {
	dec        *opus.Decoder
	sampleRate int
	channels   int
	pcm        []int16
}

// NewOpusDecoder creates a decoder for the given output format.
func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audioio: create opus decoder: %w", err)
	}
	return &OpusDecoder{
		dec:        dec,
		sampleRate: sampleRate,
		channels:   channels,
		pcm:        make([]int16, maxOpusFrameSamples*channels),
	}, nil
}

// Decode decodes one opus packet into PCM16 samples.
func (d *OpusDecoder) Decode(packet []byte) ([]int16, error) {
	n, err := d.dec.Decode(packet, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("audioio: opus decode: %w", err)
	}
	out := make([]int16, n*d.channels)
	copy(out, d.pcm[:n*d.channels])
	return out, nil
}

// DecodeFrame decodes one opus packet into a playable Frame.
func (d *OpusDecoder) DecodeFrame(packet []byte) (Frame, error) {
	samples, err := d.Decode(packet)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Samples:    samples,
		SampleRate: d.sampleRate,
		Channels:   d.channels,
	}, nil
}
