//go:build opus

package rtp

import (
	"encoding/binary"
	"log"

	opus "gopkg.in/hraban/opus.v2"
)

// OpusEncoder wraps a libopus encoder instance. Grounded on
// opus_support.go's OpusEncoderWrapper: same two-field shape, same
// OPUS_APPLICATION_VOIP choice, same graceful-degrade-to-PCM behavior
// on encoder construction or per-frame encode failure.
type OpusEncoder struct {
	encoder *opus.Encoder
	enabled bool
}

// NewOpusEncoder constructs an Opus encoder when enabled is true,
// falling back to a disabled (PCM passthrough) encoder if libopus
// initialization fails.
func NewOpusEncoder(enabled bool, sampleRate, bitrate, complexity int) *OpusEncoder {
	w := &OpusEncoder{}
	if !enabled {
		return w
	}

	enc, err := opus.NewEncoder(sampleRate, 1, opus.Application(2049))
	if err != nil {
		log.Printf("rtp: opus encoding requested but failed to initialize: %v; falling back to PCM", err)
		return w
	}
	if bitrate > 0 {
		if err := enc.SetBitrate(bitrate); err != nil {
			log.Printf("rtp: failed to set opus bitrate: %v", err)
		}
	}
	if complexity > 0 {
		if err := enc.SetComplexity(complexity); err != nil {
			log.Printf("rtp: failed to set opus complexity: %v", err)
		}
	}

	w.encoder = enc
	w.enabled = true
	return w
}

// Encode converts a big-endian int16 PCM frame to Opus, or passes the
// frame through unchanged (format "pcm") when Opus is unavailable.
func (w *OpusEncoder) Encode(pcm []byte) (payload []byte, format string, err error) {
	if !w.enabled || w.encoder == nil {
		return pcm, "pcm", nil
	}

	numSamples := len(pcm) / 2
	samples := make([]int16, numSamples)
	for i := 0; i < numSamples; i++ {
		samples[i] = int16(binary.BigEndian.Uint16(pcm[i*2 : i*2+2]))
	}

	out := make([]byte, 4000)
	n, err := w.encoder.Encode(samples, out)
	if err != nil {
		log.Printf("rtp: opus encode error: %v; sending PCM for this frame", err)
		return pcm, "pcm", err
	}
	return out[:n], "opus", nil
}

// IsEnabled reports whether this encoder is actually producing Opus.
func (w *OpusEncoder) IsEnabled() bool { return w.enabled }
