//go:build !opus

package rtp

import "log"

// OpusEncoder is the stub variant compiled when libopus isn't
// available: it always passes PCM through unchanged. Mirrors
// opus_stub.go exactly.
type OpusEncoder struct {
	enabled bool
}

// NewOpusEncoder logs a one-time warning if Opus was requested but
// this build lacks libopus support, then returns a disabled encoder.
func NewOpusEncoder(enabled bool, sampleRate, bitrate, complexity int) *OpusEncoder {
	if enabled {
		log.Printf("rtp: opus encoding requested but not compiled in (build with -tags opus); falling back to PCM")
	}
	return &OpusEncoder{}
}

// Encode always returns the PCM frame unchanged.
func (w *OpusEncoder) Encode(pcm []byte) (payload []byte, format string, err error) {
	return pcm, "pcm", nil
}

// IsEnabled always reports false in the stub build.
func (w *OpusEncoder) IsEnabled() bool { return false }
