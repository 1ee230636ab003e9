// Package stdin implements the fd-0 sample source: a poll(2)-driven
// reader paired with a self-pipe so Cancel can wake a blocked Read.
// Grounded on original_source/analyzer/source/impl/stdin.c, including
// its unsigned8/signed8/signed16 converters' divisor choice (255/65535
// rather than the full signed range), preserved bit-for-bit per the
// upstream behavior.
package stdin

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sys/unix"

	"github.com/skyloom-radio/sdrcore/source"
)

// converter turns raw bytes into complex64 samples, returning the
// number of complete samples it consumed.
type converter struct {
	sampleSize int
	convert    func(raw []byte, out []complex64) int
}

var converters = map[string]converter{
	"cf32": {sampleSize: 8, convert: convCF32},
	"f32":  {sampleSize: 4, convert: convF32},
	"cu8":  {sampleSize: 2, convert: convCU8},
	"u8":   {sampleSize: 1, convert: convU8},
	"cs8":  {sampleSize: 2, convert: convCS8},
	"s8":   {sampleSize: 1, convert: convS8},
	"cs16": {sampleSize: 4, convert: convCS16},
	"s16":  {sampleSize: 2, convert: convS16},
}

// Source reads raw samples from file descriptor 0.
type Source struct {
	sampRate  float64
	realtime  bool
	startTime time.Time

	conv converter

	cancelR, cancelW int
	cancelled        bool

	readBuf []byte
	readPtr int

	totalSamples uint64

	info source.Info
}

var _ source.Source = (*Source)(nil)
var _ source.TimeGetter = (*Source)(nil)

// Open constructs a stdin source. cfg.Path carries the format key (one
// of cf32/f32/cu8/u8/cs8/s8/cs16/s16); a "realtime" device-spec
// parameter of "true" makes Time() report wall-clock rather than
// samples-since-start.
func Open(cfg source.Config) (*Source, error) {
	format := cfg.Path
	c, ok := converters[format]
	if !ok {
		return nil, fmt.Errorf("stdin: unknown sample format %q", format)
	}

	var pipefds [2]int
	if err := unix.Pipe2(pipefds[:], unix.O_NONBLOCK); err != nil {
		return nil, fmt.Errorf("stdin: pipe2: %w", err)
	}

	realtime := false
	if cfg.DeviceSpec != nil && cfg.DeviceSpec.Params != nil {
		if v, ok := cfg.DeviceSpec.Params.Get("realtime"); ok {
			realtime = v == "true" || v == "1"
		}
	}

	s := &Source{
		sampRate:  cfg.SampRate,
		realtime:  realtime,
		startTime: cfg.StartTime,
		conv:      c,
		cancelR:   pipefds[0],
		cancelW:   pipefds[1],
	}

	s.info = source.Info{
		Permissions:       source.PermAll &^ source.PermSeek,
		SourceSampRate:    cfg.SampRate,
		EffectiveSampRate: cfg.SampRate,
		MeasuredSampRate:  cfg.SampRate,
		Timestamp:         time.Now(),
	}

	return s, nil
}

// Start is a no-op: the stdin source has no deferred setup.
func (s *Source) Start(ctx context.Context) error { return nil }

// Read polls fd 0 and the cancel pipe, converting complete samples as
// they arrive. Partial samples are carried over to the next call.
func (s *Source) Read(ctx context.Context, buf []complex64) (int, error) {
	if s.cancelled {
		return 0, nil
	}

	needed := len(buf) * s.conv.sampleSize
	if cap(s.readBuf) < needed {
		grown := make([]byte, len(s.readBuf), needed)
		copy(grown, s.readBuf)
		s.readBuf = grown
	}
	if len(s.readBuf) < needed {
		s.readBuf = s.readBuf[:needed]
	}

	for {
		fds := []unix.PollFd{
			{Fd: 0, Events: unix.POLLIN | unix.POLLERR | unix.POLLHUP},
			{Fd: int32(s.cancelR), Events: unix.POLLIN},
		}
		n, err := unix.Poll(fds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return 0, fmt.Errorf("stdin: poll: %w", err)
		}
		if n == 0 {
			continue
		}
		if fds[1].Revents&unix.POLLIN != 0 {
			s.cancelled = true
			return 0, nil
		}

		avail := len(s.readBuf) - s.readPtr
		if avail <= 0 {
			break
		}
		nread, err := unix.Read(0, s.readBuf[s.readPtr:])
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return 0, fmt.Errorf("stdin: read: %w", err)
		}
		if nread == 0 {
			return 0, nil
		}
		s.readPtr += nread

		if s.readPtr >= s.conv.sampleSize {
			readSize := s.readPtr / s.conv.sampleSize
			n := s.conv.convert(s.readBuf[:readSize*s.conv.sampleSize], buf)
			completePtr := readSize * s.conv.sampleSize
			if completePtr < s.readPtr {
				copy(s.readBuf, s.readBuf[completePtr:s.readPtr])
			}
			s.readPtr -= completePtr
			s.totalSamples += uint64(n)
			return n, nil
		}
	}
	return 0, nil
}

// Cancel marks the source cancelled and wakes a blocked Read via the
// self-pipe.
func (s *Source) Cancel() {
	s.cancelled = true
	var b [1]byte
	b[0] = 1
	_, _ = unix.Write(s.cancelW, b[:])
}

// Close releases the cancel pipe's file descriptors.
func (s *Source) Close() error {
	_ = unix.Close(s.cancelR)
	_ = unix.Close(s.cancelW)
	return nil
}

// Info returns the most recently computed source-info snapshot.
func (s *Source) Info() source.Info { return s.info }

// Time reports wall-clock time when the source was opened with
// realtime=true, or the capture-start time plus samples-elapsed
// otherwise.
func (s *Source) Time() time.Time {
	if s.realtime {
		return time.Now()
	}
	elapsed := time.Duration(float64(s.totalSamples) / s.sampRate * float64(time.Second))
	return s.startTime.Add(elapsed)
}

func convCF32(raw []byte, out []complex64) int {
	n := len(raw) / 8
	for i := 0; i < n; i++ {
		re := le32(raw[i*8:])
		im := le32(raw[i*8+4:])
		out[i] = complex(float32frombits(re), float32frombits(im))
	}
	return n
}

func convF32(raw []byte, out []complex64) int {
	n := len(raw) / 4
	for i := 0; i < n; i++ {
		out[i] = complex(float32frombits(le32(raw[i*4:])), 0)
	}
	return n
}

// convCU8, convU8, convCS8, and convS8 divide by 255, matching
// suscan_source_read_{complex_unsigned8,unsigned8,complex_signed8,
// signed8}'s literal divisor rather than the full signed/unsigned
// range.
func convCU8(raw []byte, out []complex64) int {
	n := len(raw) / 2
	for i := 0; i < n; i++ {
		re := float32(raw[2*i]) / 255
		im := float32(raw[2*i+1]) / 255
		out[i] = complex(re, im)
	}
	return n
}

func convU8(raw []byte, out []complex64) int {
	n := len(raw)
	for i := 0; i < n; i++ {
		out[i] = complex(float32(raw[i])/255, 0)
	}
	return n
}

func convCS8(raw []byte, out []complex64) int {
	n := len(raw) / 2
	for i := 0; i < n; i++ {
		re := float32(int8(raw[2*i])) / 255
		im := float32(int8(raw[2*i+1])) / 255
		out[i] = complex(re, im)
	}
	return n
}

func convS8(raw []byte, out []complex64) int {
	n := len(raw)
	for i := 0; i < n; i++ {
		out[i] = complex(float32(int8(raw[i]))/255, 0)
	}
	return n
}

// convCS16 and convS16 divide by 65535, matching
// suscan_source_read_{complex_signed16,signed16}'s literal divisor
// rather than the full int16 range (32768).
func convCS16(raw []byte, out []complex64) int {
	n := len(raw) / 4
	for i := 0; i < n; i++ {
		re := float32(int16(le16(raw[4*i:]))) / 65535
		im := float32(int16(le16(raw[4*i+2:]))) / 65535
		out[i] = complex(re, im)
	}
	return n
}

func convS16(raw []byte, out []complex64) int {
	n := len(raw) / 2
	for i := 0; i < n; i++ {
		out[i] = complex(float32(int16(le16(raw[2*i:])))/65535, 0)
	}
	return n
}

func le16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func float32frombits(b uint32) float32 {
	return math.Float32frombits(b)
}
