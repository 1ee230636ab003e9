// Package tonegen implements the tone-generator-plus-AWGN source
// variant: a throttled complex sinusoid within ±half the sample rate of
// its initial frequency, pure noise outside that band. Grounded on
// original_source/analyzer/source/impl/tonegen.c.
package tonegen

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skyloom-radio/sdrcore/source"
)

const (
	defaultSignalAmplitudeDB = -6.0206 // magRaw(-6.0206dB) ≈ 0.5, matching tonegen.c's 5e-1 default
	defaultNoiseAmplitudeDB  = -46.0206
)

// magRaw converts a decibel magnitude to a raw linear amplitude.
func magRaw(db float64) float64 {
	return math.Pow(10, db/20)
}

// Source is the tone-generator-plus-AWGN producer.
type Source struct {
	sampRate float64
	initFreq float64

	signalAmplitude float64
	noiseAmplitude  float64

	mu        sync.Mutex
	currFreq  float64
	outOfBand bool
	phase     float64
	freqNorm  float64 // cycles per sample

	forceEOS atomic.Bool
	rng      *rand.Rand

	throttle *throttle
	start    time.Time

	infoMu sync.Mutex
	info   source.Info
}

var _ source.Source = (*Source)(nil)
var _ source.FrequencySetter = (*Source)(nil)
var _ source.GainSetter = (*Source)(nil)
var _ source.AntennaSetter = (*Source)(nil)
var _ source.BandwidthSetter = (*Source)(nil)
var _ source.PPMSetter = (*Source)(nil)
var _ source.AGCSetter = (*Source)(nil)
var _ source.TimeGetter = (*Source)(nil)

// Open constructs a tone-generator source from cfg. The "signal" and
// "noise" device-spec parameters, if present, override the default
// amplitudes (expressed in dB, matching tonegen.c's sscanf-parsed raw
// magnitude convention).
func Open(cfg source.Config) (*Source, error) {
	if cfg.SampRate <= 0 {
		return nil, fmt.Errorf("tonegen: samp_rate must be positive")
	}

	s := &Source{
		sampRate:        cfg.SampRate,
		initFreq:        cfg.Freq,
		signalAmplitude: magRaw(defaultSignalAmplitudeDB),
		noiseAmplitude:  magRaw(defaultNoiseAmplitudeDB),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if cfg.DeviceSpec != nil && cfg.DeviceSpec.Params != nil {
		if v, ok := cfg.DeviceSpec.Params.Get("signal"); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				s.signalAmplitude = magRaw(f)
			}
		}
		if v, ok := cfg.DeviceSpec.Params.Get("noise"); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				s.noiseAmplitude = magRaw(f)
			}
		}
	}
	s.noiseAmplitude *= math.Sqrt(s.sampRate)

	s.currFreq = cfg.Freq
	s.throttle = newThrottle(s.sampRate)

	now := time.Now()
	s.start = now
	s.info = source.Info{
		Permissions:       source.PermAll &^ source.PermSetDCRemove,
		SourceSampRate:    s.sampRate,
		EffectiveSampRate: s.sampRate,
		MeasuredSampRate:  s.sampRate,
		Frequency:         cfg.Freq,
		FreqMin:           -300e9,
		FreqMax:           300e9,
		Timestamp:         now,
	}

	return s, nil
}

// Start resets the force-EOS flag and the throttle clock.
func (s *Source) Start(ctx context.Context) error {
	s.forceEOS.Store(false)
	s.throttle.reset()
	return nil
}

// Read produces up to len(buf) throttled samples of signal-plus-noise
// (or noise alone, when tuned out of band).
func (s *Source) Read(ctx context.Context, buf []complex64) (int, error) {
	if s.forceEOS.Load() {
		return 0, nil
	}

	n, err := s.throttle.wait(ctx, len(buf))
	if err != nil {
		return 0, err
	}
	if s.forceEOS.Load() {
		return 0, nil
	}

	s.mu.Lock()
	outOfBand := s.outOfBand
	freqNorm := s.freqNorm
	phase := s.phase
	sigAmp := s.signalAmplitude
	noiseAmp := s.noiseAmplitude
	s.mu.Unlock()

	for i := 0; i < n; i++ {
		noise := complex64(complex(noiseAmp*s.gauss(), noiseAmp*s.gauss()))
		if outOfBand {
			buf[i] = noise
		} else {
			tone := complex64(complex(math.Cos(phase), math.Sin(phase)))
			buf[i] = complex64(complex(sigAmp, 0))*tone + noise
			phase += 2 * math.Pi * freqNorm
			if phase > math.Pi {
				phase -= 2 * math.Pi
			} else if phase < -math.Pi {
				phase += 2 * math.Pi
			}
		}
	}

	s.mu.Lock()
	s.phase = phase
	s.mu.Unlock()

	s.throttle.advance(n)
	return n, nil
}

// gauss draws one sample of a zero-mean, unit-variance complex AWGN
// component (scaled by the caller).
func (s *Source) gauss() float64 {
	return s.rng.NormFloat64() / math.Sqrt2
}

// Cancel sets a force-EOS flag honored by the next Read and wakes a
// blocked throttle wait.
func (s *Source) Cancel() {
	s.forceEOS.Store(true)
	s.throttle.wake()
}

// Close is a no-op: the tone generator owns no external resources.
func (s *Source) Close() error { return nil }

// Info returns the most recently computed source-info snapshot.
func (s *Source) Info() source.Info {
	s.infoMu.Lock()
	defer s.infoMu.Unlock()
	return s.info
}

// Time returns the current wall-clock time (the tone generator has no
// capture-time concept distinct from "now").
func (s *Source) Time() time.Time {
	return time.Now()
}

// SetFrequency retunes the generator. Frequencies more than half the
// sample rate away from the initial frequency fall "out of band" and
// the generator emits pure noise.
func (s *Source) SetFrequency(hz float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := hz - s.initFreq
	s.currFreq = hz
	s.outOfBand = math.Abs(delta) > 0.5*s.sampRate
	if !s.outOfBand {
		s.freqNorm = -delta / s.sampRate
	}

	s.infoMu.Lock()
	s.info.Frequency = hz
	s.info.Timestamp = time.Now()
	s.infoMu.Unlock()
	return nil
}

// SetGain is accepted but has no effect: the tone generator has no gain
// stage.
func (s *Source) SetGain(name string, db float64) error { return nil }

// SetAntenna is accepted but has no effect.
func (s *Source) SetAntenna(name string) error { return nil }

// SetBandwidth is accepted but has no effect.
func (s *Source) SetBandwidth(hz float64) error { return nil }

// SetPPM is accepted but has no effect.
func (s *Source) SetPPM(ppm float64) error { return nil }

// SetAGC is accepted but has no effect: the generator has no AGC loop.
func (s *Source) SetAGC(enabled bool) error { return nil }

// EstimateSize reports that a live tone generator has no fixed extent.
func EstimateSize(cfg source.Config) (uint64, bool) { return 0, false }

// GetFreqLimits reports the tone generator's synthetic, effectively
// unbounded tuning range.
func GetFreqLimits(cfg source.Config) (lo, hi float64, ok bool) {
	return -300e9, 300e9, true
}
