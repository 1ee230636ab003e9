// Package psd implements the power-spectral-density engine: windows
// and FFTs fixed-size blocks of complex baseband samples into PSD
// vectors at a configurable refresh rate, double-buffering its window
// and FFT plan so a concurrent Reconfigure never exposes a half-built
// config to the fast path. Follows the same gonum-backed FFT usage as
// audio_extensions/morse/spectrum_analyzer.go's windowed power
// spectrum and audio_extensions/sstv/fft.go's complex-coefficient
// convention.
package psd

import (
	"fmt"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Params holds the engine's user-facing configuration.
type Params struct {
	Window      Window
	WindowSize  int // FFT size, must be a power of 2 in [64, 8192]
	RefreshRate float64
}

func (p Params) validate() error {
	if p.WindowSize < 64 || p.WindowSize > 8192 || p.WindowSize&(p.WindowSize-1) != 0 {
		return fmt.Errorf("psd: window_size must be a power of 2 in [64, 8192], got %d", p.WindowSize)
	}
	if p.RefreshRate <= 0 {
		return fmt.Errorf("psd: refresh_rate must be positive")
	}
	return nil
}

// plan bundles one configuration's derived, immutable state: the
// window coefficients and an FFT instance sized for them. A new plan
// is built wholesale on Reconfigure and swapped in atomically so the
// fast path never observes a half-built combination of window size and
// FFT plan.
type plan struct {
	params  Params
	coeffs  []float64
	fft     *fourier.CmplxFFT
	interval time.Duration
}

func newPlan(p Params) *plan {
	return &plan{
		params:   p,
		coeffs:   buildWindow(p.Window, p.WindowSize),
		fft:      fourier.NewCmplxFFT(p.WindowSize),
		interval: time.Duration(float64(time.Second) / p.RefreshRate),
	}
}

// Engine accepts a stream of complex sample blocks, accumulates them
// into window_size-sized frames, and emits averaged PSD vectors no
// faster than refresh_rate.
type Engine struct {
	planPtr atomic.Pointer[plan]

	frame    []complex64
	framePos int

	fftIn  []complex128
	fftOut []complex128

	accum      []float64
	accumCount int

	lastEmit time.Time
}

// NewEngine constructs an Engine with the given initial parameters.
func NewEngine(p Params) (*Engine, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	e := &Engine{}
	pl := newPlan(p)
	e.planPtr.Store(pl)
	e.resetBuffers(pl)
	return e, nil
}

func (e *Engine) resetBuffers(pl *plan) {
	n := pl.params.WindowSize
	e.frame = make([]complex64, n)
	e.framePos = 0
	e.fftIn = make([]complex128, n)
	e.fftOut = make([]complex128, n)
	e.accum = make([]float64, n)
	e.accumCount = 0
	e.lastEmit = time.Time{}
}

// Reconfigure swaps in a new window/FFT plan. Safe to call
// concurrently with Feed: the fast path always reads a fully built
// plan, though any partially accumulated frame is discarded:
// reconfiguration is a clean restart of the windowing state.
func (e *Engine) Reconfigure(p Params) error {
	if err := p.validate(); err != nil {
		return err
	}
	pl := newPlan(p)
	e.planPtr.Store(pl)
	e.resetBuffers(pl)
	return nil
}

// Params returns the engine's current configuration.
func (e *Engine) Params() Params {
	return e.planPtr.Load().params
}

// Feed appends samples to the engine's internal frame buffer,
// windowing and transforming every window_size consecutive samples.
// It returns a freshly computed PSD vector (power, linear units,
// length window_size) and true whenever refresh_rate's cadence permits
// emitting one; intermediate frames computed faster than that cadence
// are averaged together rather than discarded.
func (e *Engine) Feed(samples []complex64) ([]float32, bool) {
	pl := e.planPtr.Load()
	var out []float32
	ready := false

	for _, s := range samples {
		e.frame[e.framePos] = s
		e.framePos++
		if e.framePos < len(e.frame) {
			continue
		}
		e.framePos = 0

		e.computeFrame(pl)

		now := time.Now()
		if e.lastEmit.IsZero() || now.Sub(e.lastEmit) >= pl.interval {
			out = e.drainAverage(pl)
			e.lastEmit = now
			ready = true
		}
	}

	return out, ready
}

func (e *Engine) computeFrame(pl *plan) {
	n := pl.params.WindowSize
	for i := 0; i < n; i++ {
		w := pl.coeffs[i]
		e.fftIn[i] = complex(real(e.frame[i])*w, imag(e.frame[i])*w)
	}

	coeffs := pl.fft.Coefficients(e.fftOut, e.fftIn)
	for i := 0; i < n; i++ {
		re := real(coeffs[i])
		im := imag(coeffs[i])
		e.accum[i] += re*re + im*im
	}
	e.accumCount++
}

// drainAverage returns the mean of every accumulated frame since the
// last emission and resets the accumulator.
func (e *Engine) drainAverage(pl *plan) []float32 {
	n := pl.params.WindowSize
	out := make([]float32, n)
	if e.accumCount == 0 {
		return out
	}
	inv := 1.0 / float64(e.accumCount)
	for i := 0; i < n; i++ {
		out[i] = float32(e.accum[i] * inv)
		e.accum[i] = 0
	}
	e.accumCount = 0
	return out
}
