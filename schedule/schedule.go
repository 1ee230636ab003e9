// Package schedule implements the fast/slow scheduling split that backs
// the local analyzer: a fast worker drives the time-critical sample
// pipeline, while a slow worker serializes human-triggered
// configuration changes (retune, gain, antenna, ...) off of it. Both
// wrap a worker.Worker. Grounded on the "slow worker" pattern: requests
// are stashed under a single hotconf mutex, then the mutex is released
// before the (potentially slow) source call is made, so a concurrent
// request never blocks behind driver I/O.
package schedule

import (
	"sync"

	"github.com/skyloom-radio/sdrcore/inspector"
	"github.com/skyloom-radio/sdrcore/psd"
	"github.com/skyloom-radio/sdrcore/worker"
)

// SourceOps is the narrow set of source setters the slow worker drives.
// It is satisfied by source.Source's optional setter interfaces, kept
// separate here so this package never imports package source.
type SourceOps interface {
	SetFrequency(freq, lnb float64) error
	SetBandwidth(bw float64) error
	SetPPM(ppm float64) error
	SetGain(name string, value float64) error
	SetAntenna(name string) error
	SetDCRemove(remove bool) error
	SetAGC(enable bool) error
}

// GainRequest is one queued gain-stage change.
type GainRequest struct {
	Name  string
	Value float64
}

// PSDParamsRequest is a pending change to the PSD engine's parameters.
type PSDParamsRequest struct {
	Window      psd.Window
	WindowSize  int
	RefreshRate float64
}

// Fast wraps a worker.Worker running the time-critical sample pipeline
// (read a block, feed the PSD engine, sweep inspector overridables,
// emit messages). Its single task is a re-arming streaming callback
// supplied by the caller, matching worker.Callback's "return true to
// run again next cycle" convention.
type Fast struct {
	w *worker.Worker
}

// NewFast starts a Fast scheduler's goroutine.
func NewFast() *Fast {
	return &Fast{w: worker.New()}
}

// Start installs tick as the fast worker's streaming task. tick is
// invoked repeatedly (once per available sample block, or once per
// poll cycle while idle) until it returns false or the worker halts.
func (f *Fast) Start(tick func(halting bool) bool) {
	f.w.Push(func(_ any, halting bool) bool {
		return tick(halting)
	}, nil)
}

// Halt stops accepting new ticks and blocks until the fast worker's
// goroutine has exited.
func (f *Fast) Halt() {
	f.w.Halt()
}

// Slow wraps a worker.Worker that serializes non-time-critical,
// human-triggered configuration changes. The frequency, bandwidth, PPM,
// gain, antenna and PSD-parameter setters deposit their request under
// hotconfMu, release it, and push a callback onto the slow worker that
// re-acquires hotconfMu only long enough to take the pending value
// before calling into SourceOps; SetDCRemove and SetAGC push their
// callback directly, and the inspector setters push a callback that
// deposits into the inspector manager's overridable slot. Either way the
// slow worker's own goroutine is the only one that ever blocks on
// driver I/O.
type Slow struct {
	w          *worker.Worker
	ops        SourceOps
	inspectors *inspector.Manager
	onChanged  func()

	hotconfMu sync.Mutex

	freqReq   bool
	freqValue float64
	lnbValue  float64

	bwReq   bool
	bwValue float64

	ppmReq   bool
	ppmValue float64

	gainReq []GainRequest

	antennaReq   bool
	antennaValue string

	dcRemoveReq   bool
	dcRemoveValue bool

	agcReq   bool
	agcValue bool

	psdParamsReq   bool
	psdParamsValue PSDParamsRequest
	psdEngine      *psd.Engine
}

// NewSlow constructs a Slow scheduler driving ops (the active source's
// setters) and insp (so inspector-scoped overridable requests can be
// funneled through the same serialized path as source-wide changes).
// onChanged, if non-nil, is invoked after every successfully applied
// change so the caller can emit a refreshed source-info notification.
func NewSlow(ops SourceOps, insp *inspector.Manager, psdEngine *psd.Engine, onChanged func()) *Slow {
	return &Slow{
		w:          worker.New(),
		ops:        ops,
		inspectors: insp,
		psdEngine:  psdEngine,
		onChanged:  onChanged,
	}
}

// Halt stops accepting new requests and blocks until the slow worker's
// goroutine has drained its queue and exited.
func (s *Slow) Halt() {
	s.w.Halt()
}

func (s *Slow) notify() {
	if s.onChanged != nil {
		s.onChanged()
	}
}

// SetFrequency queues a retune (plus LNB offset) to be applied by the
// slow worker.
func (s *Slow) SetFrequency(freq, lnb float64) {
	s.hotconfMu.Lock()
	s.freqReq = true
	s.freqValue = freq
	s.lnbValue = lnb
	s.hotconfMu.Unlock()

	s.w.Push(func(_ any, _ bool) bool {
		s.hotconfMu.Lock()
		if !s.freqReq {
			s.hotconfMu.Unlock()
			return false
		}
		freq, lnb := s.freqValue, s.lnbValue
		s.hotconfMu.Unlock()

		applied := s.ops.SetFrequency(freq, lnb) == nil

		s.hotconfMu.Lock()
		s.freqReq = !applied || s.freqValue != freq || s.lnbValue != lnb
		s.hotconfMu.Unlock()

		if applied {
			s.notify()
		}
		return false
	}, nil)
}

// SetBandwidth queues a bandwidth change to be applied by the slow
// worker.
func (s *Slow) SetBandwidth(bw float64) {
	s.hotconfMu.Lock()
	s.bwReq = true
	s.bwValue = bw
	s.hotconfMu.Unlock()

	s.w.Push(func(_ any, _ bool) bool {
		s.hotconfMu.Lock()
		if !s.bwReq {
			s.hotconfMu.Unlock()
			return false
		}
		bw := s.bwValue
		s.hotconfMu.Unlock()

		applied := s.ops.SetBandwidth(bw) == nil

		s.hotconfMu.Lock()
		s.bwReq = !applied || s.bwValue != bw
		s.hotconfMu.Unlock()

		if applied {
			s.notify()
		}
		return false
	}, nil)
}

// SetPPM queues a clock-correction change to be applied by the slow
// worker.
func (s *Slow) SetPPM(ppm float64) {
	s.hotconfMu.Lock()
	s.ppmReq = true
	s.ppmValue = ppm
	s.hotconfMu.Unlock()

	s.w.Push(func(_ any, _ bool) bool {
		s.hotconfMu.Lock()
		if !s.ppmReq {
			s.hotconfMu.Unlock()
			return false
		}
		ppm := s.ppmValue
		s.hotconfMu.Unlock()

		applied := s.ops.SetPPM(ppm) == nil

		s.hotconfMu.Lock()
		s.ppmReq = !applied || s.ppmValue != ppm
		s.hotconfMu.Unlock()

		if applied {
			s.notify()
		}
		return false
	}, nil)
}

// SetGain appends a gain-stage request to the pending list; the slow
// worker drains and applies the whole list in one pass.
func (s *Slow) SetGain(name string, value float64) {
	s.hotconfMu.Lock()
	s.gainReq = append(s.gainReq, GainRequest{Name: name, Value: value})
	s.hotconfMu.Unlock()

	s.w.Push(func(_ any, _ bool) bool {
		s.hotconfMu.Lock()
		pending := s.gainReq
		s.gainReq = nil
		s.hotconfMu.Unlock()

		applied := false
		for _, req := range pending {
			if s.ops.SetGain(req.Name, req.Value) == nil {
				applied = true
			}
		}
		if applied {
			s.notify()
		}
		return false
	}, nil)
}

// SetAntenna queues an antenna-port change.
func (s *Slow) SetAntenna(name string) {
	s.hotconfMu.Lock()
	s.antennaReq = true
	s.antennaValue = name
	s.hotconfMu.Unlock()

	s.w.Push(func(_ any, _ bool) bool {
		s.hotconfMu.Lock()
		if !s.antennaReq {
			s.hotconfMu.Unlock()
			return false
		}
		s.antennaReq = false
		name := s.antennaValue
		s.hotconfMu.Unlock()

		if s.ops.SetAntenna(name) == nil {
			s.notify()
		}
		return false
	}, nil)
}

// SetDCRemove queues a DC-removal toggle.
func (s *Slow) SetDCRemove(remove bool) {
	s.w.Push(func(_ any, _ bool) bool {
		if s.ops.SetDCRemove(remove) == nil {
			s.notify()
		}
		return false
	}, nil)
}

// SetAGC queues an AGC toggle.
func (s *Slow) SetAGC(enable bool) {
	s.w.Push(func(_ any, _ bool) bool {
		if s.ops.SetAGC(enable) == nil {
			s.notify()
		}
		return false
	}, nil)
}

// SetPSDParams queues a PSD engine reconfiguration (window, window
// size, refresh rate).
func (s *Slow) SetPSDParams(p PSDParamsRequest) {
	s.hotconfMu.Lock()
	s.psdParamsReq = true
	s.psdParamsValue = p
	s.hotconfMu.Unlock()

	s.w.Push(func(_ any, _ bool) bool {
		s.hotconfMu.Lock()
		if !s.psdParamsReq {
			s.hotconfMu.Unlock()
			return false
		}
		s.psdParamsReq = false
		p := s.psdParamsValue
		s.hotconfMu.Unlock()

		if s.psdEngine != nil {
			_ = s.psdEngine.Reconfigure(psd.Params{
				Window:      p.Window,
				WindowSize:  p.WindowSize,
				RefreshRate: p.RefreshRate,
			})
			s.notify()
		}
		return false
	}, nil)
}

// SetInspectorFrequency funnels an inspector retune request through the
// slow worker before depositing it into the inspector's lock-free
// overridable slot, following the same acquire/release-overridable
// handoff pattern even though the deposit itself never blocks.
func (s *Slow) SetInspectorFrequency(handle int64, freq float64) {
	s.w.Push(func(_ any, _ bool) bool {
		s.inspectors.SetFrequency(handle, freq)
		return false
	}, nil)
}

// SetInspectorBandwidth funnels an inspector bandwidth change through
// the slow worker before depositing it into the inspector's overridable
// slot.
func (s *Slow) SetInspectorBandwidth(handle int64, bw float64) {
	s.w.Push(func(_ any, _ bool) bool {
		s.inspectors.SetBandwidth(handle, bw)
		return false
	}, nil)
}
