package schedule

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skyloom-radio/sdrcore/inspector"
	"github.com/skyloom-radio/sdrcore/psd"
)

type fakeOps struct {
	mu sync.Mutex

	freq, lnb float64
	bw        float64
	ppm       float64
	gains     map[string]float64
	antenna   string
	dcRemove  bool
	agc       bool

	failNext bool
}

func newFakeOps() *fakeOps {
	return &fakeOps{gains: make(map[string]float64)}
}

func (f *fakeOps) SetFrequency(freq, lnb float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("fail")
	}
	f.freq, f.lnb = freq, lnb
	return nil
}

func (f *fakeOps) SetBandwidth(bw float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bw = bw
	return nil
}

func (f *fakeOps) SetPPM(ppm float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ppm = ppm
	return nil
}

func (f *fakeOps) SetGain(name string, value float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gains[name] = value
	return nil
}

func (f *fakeOps) SetAntenna(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.antenna = name
	return nil
}

func (f *fakeOps) SetDCRemove(remove bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dcRemove = remove
	return nil
}

func (f *fakeOps) SetAGC(enable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agc = enable
	return nil
}

func (f *fakeOps) snapshot() fakeOps {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeOps{freq: f.freq, lnb: f.lnb, bw: f.bw, ppm: f.ppm, antenna: f.antenna, dcRemove: f.dcRemove, agc: f.agc}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestFastRunsStreamingTick(t *testing.T) {
	f := NewFast()
	defer f.Halt()

	var count int
	var mu sync.Mutex
	f.Start(func(halting bool) bool {
		mu.Lock()
		count++
		done := count >= 3 || halting
		mu.Unlock()
		return !done
	})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 3
	})
}

func TestSlowAppliesFrequency(t *testing.T) {
	ops := newFakeOps()
	var notified int
	var mu sync.Mutex
	s := NewSlow(ops, inspector.NewManager(), nil, func() {
		mu.Lock()
		notified++
		mu.Unlock()
	})
	defer s.Halt()

	s.SetFrequency(100e6, 9750e6)

	waitFor(t, func() bool { return ops.snapshot().freq == 100e6 })
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return notified == 1
	})
}

func TestSlowGainRequestsDrainAsBatch(t *testing.T) {
	ops := newFakeOps()
	s := NewSlow(ops, inspector.NewManager(), nil, nil)
	defer s.Halt()

	s.SetGain("LNA", 10)
	s.SetGain("VGA", 20)

	waitFor(t, func() bool {
		snap := ops.snapshot()
		_ = snap
		ops.mu.Lock()
		defer ops.mu.Unlock()
		return ops.gains["LNA"] == 10 && ops.gains["VGA"] == 20
	})
}

func TestSlowPSDParamsReconfiguresEngine(t *testing.T) {
	engine, err := psd.NewEngine(psd.Params{Window: psd.WindowHann, WindowSize: 64, RefreshRate: 10})
	if err != nil {
		t.Fatal(err)
	}
	ops := newFakeOps()
	s := NewSlow(ops, inspector.NewManager(), engine, nil)
	defer s.Halt()

	s.SetPSDParams(PSDParamsRequest{Window: psd.WindowHamming, WindowSize: 128, RefreshRate: 20})

	waitFor(t, func() bool { return engine.Params().WindowSize == 128 })
	if engine.Params().Window != psd.WindowHamming {
		t.Fatalf("Window = %v, want WindowHamming", engine.Params().Window)
	}
}

func TestSlowInspectorFrequencyDepositsOverride(t *testing.T) {
	insp := inspector.NewManager()
	r, err := insp.Open(1, inspector.ChannelSpec{}, inspector.NoParent, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	ops := newFakeOps()
	s := NewSlow(ops, insp, nil, nil)
	defer s.Halt()

	s.SetInspectorFrequency(r.Handle, 42e6)

	var applied inspector.Override
	waitFor(t, func() bool {
		found := false
		insp.ApplyOverridables(func(handle int64, o inspector.Override) {
			if handle == r.Handle {
				applied = o
				found = true
			}
		})
		return found
	})
	if !applied.HasFrequency || applied.Frequency != 42e6 {
		t.Fatalf("applied = %+v", applied)
	}
}

func TestSlowAntennaChange(t *testing.T) {
	ops := newFakeOps()
	s := NewSlow(ops, inspector.NewManager(), nil, nil)
	defer s.Halt()

	s.SetAntenna("RX2")
	waitFor(t, func() bool { return ops.snapshot().antenna == "RX2" })
}

func TestSlowHaltDrainsPendingThenStops(t *testing.T) {
	ops := newFakeOps()
	s := NewSlow(ops, inspector.NewManager(), nil, nil)

	s.SetDCRemove(true)
	s.Halt()

	if !ops.snapshot().dcRemove {
		t.Fatal("expected DC-remove request to be drained before Halt returns")
	}
}
