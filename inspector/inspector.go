// Package inspector implements the inspector manager: a handle table
// for per-client demodulation/decoding channels opened against a
// source or another inspector's decimated baseband, with a lock-free
// overridable-request slot per handle for time-critical retune/re-bw
// operations applied from the fast path. Grounded on spec.md §4.G and
// §5's handle-table locking policy (reader mutex for lookup, writer
// mutex for allocation/free).
package inspector

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/skyloom-radio/sdrcore/container"
)

// NoParent is the parent_handle sentinel meaning "open on the main
// source channelizer" rather than inside another inspector's baseband.
const NoParent int64 = -1

// ChannelSpec describes the demodulator/decoder an inspector opens.
type ChannelSpec struct {
	Class     string
	Frequency float64
	Bandwidth float64
	Params    *container.StrMap
}

// Override is the overridable fast-path request: a coalesced retune
// and/or re-bandwidth operation waiting to be applied on the next
// sample tick. Only the fields with a corresponding Has* flag set are
// applied; a later request merges into a still-pending one, overwriting
// the field it sets and keeping the other field as it was.
type Override struct {
	HasFrequency bool
	Frequency    float64
	HasBandwidth bool
	Bandwidth    float64
}

// OpenResult is returned by Open and mirrors the payload spec.md §4.G
// requires on the asynchronous INSPECTOR{OPEN} message: the request id
// for correlation, the allocated handle, and the channel's achieved
// parameters.
type OpenResult struct {
	RequestID         uint64
	Handle            int64
	AchievedFrequency float64
	AchievedBandwidth float64
	EffectiveSampRate float64
	Spec              ChannelSpec
}

type entry struct {
	handle   int64
	parent   int64
	spec     ChannelSpec
	override atomic.Pointer[Override]

	achievedFrequency float64
	achievedBandwidth float64
	effectiveSampRate float64
}

// Manager owns the handle table. Lookup (GetConfig, List, and the
// fast-path ApplyOverridables sweep) take the reader lock; allocation
// and free take the writer lock, per spec.md §5.
type Manager struct {
	mu    sync.RWMutex
	table *container.Tree

	allocMu      sync.Mutex
	nextHandle   int64
	freeList     []int64
	pendingFrees []int64
}

// NewManager returns an empty inspector manager.
func NewManager() *Manager {
	return &Manager{
		table:      container.NewTree(nil),
		nextHandle: 1,
	}
}

// allocate returns a handle from the free list if one is available
// (i.e. has survived at least one fast-path tick since its release),
// otherwise mints a new one.
func (m *Manager) allocate() int64 {
	m.allocMu.Lock()
	defer m.allocMu.Unlock()

	if n := len(m.freeList); n > 0 {
		h := m.freeList[n-1]
		m.freeList = m.freeList[:n-1]
		return h
	}
	h := m.nextHandle
	m.nextHandle++
	return h
}

// release defers handle for reuse until the next AdvanceTick, ensuring
// no in-flight sample batch from the tick that closed it can still
// reference the slot.
func (m *Manager) release(handle int64) {
	m.allocMu.Lock()
	defer m.allocMu.Unlock()
	m.pendingFrees = append(m.pendingFrees, handle)
}

// AdvanceTick is called once per fast-path sample tick, promoting
// handles released before this tick into the reusable free list.
func (m *Manager) AdvanceTick() {
	m.allocMu.Lock()
	defer m.allocMu.Unlock()
	if len(m.pendingFrees) == 0 {
		return
	}
	m.freeList = append(m.freeList, m.pendingFrees...)
	m.pendingFrees = m.pendingFrees[:0]
}

// Open allocates a handle for spec, chaining it under parentHandle's
// decimated baseband (NoParent for the main source channelizer).
// achievedFrequency/achievedBandwidth/effectiveSampRate should reflect
// whatever the channelizer actually configured (which may differ
// slightly from the request due to decimation/filter granularity);
// callers typically compute these before calling Open.
func (m *Manager) Open(requestID uint64, spec ChannelSpec, parentHandle int64, achievedFrequency, achievedBandwidth, effectiveSampRate float64) (OpenResult, error) {
	if parentHandle != NoParent {
		m.mu.RLock()
		_, ok := m.table.Get(parentHandle)
		m.mu.RUnlock()
		if !ok {
			return OpenResult{}, fmt.Errorf("inspector: parent handle %d not open", parentHandle)
		}
	}

	handle := m.allocate()
	e := &entry{
		handle:            handle,
		parent:            parentHandle,
		spec:              spec,
		achievedFrequency: achievedFrequency,
		achievedBandwidth: achievedBandwidth,
		effectiveSampRate: effectiveSampRate,
	}

	m.mu.Lock()
	m.table.Set(handle, e)
	m.mu.Unlock()

	return OpenResult{
		RequestID:         requestID,
		Handle:            handle,
		AchievedFrequency: achievedFrequency,
		AchievedBandwidth: achievedBandwidth,
		EffectiveSampRate: effectiveSampRate,
		Spec:              spec,
	}, nil
}

// Close removes handle from the table and defers it for reuse.
func (m *Manager) Close(handle int64) bool {
	m.mu.Lock()
	ok := m.table.Delete(handle)
	m.mu.Unlock()
	if ok {
		m.release(handle)
	}
	return ok
}

// CloseAll closes every open handle, returning the handles that were
// closed (e.g. so the caller can emit one INSPECTOR{CLOSE} per handle).
func (m *Manager) CloseAll() []int64 {
	m.mu.Lock()
	var handles []int64
	m.table.Each(func(h int64, _ any) bool {
		handles = append(handles, h)
		return true
	})
	m.table.Clear()
	m.mu.Unlock()

	for _, h := range handles {
		m.release(h)
	}
	return handles
}

// GetConfig returns handle's current channel spec.
func (m *Manager) GetConfig(handle int64) (ChannelSpec, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.lookup(handle)
	if !ok {
		return ChannelSpec{}, false
	}
	return e.spec, true
}

// SetConfig replaces handle's channel spec outright. This is the slow-
// path, non-time-critical configuration path (unlike SetFrequency/
// SetBandwidth, it does not go through the overridable slot).
func (m *Manager) SetConfig(handle int64, spec ChannelSpec) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(handle)
	if !ok {
		return false
	}
	e.spec = spec
	return true
}

// SetFrequency deposits a retune request into handle's overridable
// slot, replacing any not-yet-applied frequency and keeping any
// not-yet-applied bandwidth.
func (m *Manager) SetFrequency(handle int64, hz float64) bool {
	return m.depositOverride(handle, func(o *Override) { o.HasFrequency = true; o.Frequency = hz })
}

// SetBandwidth deposits a re-bandwidth request into handle's
// overridable slot, replacing any not-yet-applied bandwidth and keeping
// any not-yet-applied frequency.
func (m *Manager) SetBandwidth(handle int64, hz float64) bool {
	return m.depositOverride(handle, func(o *Override) { o.HasBandwidth = true; o.Bandwidth = hz })
}

func (m *Manager) depositOverride(handle int64, mutate func(*Override)) bool {
	m.mu.RLock()
	e, ok := m.lookup(handle)
	m.mu.RUnlock()
	if !ok {
		return false
	}

	next := &Override{}
	if prev := e.override.Load(); prev != nil {
		*next = *prev
	}
	mutate(next)
	e.override.Store(next)
	return true
}

// List returns every currently open handle, in allocation order.
func (m *Manager) List() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var handles []int64
	m.table.Each(func(h int64, _ any) bool {
		handles = append(handles, h)
		return true
	})
	return handles
}

// ApplyOverridables is called once per fast-path sample tick. For
// every open handle with a pending overridable request, it atomically
// takes the slot (clearing it) and invokes apply with the coalesced
// request; apply is expected to push the change down to the
// channelizer and update the handle's achieved-frequency/-bandwidth
// bookkeeping via SetAchieved.
func (m *Manager) ApplyOverridables(apply func(handle int64, o Override)) {
	m.mu.RLock()
	type pending struct {
		handle int64
		o      Override
	}
	var work []pending
	m.table.Each(func(h int64, v any) bool {
		e := v.(*entry)
		if o := e.override.Swap(nil); o != nil {
			work = append(work, pending{handle: h, o: *o})
		}
		return true
	})
	m.mu.RUnlock()

	for _, p := range work {
		apply(p.handle, p.o)
	}
}

// SetAchieved updates handle's achieved-frequency/-bandwidth/effective
// sample rate bookkeeping after an overridable request (or the initial
// Open) has been applied to the channelizer.
func (m *Manager) SetAchieved(handle int64, frequency, bandwidth, sampRate float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(handle)
	if !ok {
		return false
	}
	e.achievedFrequency = frequency
	e.achievedBandwidth = bandwidth
	e.effectiveSampRate = sampRate
	return true
}

// Achieved returns handle's most recently applied frequency,
// bandwidth, and effective (post-decimation) sample rate.
func (m *Manager) Achieved(handle int64) (frequency, bandwidth, sampRate float64, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, found := m.lookup(handle)
	if !found {
		return 0, 0, 0, false
	}
	return e.achievedFrequency, e.achievedBandwidth, e.effectiveSampRate, true
}

// lookup must be called with m.mu held (read or write).
func (m *Manager) lookup(handle int64) (*entry, bool) {
	v, ok := m.table.Get(handle)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}
