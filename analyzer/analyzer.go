// Package analyzer implements the local analyzer: the orchestrator
// that ties a source, a PSD engine, an inspector manager, and the fast/
// slow scheduling split into the single public contract the rest of
// sdrcore (and ultimately the remote-call server) drives. Grounded on
// spec.md §4.I's seven-step lifecycle; there is no single retrieved
// file matching this orchestration one-to-one (the original spreads
// it across analyzer/impl/local.c and source.c, of
// which only slow.c survived into the retrieved pack), so the fast-
// worker tick loop below is authored directly from the lifecycle steps
// and the request/response shapes spec.md names for each message type.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skyloom-radio/sdrcore/inspector"
	"github.com/skyloom-radio/sdrcore/mq"
	"github.com/skyloom-radio/sdrcore/psd"
	"github.com/skyloom-radio/sdrcore/schedule"
	"github.com/skyloom-radio/sdrcore/source"
	"github.com/skyloom-radio/sdrcore/source/file"
	"github.com/skyloom-radio/sdrcore/source/radiod"
	"github.com/skyloom-radio/sdrcore/source/stdin"
	"github.com/skyloom-radio/sdrcore/source/tonegen"
)

// Mode selects whether the analyzer operates as a single demodulation
// channel or as a wide-spectrum (PSD-only, many inspectors) instance.
type Mode int

const (
	ModeChannel Mode = iota
	ModeWideSpectrum
)

// Params holds the analyzer's own (as opposed to the source's)
// configuration.
type Params struct {
	Mode                  Mode
	Window                psd.Window
	WindowSize            int
	PSDUpdateInterval     time.Duration
	ChannelUpdateInterval time.Duration
}

func (p Params) validate() error {
	if p.PSDUpdateInterval <= 0 {
		return fmt.Errorf("analyzer: psd_update_interval must be positive")
	}
	if p.ChannelUpdateInterval <= 0 {
		return fmt.Errorf("analyzer: channel_update_interval must be positive")
	}
	return nil
}

// MessageType tags every payload the local analyzer writes to its
// output queue.
type MessageType int

const (
	MsgSourceInfo MessageType = iota
	MsgParams
	MsgPSD
	MsgEOS
	MsgReadError
	MsgInspectorOpen
	MsgInspectorClose
	MsgHalted
)

// PSDMessage is the MsgPSD payload: a PSD vector plus the header fields
// the multicast/server layer needs to build a PSD superframe.
type PSDMessage struct {
	Frequency        float64
	Timestamp        time.Time
	RealTime         time.Time
	SampRate         float64
	MeasuredSampRate float64
	Looped           bool
	Vector           []float32
}

// InspectorOpenMessage mirrors spec.md §4.G's asynchronous
// INSPECTOR{OPEN} reply.
type InspectorOpenMessage struct {
	inspector.OpenResult
	Err error
}

// InspectorCloseMessage mirrors the asynchronous INSPECTOR{CLOSE}
// notification.
type InspectorCloseMessage struct {
	Handle int64
}

// ControlType tags inbound messages posted via PostMessage.
type ControlType int

const (
	CtrlSetFrequency ControlType = iota
	CtrlSetBandwidth
	CtrlSetPPM
	CtrlSetGain
	CtrlSetAntenna
	CtrlSetDCRemove
	CtrlSetAGC
	CtrlOpenInspector
	CtrlCloseInspector
	CtrlSetInspectorFrequency
	CtrlSetInspectorBandwidth
	CtrlHalt
)

type setFrequencyRequest struct{ Freq, LNB float64 }
type setBandwidthRequest struct{ BW float64 }
type setPPMRequest struct{ PPM float64 }
type setGainRequest struct {
	Name  string
	Value float64
}
type setAntennaRequest struct{ Name string }
type setBoolRequest struct{ Value bool }
type openInspectorRequest struct {
	RequestID    uint64
	Spec         inspector.ChannelSpec
	ParentHandle int64
}
type closeInspectorRequest struct{ Handle int64 }
type setInspectorFreqRequest struct {
	Handle int64
	Freq   float64
}
type setInspectorBWRequest struct {
	Handle int64
	BW     float64
}

const fastBlockSamples = 4096

// Local is the local analyzer: the public contract described by
// spec.md §4.I, orchestrating a source (E), a PSD engine (F), an
// inspector manager (G), and the fast/slow scheduling split (H).
type Local struct {
	params Params

	src        source.Source
	fast       *schedule.Fast
	slow       *schedule.Slow
	inspectors *inspector.Manager
	psdEngine  *psd.Engine

	inbound  *mq.Queue
	outbound *mq.Queue

	cancel context.CancelFunc

	haltOnce sync.Once
	halted   atomic.Bool
}

// openSource dispatches cfg.Type to the matching source variant's Open
// function. Every concrete variant implements source.Source, so the
// rest of the analyzer never distinguishes between them again.
func openSource(cfg source.Config) (source.Source, error) {
	switch cfg.Type {
	case source.TypeFile:
		return file.Open(cfg)
	case source.TypeToneGenerator:
		return tonegen.Open(cfg)
	case source.TypeStdin:
		return stdin.Open(cfg)
	case source.TypeRemote:
		return radiod.Open(cfg)
	default:
		return nil, fmt.Errorf("analyzer: unsupported source type %v", cfg.Type)
	}
}

// Open implements lifecycle steps 1-4: it spawns the fast and slow
// workers, opens the source, and emits the initial SOURCE_INFO and
// PARAMS messages onto outputMQ (a queue owned by the caller; a fresh
// one is created if nil).
func Open(params Params, srcCfg source.Config, outputMQ *mq.Queue) (*Local, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	psdEngine, err := psd.NewEngine(psd.Params{
		Window:      params.Window,
		WindowSize:  params.WindowSize,
		RefreshRate: 1 / params.PSDUpdateInterval.Seconds(),
	})
	if err != nil {
		return nil, err
	}

	src, err := openSource(srcCfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := src.Start(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("analyzer: starting source: %w", err)
	}

	if outputMQ == nil {
		outputMQ = mq.New()
	}

	l := &Local{
		params:     params,
		src:        src,
		inspectors: inspector.NewManager(),
		psdEngine:  psdEngine,
		inbound:    mq.New(),
		outbound:   outputMQ,
		cancel:     cancel,
	}

	l.slow = schedule.NewSlow(sourceAdapter{src}, l.inspectors, psdEngine, l.emitSourceInfo)
	l.fast = schedule.NewFast()

	l.emitSourceInfo()
	l.outbound.Write(mq.Message{Type: int(MsgParams), Payload: params})

	l.fast.Start(func(halting bool) bool {
		return l.tick(ctx, halting)
	})

	return l, nil
}

func (l *Local) emitSourceInfo() {
	l.outbound.Write(mq.Message{Type: int(MsgSourceInfo), Payload: l.src.Info()})
}

// PostMessage enqueues a control message from the client for the fast
// worker to pick up and dispatch on its next tick.
func (l *Local) PostMessage(ctrlType ControlType, payload any) {
	l.inbound.Write(mq.Message{Type: int(ctrlType), Payload: payload})
}

// ReadMessage reads the next outbound message, blocking up to timeout.
func (l *Local) ReadMessage(timeout time.Duration) (mq.Message, bool) {
	return l.outbound.ReadTimeout(timeout)
}

// tick implements lifecycle step 4 (and, when halting, step 7's drain):
// read one block, feed the PSD engine, sweep inspector overridables,
// and dispatch any pending control messages. It returns false (stop
// re-arming) on EOS, read error, or once halting with no more tasks.
func (l *Local) tick(ctx context.Context, halting bool) bool {
	if halting {
		l.drainControl()
		return false
	}

	buf := make([]complex64, fastBlockSamples)
	n, err := l.src.Read(ctx, buf)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			l.outbound.Write(mq.Message{Type: int(MsgReadError), Payload: err})
		}
		return false
	}
	if n == 0 {
		l.outbound.Write(mq.Message{Type: int(MsgEOS)})
		return false
	}

	if vec, ready := l.psdEngine.Feed(buf[:n]); ready {
		info := l.src.Info()
		l.outbound.Write(mq.Message{Type: int(MsgPSD), Payload: PSDMessage{
			Frequency:        info.Frequency,
			Timestamp:        time.Now(),
			RealTime:         info.Timestamp,
			SampRate:         info.SourceSampRate,
			MeasuredSampRate: info.MeasuredSampRate,
			Looped:           isLooped(l.src),
			Vector:           vec,
		}})
	}

	l.inspectors.AdvanceTick()
	l.inspectors.ApplyOverridables(func(handle int64, o inspector.Override) {
		freq, bw, rate, ok := l.inspectors.Achieved(handle)
		if !ok {
			return
		}
		if o.HasFrequency {
			freq = o.Frequency
		}
		if o.HasBandwidth {
			bw = o.Bandwidth
		}
		l.inspectors.SetAchieved(handle, freq, bw, rate)
	})

	l.drainControl()

	return true
}

type looper interface {
	Looped() bool
}

func isLooped(src source.Source) bool {
	if l, ok := src.(looper); ok {
		return l.Looped()
	}
	return false
}

// drainControl dispatches every control message currently queued,
// without blocking for more.
func (l *Local) drainControl() {
	for {
		msg, ok := l.inbound.Poll()
		if !ok {
			return
		}
		l.dispatch(ControlType(msg.Type), msg.Payload)
	}
}

func (l *Local) dispatch(ctrlType ControlType, payload any) {
	switch ctrlType {
	case CtrlSetFrequency:
		req := payload.(setFrequencyRequest)
		l.slow.SetFrequency(req.Freq, req.LNB)
	case CtrlSetBandwidth:
		req := payload.(setBandwidthRequest)
		l.slow.SetBandwidth(req.BW)
	case CtrlSetPPM:
		req := payload.(setPPMRequest)
		l.slow.SetPPM(req.PPM)
	case CtrlSetGain:
		req := payload.(setGainRequest)
		l.slow.SetGain(req.Name, req.Value)
	case CtrlSetAntenna:
		req := payload.(setAntennaRequest)
		l.slow.SetAntenna(req.Name)
	case CtrlSetDCRemove:
		req := payload.(setBoolRequest)
		l.slow.SetDCRemove(req.Value)
	case CtrlSetAGC:
		req := payload.(setBoolRequest)
		l.slow.SetAGC(req.Value)
	case CtrlOpenInspector:
		req := payload.(openInspectorRequest)
		l.openInspector(req)
	case CtrlCloseInspector:
		req := payload.(closeInspectorRequest)
		l.closeInspector(req.Handle)
	case CtrlSetInspectorFrequency:
		req := payload.(setInspectorFreqRequest)
		l.slow.SetInspectorFrequency(req.Handle, req.Freq)
	case CtrlSetInspectorBandwidth:
		req := payload.(setInspectorBWRequest)
		l.slow.SetInspectorBandwidth(req.Handle, req.BW)
	case CtrlHalt:
		l.Halt()
	}
}

// openInspector and closeInspector are handled inline from the fast
// worker's tick (per spec.md §4.I step 4), not funneled through the
// slow worker, since handle-table mutation is already cheap and
// lock-scoped.
func (l *Local) openInspector(req openInspectorRequest) {
	result, err := l.inspectors.Open(req.RequestID, req.Spec, req.ParentHandle, req.Spec.Frequency, req.Spec.Bandwidth, 0)
	l.outbound.Write(mq.Message{Type: int(MsgInspectorOpen), Payload: InspectorOpenMessage{OpenResult: result, Err: err}})
}

func (l *Local) closeInspector(handle int64) {
	if l.inspectors.Close(handle) {
		l.outbound.Write(mq.Message{Type: int(MsgInspectorClose), Payload: InspectorCloseMessage{Handle: handle}})
	}
}

// OpenInspector opens a new demodulation/decoding channel. RequestID is
// echoed back on the asynchronous InspectorOpenMessage so the caller
// can correlate the reply.
func (l *Local) OpenInspector(requestID uint64, spec inspector.ChannelSpec, parentHandle int64) {
	l.PostMessage(CtrlOpenInspector, openInspectorRequest{RequestID: requestID, Spec: spec, ParentHandle: parentHandle})
}

// CloseInspector closes a previously opened inspector handle.
func (l *Local) CloseInspector(handle int64) {
	l.PostMessage(CtrlCloseInspector, closeInspectorRequest{Handle: handle})
}

// SetFrequency is a convenience wrapper translating to an internal
// slow-worker push.
func (l *Local) SetFrequency(freq, lnb float64) {
	l.PostMessage(CtrlSetFrequency, setFrequencyRequest{Freq: freq, LNB: lnb})
}

// SetBandwidth is a convenience wrapper translating to an internal
// slow-worker push.
func (l *Local) SetBandwidth(bw float64) {
	l.PostMessage(CtrlSetBandwidth, setBandwidthRequest{BW: bw})
}

// SetPPM is a convenience wrapper translating to an internal
// slow-worker push.
func (l *Local) SetPPM(ppm float64) {
	l.PostMessage(CtrlSetPPM, setPPMRequest{PPM: ppm})
}

// SetGain is a convenience wrapper translating to an internal
// slow-worker push.
func (l *Local) SetGain(name string, value float64) {
	l.PostMessage(CtrlSetGain, setGainRequest{Name: name, Value: value})
}

// SetAntenna is a convenience wrapper translating to an internal
// slow-worker push.
func (l *Local) SetAntenna(name string) {
	l.PostMessage(CtrlSetAntenna, setAntennaRequest{Name: name})
}

// SetDCRemove is a convenience wrapper translating to an internal
// slow-worker push.
func (l *Local) SetDCRemove(enabled bool) {
	l.PostMessage(CtrlSetDCRemove, setBoolRequest{Value: enabled})
}

// SetAGC is a convenience wrapper translating to an internal
// slow-worker push.
func (l *Local) SetAGC(enabled bool) {
	l.PostMessage(CtrlSetAGC, setBoolRequest{Value: enabled})
}

// SetInspectorFrequency is a convenience wrapper translating to an
// internal slow-worker push that deposits an overridable retune request.
func (l *Local) SetInspectorFrequency(handle int64, freq float64) {
	l.PostMessage(CtrlSetInspectorFrequency, setInspectorFreqRequest{Handle: handle, Freq: freq})
}

// SetInspectorBandwidth is a convenience wrapper translating to an
// internal slow-worker push that deposits an overridable bandwidth
// request.
func (l *Local) SetInspectorBandwidth(handle int64, bw float64) {
	l.PostMessage(CtrlSetInspectorBandwidth, setInspectorBWRequest{Handle: handle, BW: bw})
}

// Halt implements lifecycle step 7: it is idempotent, cancels the
// source, drains and halts the fast worker, then joins the slow
// worker.
func (l *Local) Halt() {
	l.haltOnce.Do(func() {
		l.halted.Store(true)
		l.cancel()
		l.src.Cancel()
		l.fast.Halt()
		l.slow.Halt()
		_ = l.src.Close()
		l.outbound.Write(mq.Message{Type: int(MsgHalted)})
	})
}

// Halted reports whether Halt has been called.
func (l *Local) Halted() bool {
	return l.halted.Load()
}

// sourceAdapter adapts a source.Source's optional setter interfaces to
// schedule.SourceOps, reporting an error for any control the
// underlying source does not implement.
type sourceAdapter struct {
	src source.Source
}

func (a sourceAdapter) SetFrequency(freq, lnb float64) error {
	s, ok := a.src.(source.FrequencySetter)
	if !ok {
		return fmt.Errorf("analyzer: source does not support frequency changes")
	}
	return s.SetFrequency(freq - lnb)
}

func (a sourceAdapter) SetBandwidth(bw float64) error {
	s, ok := a.src.(source.BandwidthSetter)
	if !ok {
		return fmt.Errorf("analyzer: source does not support bandwidth changes")
	}
	return s.SetBandwidth(bw)
}

func (a sourceAdapter) SetPPM(ppm float64) error {
	s, ok := a.src.(source.PPMSetter)
	if !ok {
		return fmt.Errorf("analyzer: source does not support PPM changes")
	}
	return s.SetPPM(ppm)
}

func (a sourceAdapter) SetGain(name string, value float64) error {
	s, ok := a.src.(source.GainSetter)
	if !ok {
		return fmt.Errorf("analyzer: source does not support gain changes")
	}
	return s.SetGain(name, value)
}

func (a sourceAdapter) SetAntenna(name string) error {
	s, ok := a.src.(source.AntennaSetter)
	if !ok {
		return fmt.Errorf("analyzer: source does not support antenna changes")
	}
	return s.SetAntenna(name)
}

func (a sourceAdapter) SetDCRemove(remove bool) error {
	s, ok := a.src.(source.DCRemoveSetter)
	if !ok {
		return fmt.Errorf("analyzer: source does not support DC-remove changes")
	}
	return s.SetDCRemove(remove)
}

func (a sourceAdapter) SetAGC(enable bool) error {
	s, ok := a.src.(source.AGCSetter)
	if !ok {
		return fmt.Errorf("analyzer: source does not support AGC changes")
	}
	return s.SetAGC(enable)
}

var _ io.Closer = (*Local)(nil)

// Close is an alias for Halt, satisfying io.Closer for callers that
// manage a Local alongside other closable resources.
func (l *Local) Close() error {
	l.Halt()
	return nil
}
