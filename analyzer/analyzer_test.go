package analyzer

import (
	"testing"
	"time"

	"github.com/skyloom-radio/sdrcore/inspector"
	"github.com/skyloom-radio/sdrcore/psd"
	"github.com/skyloom-radio/sdrcore/source"
)

func newToneConfig() source.Config {
	return source.Config{
		Type:     source.TypeToneGenerator,
		Freq:     100e6,
		SampRate: 48000,
	}
}

func testParams() Params {
	return Params{
		Mode:                  ModeChannel,
		Window:                psd.WindowNone,
		WindowSize:            64,
		PSDUpdateInterval:     time.Millisecond,
		ChannelUpdateInterval: time.Millisecond,
	}
}

func readUntil(t *testing.T, l *Local, want MessageType, timeout time.Duration) any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		msg, ok := l.ReadMessage(50 * time.Millisecond)
		if !ok {
			continue
		}
		if MessageType(msg.Type) == want {
			return msg.Payload
		}
	}
	t.Fatalf("timed out waiting for message type %v", want)
	return nil
}

func TestOpenEmitsSourceInfoThenParams(t *testing.T) {
	l, err := Open(testParams(), newToneConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Halt()

	msg, ok := l.ReadMessage(time.Second)
	if !ok || MessageType(msg.Type) != MsgSourceInfo {
		t.Fatalf("first message = %+v, %v, want MsgSourceInfo", msg, ok)
	}
	msg, ok = l.ReadMessage(time.Second)
	if !ok || MessageType(msg.Type) != MsgParams {
		t.Fatalf("second message = %+v, %v, want MsgParams", msg, ok)
	}
}

func TestTickEmitsPSD(t *testing.T) {
	l, err := Open(testParams(), newToneConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Halt()

	payload := readUntil(t, l, MsgPSD, 2*time.Second)
	psdMsg, ok := payload.(PSDMessage)
	if !ok {
		t.Fatalf("payload type = %T", payload)
	}
	if len(psdMsg.Vector) != 64 {
		t.Fatalf("len(Vector) = %d, want 64", len(psdMsg.Vector))
	}
}

func TestSetFrequencyAppliesToSource(t *testing.T) {
	l, err := Open(testParams(), newToneConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Halt()

	l.SetFrequency(105e6, 0)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.src.Info().Frequency == 105e6 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("source frequency was not updated")
}

func TestOpenAndCloseInspector(t *testing.T) {
	l, err := Open(testParams(), newToneConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Halt()

	l.OpenInspector(7, inspector.ChannelSpec{Class: "audio", Frequency: 100e6, Bandwidth: 3000}, inspector.NoParent)

	payload := readUntilSkippingRoutine(t, l, MsgInspectorOpen, 2*time.Second)
	open, ok := payload.(InspectorOpenMessage)
	if !ok {
		t.Fatalf("payload type = %T", payload)
	}
	if open.RequestID != 7 || open.Err != nil {
		t.Fatalf("open result = %+v", open)
	}

	l.CloseInspector(open.Handle)
	payload = readUntilSkippingRoutine(t, l, MsgInspectorClose, 2*time.Second)
	closeMsg, ok := payload.(InspectorCloseMessage)
	if !ok || closeMsg.Handle != open.Handle {
		t.Fatalf("close result = %+v, %v", closeMsg, ok)
	}
}

// readUntilSkippingRoutine is identical to readUntil; PSD/sourceinfo
// traffic interleaves with the messages under test so both helpers
// simply keep reading until the wanted type shows up.
func readUntilSkippingRoutine(t *testing.T, l *Local, want MessageType, timeout time.Duration) any {
	return readUntil(t, l, want, timeout)
}

func TestHaltIsIdempotent(t *testing.T) {
	l, err := Open(testParams(), newToneConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}

	l.Halt()
	l.Halt()

	if !l.Halted() {
		t.Fatal("expected Halted() to report true after Halt")
	}
}

func TestEOSOnSourceCancel(t *testing.T) {
	l, err := Open(testParams(), newToneConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Halt()

	l.src.Cancel()

	_ = readUntil(t, l, MsgEOS, 2*time.Second)
}
