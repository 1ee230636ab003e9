package wire

import (
	"bytes"
	"testing"
)

func TestFragmentRoundTrip(t *testing.T) {
	f := Fragment{Type: SFPSD, ID: 3, SFSize: 100, Offset: 20, Payload: []byte("hello")}

	var buf bytes.Buffer
	if err := WriteFragment(&buf, f); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFragment(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != f.Type || got.ID != f.ID || got.SFSize != f.SFSize || got.Offset != f.Offset {
		t.Fatalf("got = %+v, want %+v", got, f)
	}
	if !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("Payload = %q, want %q", got.Payload, f.Payload)
	}
}

func TestReadFragmentRejectsBadMagic(t *testing.T) {
	bad := make([]byte, FragmentHeaderSize)
	_, err := ReadFragment(bytes.NewReader(bad))
	if err == nil {
		t.Fatal("expected an error for a zeroed (wrong-magic) header")
	}
}

func TestPackUnpackAuthCall(t *testing.T) {
	call := Call{Type: CallAuth, Auth: &AuthCall{Nonce: []byte{1, 2, 3, 4}, Server: "sdrcore", AuthMode: "hmac"}}

	data, err := Pack(call)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unpack(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != CallAuth || got.Auth == nil {
		t.Fatalf("got = %+v", got)
	}
	if got.Auth.Server != "sdrcore" || got.Auth.AuthMode != "hmac" || !bytes.Equal(got.Auth.Nonce, call.Auth.Nonce) {
		t.Fatalf("Auth = %+v", got.Auth)
	}
}

func TestPackUnpackHelloCall(t *testing.T) {
	nonce := []byte("nonce-bytes")
	mac := ComputeHMAC("s3cr3t", nonce)
	call := Call{Type: CallHello, Hello: &HelloCall{ProtocolVersion: "1.2.0", User: "alice", HMAC: mac}}

	data, err := Pack(call)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unpack(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hello.User != "alice" || got.Hello.ProtocolVersion != "1.2.0" {
		t.Fatalf("Hello = %+v", got.Hello)
	}
	if !VerifyHMAC("s3cr3t", nonce, got.Hello.HMAC) {
		t.Fatal("expected HMAC to verify")
	}
	if VerifyHMAC("wrong", nonce, got.Hello.HMAC) {
		t.Fatal("expected HMAC to fail against the wrong password")
	}
}

func TestPackUnpackCallWithArgs(t *testing.T) {
	call := Call{Type: CallCall, Invoke: &InvokeCall{
		Method: "set_frequency",
		Args:   []any{int64(100000000), "wide", true, 3.5, nil},
	}}

	data, err := Pack(call)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unpack(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Invoke.Method != "set_frequency" {
		t.Fatalf("Method = %q", got.Invoke.Method)
	}
	if len(got.Invoke.Args) != 5 {
		t.Fatalf("len(Args) = %d, want 5", len(got.Invoke.Args))
	}
	if got.Invoke.Args[0].(int64) != 100000000 {
		t.Fatalf("Args[0] = %v", got.Invoke.Args[0])
	}
	if got.Invoke.Args[1].(string) != "wide" {
		t.Fatalf("Args[1] = %v", got.Invoke.Args[1])
	}
	if got.Invoke.Args[2].(bool) != true {
		t.Fatalf("Args[2] = %v", got.Invoke.Args[2])
	}
	if got.Invoke.Args[3].(float64) != 3.5 {
		t.Fatalf("Args[3] = %v", got.Invoke.Args[3])
	}
	if got.Invoke.Args[4] != nil {
		t.Fatalf("Args[4] = %v, want nil", got.Invoke.Args[4])
	}
}

func TestPackUnpackMessageCall(t *testing.T) {
	call := Call{Type: CallMessage, Message: &MessageCall{MsgType: 4, Payload: []byte{9, 9, 9}}}
	data, err := Pack(call)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unpack(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Message.MsgType != 4 || !bytes.Equal(got.Message.Payload, []byte{9, 9, 9}) {
		t.Fatalf("Message = %+v", got.Message)
	}
}

func TestPackUnpackShutdownCall(t *testing.T) {
	call := Call{Type: CallShutdown, Shutdown: &ShutdownCall{Reason: "bye"}}
	data, err := Pack(call)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unpack(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Shutdown.Reason != "bye" {
		t.Fatalf("Reason = %q", got.Shutdown.Reason)
	}
}

func TestNegotiateProtocolVersion(t *testing.T) {
	ok, err := NegotiateProtocolVersion("1.5.0", ">= 1.0.0, < 2.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected 1.5.0 to satisfy >= 1.0.0, < 2.0.0")
	}

	ok, err = NegotiateProtocolVersion("2.1.0", ">= 1.0.0, < 2.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected 2.1.0 to fail >= 1.0.0, < 2.0.0")
	}
}

func TestUnpackRejectsUnknownCallType(t *testing.T) {
	call := Call{Type: CallType(99)}
	if _, err := Pack(call); err == nil {
		t.Fatal("expected Pack to reject an unknown call type")
	}
	// A one-element array holding call type 99.
	if _, err := Unpack([]byte{0x81, 0x18, 0x63}); err == nil {
		t.Fatal("expected Unpack to reject an unknown call type")
	}
}
