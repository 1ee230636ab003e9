package codec

import "testing"

type fakeClass struct{ name string }

func (c fakeClass) Name() string                            { return c.name }
func (c fakeClass) Directions() Direction                   { return DirectionBoth }
func (c fakeClass) OutputBitsPerSymbol(inputBits int) int    { return inputBits }
func (c fakeClass) New(int, Direction, map[string]string) (Instance, error) {
	return nil, nil
}

func TestRegisterAndLookup(t *testing.T) {
	defaultRegistry = &registry{classes: make(map[string]Class)}
	if err := Register(fakeClass{name: "test_class_a"}); err != nil {
		t.Fatal(err)
	}
	c, ok := Lookup("test_class_a")
	if !ok {
		t.Fatal("expected to find test_class_a")
	}
	if c.Name() != "test_class_a" {
		t.Fatalf("got %q", c.Name())
	}
}

func TestRegisterDuplicateNameFails(t *testing.T) {
	defaultRegistry = &registry{classes: make(map[string]Class)}
	if err := Register(fakeClass{name: "dup"}); err != nil {
		t.Fatal(err)
	}
	if err := Register(fakeClass{name: "dup"}); err == nil {
		t.Fatal("expected an error registering the same name twice")
	}
}

func TestNamesListsAllRegistered(t *testing.T) {
	defaultRegistry = &registry{classes: make(map[string]Class)}
	Register(fakeClass{name: "one"})
	Register(fakeClass{name: "two"})
	names := Names()
	if len(names) != 2 {
		t.Fatalf("got %d names, want 2", len(names))
	}
}

func TestSymbolBufferFansOutToListeners(t *testing.T) {
	buf := NewSymbolBuffer()
	var got []byte
	l := &Listener{OnData: func(newData []byte) int {
		got = append(got, newData...)
		return len(newData)
	}}
	buf.Plug(l)
	buf.Append([]byte{1, 2, 3})
	if string(got) != string([]byte{1, 2, 3}) {
		t.Fatalf("got %v", got)
	}
	buf.Append([]byte{4, 5})
	if string(got) != string([]byte{1, 2, 3, 4, 5}) {
		t.Fatalf("got %v", got)
	}
}

func TestSymbolBufferListenerJoiningLateSkipsPastData(t *testing.T) {
	buf := NewSymbolBuffer()
	buf.Append([]byte{1, 2, 3})

	var got []byte
	l := &Listener{OnData: func(newData []byte) int {
		got = append(got, newData...)
		return len(newData)
	}}
	buf.Plug(l)
	buf.Append([]byte{4, 5})

	if string(got) != string([]byte{4, 5}) {
		t.Fatalf("got %v, want only data appended after Plug", got)
	}
}

func TestSymbolBufferPartialConsumptionAdvancesCursorPartially(t *testing.T) {
	buf := NewSymbolBuffer()
	calls := 0
	l := &Listener{OnData: func(newData []byte) int {
		calls++
		return 1
	}}
	buf.Plug(l)
	buf.Append([]byte{1, 2, 3})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	buf.Append([]byte{4})
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (listener should see the unconsumed tail again)", calls)
	}
}

func TestSymbolBufferUnplugInvokesOnEOSWithRemainder(t *testing.T) {
	buf := NewSymbolBuffer()
	var remaining []byte
	l := &Listener{
		OnData: func(newData []byte) int { return 0 },
		OnEOS:  func(r []byte) { remaining = append([]byte(nil), r...) },
	}
	buf.Plug(l)
	buf.Append([]byte{1, 2, 3})
	if ok := buf.Unplug(l); !ok {
		t.Fatal("Unplug returned false")
	}
	if string(remaining) != string([]byte{1, 2, 3}) {
		t.Fatalf("got %v", remaining)
	}
}

func TestSymbolBufferUnplugUnknownListenerReturnsFalse(t *testing.T) {
	buf := NewSymbolBuffer()
	if buf.Unplug(&Listener{}) {
		t.Fatal("expected Unplug of an unplugged listener to return false")
	}
}

func TestSymbolBufferBytesAndLen(t *testing.T) {
	buf := NewSymbolBuffer()
	buf.Append([]byte{1, 2, 3})
	if buf.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", buf.Len())
	}
	if string(buf.Bytes()) != string([]byte{1, 2, 3}) {
		t.Fatalf("Bytes() = %v", buf.Bytes())
	}
}
