package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skyloom-radio/sdrcore/multicast"
)

func TestMonitorBroadcastsToConnectedClients(t *testing.T) {
	mon := NewMonitor()
	ts := httptest.NewServer(mon)
	defer ts.Close()

	wsURL := "ws" + ts.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for mon.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if mon.ClientCount() != 1 {
		t.Fatalf("ClientCount = %d, want 1", mon.ClientCount())
	}

	if err := mon.BroadcastPSD(multicast.PSDFrame{Frequency: 100e6, SampRate: 1e6, Vector: []float32{1, 2, 3}}); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading broadcast: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("message type = %d, want BinaryMessage", msgType)
	}
	if len(data) == 0 {
		t.Fatal("expected a non-empty gzip-compressed payload")
	}
}

func TestMonitorClientCountDropsOnDisconnect(t *testing.T) {
	mon := NewMonitor()
	ts := httptest.NewServer(mon)
	defer ts.Close()

	wsURL := "ws" + ts.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for mon.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for mon.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if mon.ClientCount() != 0 {
		t.Fatalf("ClientCount = %d, want 0 after disconnect", mon.ClientCount())
	}
}
