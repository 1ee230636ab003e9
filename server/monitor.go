package server

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skyloom-radio/sdrcore/multicast"
)

// Monitor is the optional read-only browser-facing mirror of the PSD
// stream: spec.md §4.M calls it strictly additive, never a substitute
// for the CBOR/TCP control path. Follows websocket.go's wsConn
// (per-connection write mutex, buffered writer channel so one slow
// client can't stall the broadcast, gzip-compressed JSON frames) but
// stripped to the one message type this module needs.
type Monitor struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*monitorClient]struct{}
}

type monitorClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	out     chan []byte
	done    chan struct{}
}

// monitorFrame is the JSON shape a browser dashboard receives, one per
// PSD measurement.
type monitorFrame struct {
	Frequency float64   `json:"frequency"`
	SampRate  float64   `json:"sample_rate"`
	Timestamp time.Time `json:"timestamp"`
	Vector    []float32 `json:"vector"`
}

// NewMonitor returns an empty monitor ready to accept websocket
// upgrades and broadcast frames.
func NewMonitor() *Monitor {
	return &Monitor{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 65536,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*monitorClient]struct{}),
	}
}

// ServeHTTP upgrades the request to a websocket and registers the
// connection as a broadcast target until it errors out or is closed.
func (mon *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := mon.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: monitor: upgrade: %v", err)
		return
	}

	c := &monitorClient{conn: conn, out: make(chan []byte, 8), done: make(chan struct{})}
	mon.addClient(c)
	defer mon.removeClient(c)

	go c.writeLoop()

	// The monitor is read-only from the client's perspective; drain and
	// discard anything it sends so control frames are processed and a
	// closed connection ends the session.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			close(c.done)
			return
		}
	}
}

func (c *monitorClient) writeLoop() {
	defer c.conn.Close()
	for {
		select {
		case packet, ok := <-c.out:
			if !ok {
				return
			}
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := c.conn.WriteMessage(websocket.BinaryMessage, packet)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (mon *Monitor) addClient(c *monitorClient) {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.clients[c] = struct{}{}
}

func (mon *Monitor) removeClient(c *monitorClient) {
	mon.mu.Lock()
	delete(mon.clients, c)
	mon.mu.Unlock()
}

// BroadcastPSD gzip-compresses frame as JSON and fans it out to every
// connected client, dropping the packet for any client whose buffer is
// already full rather than blocking the caller.
func (mon *Monitor) BroadcastPSD(frame multicast.PSDFrame) error {
	packet, err := encodeMonitorFrame(frame)
	if err != nil {
		return err
	}

	mon.mu.Lock()
	defer mon.mu.Unlock()
	for c := range mon.clients {
		select {
		case c.out <- packet:
		default:
		}
	}
	return nil
}

func encodeMonitorFrame(frame multicast.PSDFrame) ([]byte, error) {
	jsonData, err := json.Marshal(monitorFrame{
		Frequency: frame.Frequency,
		SampRate:  frame.SampRate,
		Timestamp: frame.Timestamp,
		Vector:    frame.Vector,
	})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(jsonData); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ClientCount reports the number of currently connected monitor
// clients, for the /status endpoint and tests.
func (mon *Monitor) ClientCount() int {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	return len(mon.clients)
}
