// Package mcpctl exposes a permission-masked subset of the local
// analyzer's control surface as Model Context Protocol tools, so an
// LLM client can inspect and steer a running analyzer the same way a
// CBOR-speaking client does over the server package's wire protocol.
// Grounded on mcp_server.go: NewMCPServer/AddTool registration,
// GetString/GetFloat argument access, and
// NewToolResultText/NewToolResultError result construction, carried
// over unchanged since mark3labs/mcp-go's API shape already fits this
// exact concern — only the tool set and the backing domain object
// differ.
package mcpctl

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/skyloom-radio/sdrcore/analyzer"
	"github.com/skyloom-radio/sdrcore/discovery"
	"github.com/skyloom-radio/sdrcore/inspector"
	"github.com/skyloom-radio/sdrcore/source"
)

// Controller adapts a running *analyzer.Local (plus an optional
// discovery listener) to the handful of operations mcpctl's tools
// need, gating every mutating call behind the same permission mask
// spec.md §4.J's CBOR CALL dispatch enforces.
type Controller struct {
	local    *analyzer.Local
	discover *discovery.Listener
	mask     source.Permission

	mu          sync.Mutex
	latestPSD   analyzer.PSDMessage
	havePSD     bool
	openResults map[uint64]analyzer.InspectorOpenMessage
}

// NewController starts a background pump draining local's outbound
// queue to keep the latest PSD frame and inspector-open replies handy
// for tool calls, which (unlike the CBOR session loop) have no
// standing connection to push results down.
func NewController(local *analyzer.Local, discover *discovery.Listener, mask source.Permission) *Controller {
	c := &Controller{
		local:       local,
		discover:    discover,
		mask:        mask,
		openResults: make(map[uint64]analyzer.InspectorOpenMessage),
	}
	go c.pump()
	return c
}

func (c *Controller) pump() {
	for {
		msg, ok := c.local.ReadMessage(time.Second)
		if !ok {
			if c.local.Halted() {
				return
			}
			continue
		}
		switch analyzer.MessageType(msg.Type) {
		case analyzer.MsgPSD:
			c.mu.Lock()
			c.latestPSD = msg.Payload.(analyzer.PSDMessage)
			c.havePSD = true
			c.mu.Unlock()
		case analyzer.MsgInspectorOpen:
			m := msg.Payload.(analyzer.InspectorOpenMessage)
			c.mu.Lock()
			c.openResults[m.RequestID] = m
			c.mu.Unlock()
		case analyzer.MsgHalted:
			return
		}
	}
}

func (c *Controller) latest() (analyzer.PSDMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latestPSD, c.havePSD
}

func (c *Controller) waitForOpen(requestID uint64, timeout time.Duration) (analyzer.InspectorOpenMessage, bool) {
	deadline := time.Now().Add(timeout)
	for {
		c.mu.Lock()
		m, ok := c.openResults[requestID]
		if ok {
			delete(c.openResults, requestID)
		}
		c.mu.Unlock()
		if ok {
			return m, true
		}
		if time.Now().After(deadline) {
			return analyzer.InspectorOpenMessage{}, false
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// Server wraps a Controller in an MCP tool server and an HTTP
// transport, mirroring mcp_server.go's MCPServer/StreamableHTTPServer
// split.
type Server struct {
	ctrl       *Controller
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// NewServer builds the MCP tool server and registers every tool.
func NewServer(ctrl *Controller, name, version string) *Server {
	s := &Server{ctrl: ctrl}
	s.mcpServer = server.NewMCPServer(name, version, server.WithToolCapabilities(false))
	s.registerTools()
	s.httpServer = server.NewStreamableHTTPServer(s.mcpServer)
	return s
}

// HTTPServer returns the streamable-HTTP transport so the caller can
// mount it on its own *http.ServeMux alongside /status and /metrics.
func (s *Server) HTTPServer() *server.StreamableHTTPServer { return s.httpServer }

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("list_devices",
			mcp.WithDescription("List SDR devices currently announced on the local discovery multicast group, including their analyzer tag, host, advertised profiles, and location."),
		),
		s.handleListDevices,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_psd",
			mcp.WithDescription("Get the most recent power spectral density frame from the running analyzer: center frequency, sample rate, and the linear-power FFT bin vector."),
		),
		s.handleGetPSD,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("set_frequency",
			mcp.WithDescription("Retune the analyzer's source to a new center frequency."),
			mcp.WithNumber("frequency_hz",
				mcp.Description("Target center frequency in Hz"),
				mcp.Required(),
			),
		),
		s.handleSetFrequency,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("open_inspector",
			mcp.WithDescription("Open a new demodulation/decoding channel (inspector) at a given frequency and bandwidth."),
			mcp.WithString("class",
				mcp.Description("Inspector class name, e.g. 'audio' or 'raw'"),
				mcp.Required(),
			),
			mcp.WithNumber("frequency_hz",
				mcp.Description("Channel center frequency in Hz"),
				mcp.Required(),
			),
			mcp.WithNumber("bandwidth_hz",
				mcp.Description("Channel bandwidth in Hz"),
				mcp.Required(),
			),
		),
		s.handleOpenInspector,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("close_inspector",
			mcp.WithDescription("Close a previously opened inspector by its handle."),
			mcp.WithNumber("handle",
				mcp.Description("Inspector handle returned by open_inspector"),
				mcp.Required(),
			),
		),
		s.handleCloseInspector,
	)
}

func (s *Server) handleListDevices(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.ctrl.discover == nil {
		return mcp.NewToolResultError("discovery is not enabled on this instance"), nil
	}
	devices, err := s.ctrl.discover.Discover(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("discovery failed: %v", err)), nil
	}
	data, err := json.MarshalIndent(devices, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal devices: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleGetPSD(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	psdMsg, ok := s.ctrl.latest()
	if !ok {
		return mcp.NewToolResultError("no PSD frame has been produced yet"), nil
	}
	result := map[string]any{
		"frequency_hz":  psdMsg.Frequency,
		"samp_rate_hz":  psdMsg.SampRate,
		"timestamp":     psdMsg.Timestamp,
		"vector_length": len(psdMsg.Vector),
		"vector":        psdMsg.Vector,
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal PSD frame: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleSetFrequency(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.ctrl.mask.Has(source.PermSetFrequency) {
		return mcp.NewToolResultError("set_frequency is not permitted for this session"), nil
	}
	freq := req.GetFloat("frequency_hz", 0)
	if freq <= 0 {
		return mcp.NewToolResultError("frequency_hz must be positive"), nil
	}
	s.ctrl.local.SetFrequency(freq, 0)
	return mcp.NewToolResultText(fmt.Sprintf("retuned to %.0f Hz", freq)), nil
}

func (s *Server) handleOpenInspector(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.ctrl.mask.Has(source.PermOpenInspector) {
		return mcp.NewToolResultError("open_inspector is not permitted for this session"), nil
	}
	class := req.GetString("class", "")
	if class == "" {
		return mcp.NewToolResultError("class is required"), nil
	}
	freq := req.GetFloat("frequency_hz", 0)
	bw := req.GetFloat("bandwidth_hz", 0)
	if freq <= 0 || bw <= 0 {
		return mcp.NewToolResultError("frequency_hz and bandwidth_hz must be positive"), nil
	}

	requestID := uint64(time.Now().UnixNano())
	s.ctrl.local.OpenInspector(requestID, inspector.ChannelSpec{
		Class:     class,
		Frequency: freq,
		Bandwidth: bw,
	}, inspector.NoParent)

	reply, ok := s.ctrl.waitForOpen(requestID, 2*time.Second)
	if !ok {
		return mcp.NewToolResultError("timed out waiting for the inspector to open"), nil
	}
	if reply.Err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to open inspector: %v", reply.Err)), nil
	}
	data, err := json.MarshalIndent(reply.OpenResult, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal open result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleCloseInspector(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.ctrl.mask.Has(source.PermOpenInspector) {
		return mcp.NewToolResultError("close_inspector is not permitted for this session"), nil
	}
	handle := int64(req.GetFloat("handle", -1))
	if handle < 0 {
		return mcp.NewToolResultError("handle is required"), nil
	}
	s.ctrl.local.CloseInspector(handle)
	return mcp.NewToolResultText(fmt.Sprintf("close requested for handle %d", handle)), nil
}
