// Command sdranalyzerd is the analyzer server process: it loads a YAML
// process configuration, wires the multicast fan-out, optional
// discovery listener, the TCP analyzer server, and the optional
// metrics/monitor/MCP HTTP surfaces, then runs until interrupted.
// Grounded on main.go's flag parsing, a package-level start time for
// uptime reporting, log.Printf-based startup logging, and an
// os/signal-driven graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skyloom-radio/sdrcore/analyzer"
	"github.com/skyloom-radio/sdrcore/config"
	"github.com/skyloom-radio/sdrcore/container"
	"github.com/skyloom-radio/sdrcore/discovery"
	"github.com/skyloom-radio/sdrcore/mcpctl"
	"github.com/skyloom-radio/sdrcore/metrics"
	"github.com/skyloom-radio/sdrcore/multicast"
	"github.com/skyloom-radio/sdrcore/psd"
	"github.com/skyloom-radio/sdrcore/server"
	"github.com/skyloom-radio/sdrcore/source"
)

// discoveryGroup is the multicast discovery group and port spec.md §6
// names: 224.4.4.4:5555.
var discoveryGroup = &net.UDPAddr{IP: net.ParseIP("224.4.4.4"), Port: 5555}

var startTime time.Time

func main() {
	startTime = time.Now()

	configPath := flag.String("config", defaultConfigPath(), "path to the process YAML configuration")
	flag.Parse()

	cfg, err := config.LoadProcessConfig(*configPath)
	if err != nil {
		log.Printf("sdranalyzerd: %v", err)
		os.Exit(1)
	}

	m := metrics.New()

	ifaceNames, err := cfg.ResolveDiscoveryInterfaces()
	if err != nil {
		log.Printf("sdranalyzerd: %v", err)
		os.Exit(1)
	}
	interfaces, err := resolveInterfaces(ifaceNames)
	if err != nil {
		log.Printf("sdranalyzerd: %v", err)
		os.Exit(1)
	}

	fanout, err := multicast.NewFanout(multicast.Config{
		Group:      discoveryGroup,
		Interfaces: interfaces,
		Host:       hostname(),
		Profiles:   []string{"sdrcore"},
	})
	if err != nil {
		log.Printf("sdranalyzerd: starting multicast fan-out: %v", err)
		os.Exit(1)
	}
	fanout.Start()
	defer fanout.Stop()

	var discoveryListener *discovery.Listener
	if cfg.Discovery.Enabled {
		discoveryListener, err = startDiscovery(cfg, interfaces)
		if err != nil {
			log.Printf("sdranalyzerd: starting discovery: %v", err)
			os.Exit(1)
		}
		defer discoveryListener.Close()
	}

	srvCfg := server.Config{
		Listen:            cfg.Server.Listen,
		ServerName:        "sdrcore",
		MaxSessions:       cfg.Server.MaxSessions,
		SessionTimeout:    time.Duration(cfg.Server.SessionTimeout) * time.Second,
		CompressPSD:       cfg.Server.CompressPSD,
		CompressThreshold: cfg.Server.CompressThresh,
		Users:             cfg.Users,
		Fanout:            fanout,
		NewAnalyzer:       newAnalyzerFactory(cfg),
	}

	srv, err := server.New(srvCfg, m)
	if err != nil {
		log.Printf("sdranalyzerd: %v", err)
		os.Exit(1)
	}
	srv.Start()
	defer srv.Stop()
	log.Printf("sdranalyzerd: analyzer server listening on %s", srv.Addr())

	var httpServers []*http.Server

	if cfg.Metrics.Enabled {
		hs := &http.Server{Addr: cfg.Metrics.Listen, Handler: srv.StatusHandler()}
		go func() {
			if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("sdranalyzerd: status/metrics server: %v", err)
			}
		}()
		httpServers = append(httpServers, hs)
		log.Printf("sdranalyzerd: status/metrics listening on %s", cfg.Metrics.Listen)
	}

	if cfg.Server.MonitorListen != "" {
		mon := server.NewMonitor()
		hs := &http.Server{Addr: cfg.Server.MonitorListen, Handler: mon}
		go func() {
			if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("sdranalyzerd: monitor server: %v", err)
			}
		}()
		httpServers = append(httpServers, hs)
		log.Printf("sdranalyzerd: monitor websocket listening on %s", cfg.Server.MonitorListen)
	}

	if cfg.MCP.Enabled {
		hs, err := startMCP(cfg, discoveryListener)
		if err != nil {
			log.Printf("sdranalyzerd: starting MCP server: %v", err)
		} else {
			httpServers = append(httpServers, hs)
			log.Printf("sdranalyzerd: MCP tool server listening on %s", cfg.MCP.Listen)
		}
	}

	waitForSignal()
	log.Printf("sdranalyzerd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, hs := range httpServers {
		hs.Shutdown(shutdownCtx)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("SDRCORE_CONFIG"); p != "" {
		return p
	}
	return "./sdrcore.yaml"
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func resolveInterfaces(names []string) ([]*net.Interface, error) {
	ifaces := make([]*net.Interface, 0, len(names))
	for _, name := range names {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("resolving interface %q: %w", name, err)
		}
		ifaces = append(ifaces, ifi)
	}
	return ifaces, nil
}

func startDiscovery(cfg *config.ProcessConfig, interfaces []*net.Interface) (*discovery.Listener, error) {
	discCfg := discovery.Config{
		Group:       discoveryGroup,
		Interfaces:  interfaces,
		SettleDelay: time.Duration(cfg.Discovery.SettleMs) * time.Millisecond,
	}

	if cfg.GeoIP.Enabled {
		enricher, err := discovery.NewGeoIPEnricher(cfg.GeoIP.DBPath)
		if err != nil {
			return nil, err
		}
		discCfg.Enricher = enricher
	}

	if cfg.MQTT.Enabled {
		repub, err := discovery.NewMQTTRepublisher(cfg.MQTT.Broker, cfg.MQTT.Topic, cfg.MQTT.Username, cfg.MQTT.Password)
		if err != nil {
			return nil, err
		}
		discCfg.Republisher = repub
	}

	return discovery.Open(discCfg)
}

// newAnalyzerFactory binds every authenticated session to its own
// remote (radiod-backed) local analyzer, sourced from the process
// config's default device parameters.
func newAnalyzerFactory(cfg *config.ProcessConfig) server.AnalyzerFactory {
	return func(user config.UserEntry) (*analyzer.Local, error) {
		params := container.NewStrMap()
		params.Set("status_addr", cfg.Source.StatusGroup)
		params.Set("data_addr", cfg.Source.DataGroup)
		params.Set("iface", cfg.Source.Interface)

		srcCfg := source.Config{
			Type:     source.TypeRemote,
			SampRate: cfg.Source.SampleRate,
			DeviceSpec: &source.DeviceSpec{
				Scope:       source.ScopeRemote,
				AnalyzerTag: "radiod",
				Params:      params,
			},
		}

		return analyzer.Open(analyzer.Params{
			Mode:                  analyzer.ModeWideSpectrum,
			Window:                psd.WindowHamming,
			WindowSize:            4096,
			PSDUpdateInterval:     100 * time.Millisecond,
			ChannelUpdateInterval: 20 * time.Millisecond,
		}, srcCfg, nil)
	}
}

func startMCP(cfg *config.ProcessConfig, discoveryListener *discovery.Listener) (*http.Server, error) {
	local, err := newAnalyzerFactory(cfg)(config.UserEntry{User: "mcp", DefaultAccess: "allow"})
	if err != nil {
		return nil, err
	}
	ctrl := mcpctl.NewController(local, discoveryListener, source.PermAll)
	mcpSrv := mcpctl.NewServer(ctrl, "sdrcore", "1.0.0")

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpSrv.HTTPServer())
	hs := &http.Server{Addr: cfg.MCP.Listen, Handler: mux}
	go func() {
		if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("sdranalyzerd: MCP server: %v", err)
		}
	}()
	return hs, nil
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}
