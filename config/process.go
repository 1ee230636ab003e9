package config

import (
	"fmt"
	"net"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ProcessConfig is the process-level YAML configuration loaded once at
// startup: listen addresses, multicast parameters, the user table, and
// the optional ambient subsystems (metrics, MQTT republish, GeoIP
// enrichment, MCP control surface, RTP egress). It is distinct from the
// per-source/per-inspector Config object above.
type ProcessConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Source    SourceConfig    `yaml:"source"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	GeoIP     GeoIPConfig     `yaml:"geoip"`
	MCP       MCPConfig       `yaml:"mcp"`
	RTP       RTPConfig       `yaml:"rtp"`
	Logging   LoggingConfig   `yaml:"logging"`
	Users     []UserEntry     `yaml:"users"`
}

// ServerConfig holds the TCP control-plane listener and session limits.
type ServerConfig struct {
	Listen         string `yaml:"listen"`
	MonitorListen  string `yaml:"monitor_listen"`
	MaxSessions    int    `yaml:"max_sessions"`
	SessionTimeout int    `yaml:"session_timeout_sec"`
	CompressPSD    bool   `yaml:"compress_psd"`
	CompressThresh int    `yaml:"compress_threshold_bytes"`
}

// SourceConfig holds defaults handed to the radiod-backed remote source
// when a client opens the analyzer without an explicit device_spec.
type SourceConfig struct {
	StatusGroup string  `yaml:"status_group"`
	DataGroup   string  `yaml:"data_group"`
	Interface   string  `yaml:"interface"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// DiscoveryConfig holds multicast device-discovery parameters.
type DiscoveryConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Interfaces   []string `yaml:"interfaces"`
	SettleMs     int      `yaml:"settle_ms"`
	AnnounceSec  int      `yaml:"announce_interval_sec"`
	EnvOverride  string   `yaml:"-"`
}

// MetricsConfig enables the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// MQTTConfig enables republishing discovery/telemetry events to an MQTT
// broker.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	TLS      bool   `yaml:"tls"`
}

// GeoIPConfig enables MaxMind GeoIP2 enrichment of discovered devices.
type GeoIPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	DBPath   string `yaml:"db_path"`
}

// MCPConfig enables the Model Context Protocol tool-server control
// surface.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// RTPConfig enables Opus/RTP audio egress for demodulated inspector
// output.
type RTPConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenBase int    `yaml:"listen_base_port"`
	PayloadPT  uint8  `yaml:"payload_type"`
	Bitrate    int    `yaml:"opus_bitrate"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// UserEntry is one row of the server's user table: a login, its
// password, a default permission mask, and per-path exceptions matched
// by regular expression, evaluated by the server's HELLO handler.
type UserEntry struct {
	User          string   `yaml:"user"`
	Password      string   `yaml:"password"`
	DefaultAccess string   `yaml:"default_access"`
	Exceptions    []string `yaml:"exceptions"`

	exceptionRe []*regexp.Regexp
}

// CompileExceptions compiles every exception pattern for this user. Call
// once after loading, before using MatchesException.
func (u *UserEntry) CompileExceptions() error {
	u.exceptionRe = make([]*regexp.Regexp, 0, len(u.Exceptions))
	for _, pat := range u.Exceptions {
		re, err := regexp.Compile(pat)
		if err != nil {
			return fmt.Errorf("config: user %q exception %q: %w", u.User, pat, err)
		}
		u.exceptionRe = append(u.exceptionRe, re)
	}
	return nil
}

// MatchesException reports whether path matches one of the user's
// compiled exception patterns.
func (u *UserEntry) MatchesException(path string) bool {
	for _, re := range u.exceptionRe {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// LoadProcessConfig reads and parses a YAML process configuration file,
// applying defaults for fields left at their zero value and compiling
// every user's exception patterns.
func LoadProcessConfig(path string) (*ProcessConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg ProcessConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	for i := range cfg.Users {
		if err := cfg.Users[i].CompileExceptions(); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ProcessConfig) applyDefaults() {
	if c.Server.MaxSessions == 0 {
		c.Server.MaxSessions = 16
	}
	if c.Server.SessionTimeout == 0 {
		c.Server.SessionTimeout = 300
	}
	if c.Server.CompressThresh == 0 {
		c.Server.CompressThresh = 4096
	}
	if c.Discovery.SettleMs == 0 {
		c.Discovery.SettleMs = 2000
	}
	if c.Discovery.AnnounceSec == 0 {
		c.Discovery.AnnounceSec = 5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.RTP.PayloadPT == 0 {
		c.RTP.PayloadPT = 111
	}
}

// Validate checks the minimal set of fields the rest of the module
// assumes are present and well-formed.
func (c *ProcessConfig) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("config: server.listen is required")
	}
	if c.Server.MaxSessions < 1 {
		return fmt.Errorf("config: server.max_sessions must be at least 1")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("config: mqtt.broker is required when mqtt.enabled")
	}
	if c.GeoIP.Enabled && c.GeoIP.DBPath == "" {
		return fmt.Errorf("config: geoip.db_path is required when geoip.enabled")
	}
	return nil
}

// ResolveDiscoveryInterfaces returns the configured discovery interface
// names, falling back to every multicast-capable interface on the host
// when none are configured.
func (c *ProcessConfig) ResolveDiscoveryInterfaces() ([]string, error) {
	if len(c.Discovery.Interfaces) > 0 {
		return c.Discovery.Interfaces, nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("config: enumerate interfaces: %w", err)
	}
	var names []string
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagMulticast != 0 && ifi.Flags&net.FlagUp != 0 {
			names = append(names, ifi.Name)
		}
	}
	return names, nil
}
