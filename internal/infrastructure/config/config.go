package config

import (
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Studio Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig                `yaml:"site"`
	MQTT      MQTTConfig                `yaml:"mqtt"`
	API       APIConfig                 `yaml:"api"`
	WebSocket WebSocketConfig           `yaml:"websocket"`
	InfluxDB  InfluxDBConfig            `yaml:"influxdb"`
	Logging   LoggingConfig             `yaml:"logging"`
	Devices   map[string][]DeviceConfig `yaml:"devices"`
	Users     []UserConfig              `yaml:"users"`
}

// SiteConfig identifies the studio.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for device telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DeviceConfig describes one device. Which fields apply depends on the
// device type; unused fields are ignored.
type DeviceConfig struct {
	Name     string `yaml:"name"`
	Hostname string `yaml:"hostname"`
	Port     int    `yaml:"port"`

	// WOL is an optional Wake-on-LAN MAC address.
	WOL string `yaml:"wol"`

	// Linked names the master this mixer or router follows.
	Linked string `yaml:"linked"`

	Inputs    int   `yaml:"inputs"`
	Outputs   int   `yaml:"outputs"`
	NCInputs  []int `yaml:"nc_inputs"`
	NCOutputs []int `yaml:"nc_outputs"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Banner is the matrix login confirmation prefix.
	Banner string `yaml:"banner"`

	// Model and Serial select the audio device to bind.
	Model  string `yaml:"model"`
	Serial string `yaml:"serial"`

	// Community is the SNMP community for UPS polling.
	Community string `yaml:"community"`

	// StatusPath and LoginPath are modem HTTP endpoints.
	StatusPath string `yaml:"status_path"`
	LoginPath  string `yaml:"login_path"`

	// ReconnectInterval overrides the adapter's retry or poll interval.
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// UserConfig describes one camera operator or presenter.
type UserConfig struct {
	Username    string `yaml:"username"`
	Name        string `yaml:"name"`
	CamNumber   int    `yaml:"cam_number"`
	ChannelName string `yaml:"channel_name"`
}

// DeviceTypes lists the accepted keys of the devices section.
var DeviceTypes = []string{
	"vmix", "atem", "videohub", "matrix",
	"audio", "network", "modem", "ups", "plug",
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: STUDIOCORE_SECTION_KEY
// For example: STUDIOCORE_MQTT_HOST, STUDIOCORE_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "studio-001",
			Name: "Studio",
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "studiocore",
			},
			QoS:         1,
			TopicPrefix: "studio",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Org:           "studio",
			Bucket:        "telemetry",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: STUDIOCORE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("STUDIOCORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("STUDIOCORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("STUDIOCORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("STUDIOCORE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("STUDIOCORE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("STUDIOCORE_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("STUDIOCORE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("STUDIOCORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	for typ, list := range c.Devices {
		if !slices.Contains(DeviceTypes, typ) {
			errs = append(errs, fmt.Sprintf("devices.%s: unknown device type", typ))
			continue
		}
		for i, d := range list {
			errs = append(errs, d.validate(fmt.Sprintf("devices.%s[%d]", typ, i))...)
		}
	}

	seen := make(map[string]bool)
	for i, u := range c.Users {
		if u.Username == "" {
			errs = append(errs, fmt.Sprintf("users[%d].username is required", i))
		} else if seen[u.Username] {
			errs = append(errs, fmt.Sprintf("users[%d].username %q is duplicated", i, u.Username))
		}
		seen[u.Username] = true
		if u.CamNumber < 0 {
			errs = append(errs, fmt.Sprintf("users[%d].cam_number must not be negative", i))
		}
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (d DeviceConfig) validate(path string) []string {
	var errs []string
	if d.Name == "" {
		errs = append(errs, path+".name is required")
	}
	if d.Hostname == "" {
		errs = append(errs, path+".hostname is required")
	} else if strings.ContainsAny(d.Hostname, " /") || hasPort(d.Hostname) {
		errs = append(errs, path+".hostname must be a host name or address without a port")
	}
	if d.Port < 0 || d.Port > 65535 {
		errs = append(errs, path+".port must be between 0 and 65535")
	}
	if d.Inputs < 0 || d.Outputs < 0 {
		errs = append(errs, path+": inputs and outputs must not be negative")
	}
	if d.ReconnectInterval < 0 {
		errs = append(errs, path+".reconnect_interval must not be negative")
	}
	if d.Linked != "" && d.Linked == d.Name {
		errs = append(errs, path+".linked must name another device")
	}
	return errs
}

// hasPort reports whether host carries a ":port" suffix. Bare IPv6
// addresses are accepted.
func hasPort(host string) bool {
	if net.ParseIP(host) != nil {
		return false
	}
	return strings.Contains(host, ":")
}

// Warnings returns problems that do not stop startup. Devices sharing a
// display name cannot be addressed by name.
func (c *Config) Warnings() []string {
	var warnings []string
	count := make(map[string]int)
	for _, typ := range DeviceTypes {
		for _, d := range c.Devices[typ] {
			count[d.Name]++
			if count[d.Name] == 2 {
				warnings = append(warnings, fmt.Sprintf("device name %q is used more than once", d.Name))
			}
		}
	}
	return warnings
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
