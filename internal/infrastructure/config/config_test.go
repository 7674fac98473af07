package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "studio.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
site:
  id: "studio-a"
mqtt:
  broker:
    host: "broker.local"
  topic_prefix: "studio-a"
devices:
  vmix:
    - name: "Main"
      hostname: "10.0.0.10"
    - name: "Backup"
      hostname: "10.0.0.11"
      linked: "Main"
      wol: "00:11:22:33:44:55"
  videohub:
    - name: "Router"
      hostname: "10.0.0.20"
      nc_inputs: [39, 40]
      reconnect_interval: 2s
users:
  - username: "cam1"
    name: "Alice"
    cam_number: 1
    channel_name: "Cam 1"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "studio-a" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "studio-a")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want default 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.TopicPrefix != "studio-a" {
		t.Errorf("MQTT.TopicPrefix = %q, want %q", cfg.MQTT.TopicPrefix, "studio-a")
	}

	vmix := cfg.Devices["vmix"]
	if len(vmix) != 2 {
		t.Fatalf("len(Devices[vmix]) = %d, want 2", len(vmix))
	}
	if vmix[1].Linked != "Main" || vmix[1].WOL != "00:11:22:33:44:55" {
		t.Errorf("Devices[vmix][1] = %+v", vmix[1])
	}

	hub := cfg.Devices["videohub"][0]
	if hub.ReconnectInterval != 2*time.Second {
		t.Errorf("ReconnectInterval = %v, want 2s", hub.ReconnectInterval)
	}
	if len(hub.NCInputs) != 2 || hub.NCInputs[1] != 40 {
		t.Errorf("NCInputs = %v, want [39 40]", hub.NCInputs)
	}

	if len(cfg.Users) != 1 || cfg.Users[0].CamNumber != 1 || cfg.Users[0].ChannelName != "Cam 1" {
		t.Errorf("Users = %+v", cfg.Users)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/studio.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
site:
  id: ""
api:
  port: 8080
`)

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		cfg := defaultConfig()
		cfg.Devices = map[string][]DeviceConfig{
			"atem": {{Name: "Switcher", Hostname: "10.0.0.30"}},
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "missing site ID",
			mutate:  func(c *Config) { c.Site.ID = "" },
			wantErr: "site.id",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name:    "influxdb without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url",
		},
		{
			name:    "unknown device type",
			mutate:  func(c *Config) { c.Devices["toaster"] = []DeviceConfig{{Name: "T", Hostname: "t"}} },
			wantErr: "devices.toaster",
		},
		{
			name:    "device without hostname",
			mutate:  func(c *Config) { c.Devices["atem"][0].Hostname = "" },
			wantErr: "devices.atem[0].hostname",
		},
		{
			name:    "hostname with port",
			mutate:  func(c *Config) { c.Devices["atem"][0].Hostname = "10.0.0.30:9910" },
			wantErr: "without a port",
		},
		{
			name:   "bare IPv6 hostname",
			mutate: func(c *Config) { c.Devices["atem"][0].Hostname = "fd00::30" },
		},
		{
			name:    "device linked to itself",
			mutate:  func(c *Config) { c.Devices["atem"][0].Linked = "Switcher" },
			wantErr: "linked",
		},
		{
			name: "duplicate username",
			mutate: func(c *Config) {
				c.Users = []UserConfig{{Username: "cam1"}, {Username: "cam1"}}
			},
			wantErr: "duplicated",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateReportsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Site.ID = ""
	cfg.MQTT.QoS = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	for _, want := range []string{"site.id", "mqtt.qos"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error = %v, missing %q", err, want)
		}
	}
}

func TestConfig_Warnings(t *testing.T) {
	cfg := defaultConfig()
	cfg.Devices = map[string][]DeviceConfig{
		"vmix":  {{Name: "Main"}},
		"atem":  {{Name: "Main"}},
		"plug":  {{Name: "Lamp"}},
		"modem": {{Name: "Main"}},
	}

	warnings := cfg.Warnings()
	if len(warnings) != 1 || !strings.Contains(warnings[0], `"Main"`) {
		t.Errorf("Warnings() = %v, want one warning for Main", warnings)
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("STUDIOCORE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("STUDIOCORE_MQTT_USERNAME", "testuser")
	t.Setenv("STUDIOCORE_MQTT_PASSWORD", "testpass")
	t.Setenv("STUDIOCORE_API_HOST", "192.168.1.1")
	t.Setenv("STUDIOCORE_API_PORT", "9090")
	t.Setenv("STUDIOCORE_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("STUDIOCORE_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}

	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}

	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}

	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}

	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}

	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Site.ID == "" {
		t.Error("defaultConfig should have non-empty Site.ID")
	}

	if cfg.MQTT.TopicPrefix != "studio" {
		t.Errorf("defaultConfig MQTT.TopicPrefix = %q, want %q", cfg.MQTT.TopicPrefix, "studio")
	}

	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig should validate, got %v", err)
	}
}
