package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/studio-core/internal/device"
	"github.com/nerrad567/studio-core/internal/infrastructure/config"
	"github.com/nerrad567/studio-core/internal/infrastructure/logging"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "studio.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  string
		want string
	}{
		{"default", nil, "", defaultConfigPath},
		{"env", nil, "/etc/studio/env.yaml", "/etc/studio/env.yaml"},
		{"long flag", []string{"--config", "/tmp/a.yaml"}, "/etc/studio/env.yaml", "/tmp/a.yaml"},
		{"short flag", []string{"-c", "/tmp/b.yaml"}, "", "/tmp/b.yaml"},
		{"equals form", []string{"--config=/tmp/c.yaml"}, "", "/tmp/c.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STUDIOCORE_CONFIG", tt.env)
			got, err := parseFlags(tt.args)
			if err != nil {
				t.Fatalf("parseFlags() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("parseFlags() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseFlags_Errors(t *testing.T) {
	if _, err := parseFlags([]string{"--bogus"}); err == nil {
		t.Error("unknown flag should fail")
	}
	if _, err := parseFlags([]string{"--help"}); !errors.Is(err, pflag.ErrHelp) {
		t.Errorf("--help error = %v, want pflag.ErrHelp", err)
	}
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, []string{"--config", "/nonexistent/path/config.yaml"}); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
mqtt:
  enabled: false
devices:
  vmix:
    - name: "Main"
`)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, []string{"--config", path}); err == nil {
		t.Fatal("run() should fail when a device has no hostname")
	}
}

// TestRun_ServesAndShutsDown starts the whole process without a broker or
// InfluxDB and checks that the API lists the configured devices.
func TestRun_ServesAndShutsDown(t *testing.T) {
	port := freePort(t)
	deadPort := freePort(t)
	path := writeConfig(t, fmt.Sprintf(`
site:
  id: "test-studio"
mqtt:
  enabled: false
influxdb:
  enabled: false
logging:
  level: error
  format: text
api:
  host: "127.0.0.1"
  port: %d
devices:
  vmix:
    - name: "Main"
      hostname: "127.0.0.1"
      port: %d
      reconnect_interval: 50ms
  videohub:
    - name: "Router"
      hostname: "127.0.0.1"
      port: %d
      reconnect_interval: 50ms
users:
  - username: "cam1"
    cam_number: 1
`, port, deadPort, deadPort))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, []string{"--config", path}) }()

	base := fmt.Sprintf("http://127.0.0.1:%d/api/v1", port)
	var resp *http.Response
	var err error
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get(base + "/devices")
		if err == nil {
			break
		}
		select {
		case runErr := <-done:
			t.Fatalf("run() exited early: %v", runErr)
		case <-time.After(20 * time.Millisecond):
		}
	}
	if err != nil {
		t.Fatalf("API never came up: %v", err)
	}

	var body struct {
		Devices []device.Status `json:"devices"`
		Count   int             `json:"count"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if decodeErr != nil {
		t.Fatalf("decode devices: %v", decodeErr)
	}
	if body.Count != 2 || body.Devices[0].Name != "Main" || body.Devices[1].Name != "Router" {
		t.Errorf("devices = %+v", body.Devices)
	}
	for _, d := range body.Devices {
		if d.Connected {
			t.Errorf("%s connected to a closed port", d.Name)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() after cancel = %v, want nil", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestBuildDevices(t *testing.T) {
	cfg := &config.Config{
		Devices: map[string][]config.DeviceConfig{
			"plug":     {{Name: "Lights", Hostname: "10.0.0.60"}},
			"vmix":     {{Name: "Main", Hostname: "10.0.0.10"}, {Name: "Backup", Hostname: "10.0.0.11", Linked: "Main"}},
			"atem":     {{Name: "ATEM", Hostname: "10.0.0.12"}},
			"videohub": {{Name: "Router", Hostname: "10.0.0.20", Inputs: 40, Outputs: 40}},
			"matrix":   {{Name: "Matrix", Hostname: "10.0.0.21", Username: "admin"}},
			"audio":    {{Name: "Desk", Hostname: "10.0.0.30", Model: "UFX"}},
			"network":  {{Name: "Core", Hostname: "10.0.0.1"}},
			"modem":    {{Name: "Uplink", Hostname: "10.0.0.40", LoginPath: "/login"}},
			"ups":      {{Name: "UPS", Hostname: "10.0.0.50", Community: "studio"}},
		},
	}

	registry := device.NewRegistry()
	log := logging.Default()
	devices, err := buildDevices(cfg, registry, log)
	if err != nil {
		t.Fatalf("buildDevices() error = %v", err)
	}

	want := []struct {
		name string
		typ  device.Type
	}{
		{"Main", device.TypeVmix},
		{"Backup", device.TypeVmix},
		{"ATEM", device.TypeAtem},
		{"Router", device.TypeVideohub},
		{"Matrix", device.TypeMatrix},
		{"Desk", device.TypeAudio},
		{"Core", device.TypeNetwork},
		{"Uplink", device.TypeModem},
		{"UPS", device.TypeUPS},
		{"Lights", device.TypePlug},
	}
	if len(devices) != len(want) {
		t.Fatalf("len(devices) = %d, want %d", len(devices), len(want))
	}
	for i, w := range want {
		if devices[i].Name() != w.name || devices[i].Type() != w.typ {
			t.Errorf("devices[%d] = %s/%s, want %s/%s", i, devices[i].Type(), devices[i].Name(), w.typ, w.name)
		}
	}
	if got := len(registry.All()); got != len(want) {
		t.Errorf("registered = %d, want %d", got, len(want))
	}
	if got := len(registry.ByKind(device.KindMixer)); got != 3 {
		t.Errorf("mixers = %d, want 3", got)
	}
}

func TestNewDevice_UnknownType(t *testing.T) {
	_, err := newDevice(device.Type("toaster"), config.DeviceConfig{Name: "T", Hostname: "x"}, device.NewRegistry(), nil)
	if err == nil {
		t.Error("newDevice() should fail for an unknown type")
	}
}

func TestRosterUsers(t *testing.T) {
	users := rosterUsers([]config.UserConfig{
		{Username: "cam1", Name: "Alice", CamNumber: 1, ChannelName: "Cam 1"},
		{Username: "dir", Name: "Director"},
	})
	if len(users) != 2 {
		t.Fatalf("len = %d, want 2", len(users))
	}
	if u := users[0]; u.Username != "cam1" || u.CamNumber != 1 || u.ChannelName != "Cam 1" || u.Name != "Alice" {
		t.Errorf("users[0] = %+v", u)
	}
	if users[1].CamNumber != 0 {
		t.Errorf("users[1].CamNumber = %d, want 0", users[1].CamNumber)
	}
}
