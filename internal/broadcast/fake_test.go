package broadcast

import (
	"context"
	"slices"
	"sync"

	"github.com/nerrad567/studio-core/internal/device"
)

type fakeDevice struct {
	*device.Base
	mu    sync.Mutex
	calls []string
}

func newFakeDevice(t device.Type, name string) *fakeDevice {
	return &fakeDevice{Base: device.NewBase(device.BaseConfig{Type: t, Name: name, Hostname: "localhost"})}
}

func (d *fakeDevice) Status() device.Status { return d.Summary() }
func (d *fakeDevice) Start(context.Context) {}
func (d *fakeDevice) Stop()                 {}

func (d *fakeDevice) Invoke(method string, _ ...any) bool {
	if method != "cut" {
		return false
	}
	d.mu.Lock()
	d.calls = append(d.calls, method)
	d.mu.Unlock()
	return true
}

func (d *fakeDevice) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// fakeMixer reports a tally vector.
type fakeMixer struct {
	*fakeDevice
	tallyMu sync.Mutex
	tallies []int
}

func newFakeMixer(name string) *fakeMixer {
	return &fakeMixer{fakeDevice: newFakeDevice(device.TypeVmix, name)}
}

func (m *fakeMixer) Tallies() []int {
	m.tallyMu.Lock()
	defer m.tallyMu.Unlock()
	return slices.Clone(m.tallies)
}

func (m *fakeMixer) setTallies(v ...int) {
	m.tallyMu.Lock()
	m.tallies = v
	m.tallyMu.Unlock()
	m.EmitTallies(v)
}

// fakeProbe reports telemetry.
type fakeProbe struct {
	*fakeDevice
}

func (p *fakeProbe) Telemetry() map[string]any { return map[string]any{"rtt_ms": 1.5} }

type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) Publish(msg Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) channel(name string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.msgs {
		if m.Channel == name {
			out = append(out, m)
		}
	}
	return out
}

type telemetryRecorder struct {
	mu          sync.Mutex
	readings    []map[string]any
	connections []bool
}

func (t *telemetryRecorder) WriteTelemetry(_, _ string, fields map[string]any) {
	t.mu.Lock()
	t.readings = append(t.readings, fields)
	t.mu.Unlock()
}

func (t *telemetryRecorder) WriteConnection(_, _ string, connected bool) {
	t.mu.Lock()
	t.connections = append(t.connections, connected)
	t.mu.Unlock()
}
