package switching

import (
	"context"
	"slices"
	"sync"

	"github.com/nerrad567/studio-core/internal/device"
)

// Bus names accepted by switchInput.
const (
	BusProgram = "program"
	BusPreview = "preview"
)

// Tally values.
const (
	TallyOff     = 0
	TallyProgram = 1
	TallyPreview = 2
	TallyBoth    = 3
)

// MixerMirrored lists the actions a linked mixer replays from its master.
var MixerMirrored = []string{"cut", "transition", "fade", "switchInput", "overlay"}

// MixerConfig configures the shared mixer state.
type MixerConfig struct {
	Base     *device.Base
	Registry *device.Registry

	// Inputs is the configured input count. Zero lets the adapter size the
	// mixer from what the hardware reports.
	Inputs int

	// Effect and DurationMs are the default auto transition.
	Effect     string
	DurationMs int
}

// MixerState is the type-specific part of a mixer status.
type MixerState struct {
	Inputs     []string        `json:"inputs"`
	Program    int             `json:"program"`
	Preview    int             `json:"preview"`
	Effect     string          `json:"effect"`
	DurationMs int             `json:"durationMs"`
	Tallies    []int           `json:"tallies"`
	Linked     any             `json:"linked"`
	Slaves     []device.Status `json:"slaves"`
}

// Mixer holds the state and link behaviour shared by vision mixer adapters.
//
// The adapter goroutine is the only writer; readers take copies.
type Mixer struct {
	*device.Base
	*Linker

	commands device.Commands
	autoSize bool

	mu         sync.RWMutex
	labels     []string // 1-based, index 0 unused
	program    int
	preview    int
	effect     string
	durationMs int
	tallies    []int
}

// NewMixer creates mixer state for an adapter.
func NewMixer(cfg MixerConfig) *Mixer {
	m := &Mixer{
		Base:       cfg.Base,
		commands:   device.Commands{},
		autoSize:   cfg.Inputs <= 0,
		labels:     make([]string, max(cfg.Inputs, 0)+1),
		effect:     cfg.Effect,
		durationMs: cfg.DurationMs,
	}
	if m.durationMs <= 0 {
		m.durationMs = 1000
	}
	if m.effect == "" {
		m.effect = "Fade"
	}
	m.Linker = newLinker(cfg.Base, cfg.Registry, MixerMirrored, m.Invoke)
	for name, fn := range m.Linker.linkCommands() {
		m.commands[name] = fn
	}
	return m
}

// Handle registers a command.
func (m *Mixer) Handle(method string, fn device.CommandFunc) {
	m.commands[method] = fn
}

// Invoke runs a command by name.
func (m *Mixer) Invoke(method string, args ...any) bool {
	return m.commands.Invoke(method, args...)
}

// Methods lists the registered commands.
func (m *Mixer) Methods() []string {
	return m.commands.Methods()
}

// StartLink binds pending link resolution to ctx and links to master when
// one is configured.
func (m *Mixer) StartLink(ctx context.Context, master string) {
	m.Linker.bind(ctx)
	if master != "" {
		m.Linker.Link(master)
	}
}

// StopLink drops the link.
func (m *Mixer) StopLink() {
	m.Linker.stop()
}

// InputCount returns the number of inputs.
func (m *Mixer) InputCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.labels) - 1
}

// ValidInput reports whether n is a configured input.
func (m *Mixer) ValidInput(n int) bool {
	return n >= 1 && n <= m.InputCount()
}

// Resize grows or shrinks the input list when the mixer is sized by the
// hardware. It is ignored for a configured input count.
func (m *Mixer) Resize(n int) {
	if !m.autoSize || n < 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n+1 == len(m.labels) {
		return
	}
	labels := make([]string, n+1)
	copy(labels, m.labels)
	m.labels = labels
}

// SetLabel stores an input label and reports whether it changed.
func (m *Mixer) SetLabel(n int, label string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 1 || n >= len(m.labels) || m.labels[n] == label {
		return false
	}
	m.labels[n] = label
	return true
}

// Label returns the label of input n.
func (m *Mixer) Label(n int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n < 1 || n >= len(m.labels) {
		return ""
	}
	return m.labels[n]
}

// SetProgram records the input on program.
func (m *Mixer) SetProgram(n int) {
	m.mu.Lock()
	m.program = n
	m.mu.Unlock()
}

// SetPreview records the input on preview.
func (m *Mixer) SetPreview(n int) {
	m.mu.Lock()
	m.preview = n
	m.mu.Unlock()
}

// Program returns the input on program, or 0 when unknown.
func (m *Mixer) Program() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.program
}

// Preview returns the input on preview, or 0 when unknown.
func (m *Mixer) Preview() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.preview
}

// SetTransition stores the default auto transition.
func (m *Mixer) SetTransition(effect string, durationMs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if effect != "" {
		m.effect = effect
	}
	if durationMs > 0 {
		m.durationMs = durationMs
	}
}

// Transition returns the default auto transition.
func (m *Mixer) Transition() (effect string, durationMs int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.effect, m.durationMs
}

// SetTallies publishes a new tally vector and emits a tallies event when it
// differs from the previous one.
func (m *Mixer) SetTallies(tallies []int) {
	m.mu.Lock()
	if slices.Equal(m.tallies, tallies) {
		m.mu.Unlock()
		return
	}
	m.tallies = slices.Clone(tallies)
	out := slices.Clone(tallies)
	m.mu.Unlock()

	m.EmitTallies(out)
}

// SetTally updates the tally of one input, growing the vector as needed.
func (m *Mixer) SetTally(input, value int) {
	if input < 1 {
		return
	}
	m.mu.RLock()
	next := slices.Clone(m.tallies)
	m.mu.RUnlock()

	if len(next) < input {
		next = append(next, make([]int, input-len(next))...)
	}
	next[input-1] = value
	m.SetTallies(next)
}

// Tallies returns a copy of the tally vector. Position i is input i+1.
func (m *Mixer) Tallies() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.tallies)
}

// State returns the mixer-specific status fields.
func (m *Mixer) State() MixerState {
	linked, slaves := m.Linker.linkStatus()

	m.mu.RLock()
	defer m.mu.RUnlock()
	return MixerState{
		Inputs:     slices.Clone(m.labels[1:]),
		Program:    m.program,
		Preview:    m.preview,
		Effect:     m.effect,
		DurationMs: m.durationMs,
		Tallies:    slices.Clone(m.tallies),
		Linked:     linked,
		Slaves:     slaves,
	}
}

// Status returns the full status snapshot.
func (m *Mixer) Status() device.Status {
	s := m.Summary()
	s.Details = m.State()
	return s
}
