package switching

import (
	"context"
	"slices"
	"sync"

	"github.com/nerrad567/studio-core/internal/device"
)

// RouterMirrored lists the actions a linked router replays from its master.
var RouterMirrored = []string{"route"}

// RouterConfig configures the shared router state.
type RouterConfig struct {
	Base     *device.Base
	Registry *device.Registry

	// Inputs and Outputs are the configured port counts. Zero lets the
	// adapter size the router from what the hardware reports.
	Inputs  int
	Outputs int

	// NCInputs and NCOutputs are 1-based ports flagged as not connected.
	NCInputs  []int
	NCOutputs []int
}

// Port is one router input or output in a status snapshot.
type Port struct {
	Index int    `json:"index"`
	Label string `json:"label"`
	NC    bool   `json:"nc,omitempty"`

	// Input is the routed input (outputs only, 0 when unknown).
	Input int `json:"input,omitempty"`

	// Locked is set for outputs locked on the hardware.
	Locked bool `json:"locked,omitempty"`
}

// RouterState is the type-specific part of a router status.
type RouterState struct {
	Inputs  []Port          `json:"inputs"`
	Outputs []Port          `json:"outputs"`
	Linked  any             `json:"linked"`
	Slaves  []device.Status `json:"slaves"`
}

// Router holds the state and link behaviour shared by matrix router
// adapters. Inputs and outputs are 1-based; index 0 is unused.
type Router struct {
	*device.Base
	*Linker

	commands   device.Commands
	autoInputs bool
	autoOutput bool
	ncInputs   map[int]bool
	ncOutputs  map[int]bool

	mu           sync.RWMutex
	inputLabels  []string
	outputLabels []string
	routes       []int
	locks        []bool
}

// NewRouter creates router state for an adapter.
func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		Base:       cfg.Base,
		commands:   device.Commands{},
		autoInputs: cfg.Inputs <= 0,
		autoOutput: cfg.Outputs <= 0,
		ncInputs:   make(map[int]bool),
		ncOutputs:  make(map[int]bool),
	}
	for _, n := range cfg.NCInputs {
		r.ncInputs[n] = true
	}
	for _, n := range cfg.NCOutputs {
		r.ncOutputs[n] = true
	}
	r.resizeLocked(max(cfg.Inputs, 0), max(cfg.Outputs, 0))

	r.Linker = newLinker(cfg.Base, cfg.Registry, RouterMirrored, r.Invoke)
	for name, fn := range r.Linker.linkCommands() {
		r.commands[name] = fn
	}
	return r
}

// Handle registers a command.
func (r *Router) Handle(method string, fn device.CommandFunc) {
	r.commands[method] = fn
}

// Invoke runs a command by name.
func (r *Router) Invoke(method string, args ...any) bool {
	return r.commands.Invoke(method, args...)
}

// Methods lists the registered commands.
func (r *Router) Methods() []string {
	return r.commands.Methods()
}

// StartLink binds pending link resolution to ctx and links to master when
// one is configured.
func (r *Router) StartLink(ctx context.Context, master string) {
	r.Linker.bind(ctx)
	if master != "" {
		r.Linker.Link(master)
	}
}

// StopLink drops the link.
func (r *Router) StopLink() {
	r.Linker.stop()
}

func (r *Router) resizeLocked(inputs, outputs int) {
	grow := func(s []string, n int) []string {
		out := make([]string, n+1)
		copy(out, s)
		return out
	}
	r.inputLabels = grow(r.inputLabels, inputs)
	r.outputLabels = grow(r.outputLabels, outputs)

	routes := make([]int, outputs+1)
	copy(routes, r.routes)
	r.routes = routes

	locks := make([]bool, outputs+1)
	copy(locks, r.locks)
	r.locks = locks
}

// Resize sets the port counts reported by the hardware. Configured counts
// are never changed.
func (r *Router) Resize(inputs, outputs int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.autoInputs {
		inputs = len(r.inputLabels) - 1
	}
	if !r.autoOutput {
		outputs = len(r.outputLabels) - 1
	}
	if inputs+1 == len(r.inputLabels) && outputs+1 == len(r.outputLabels) {
		return
	}
	r.resizeLocked(inputs, outputs)
}

// InputCount returns the number of inputs, including NC placeholders.
func (r *Router) InputCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.inputLabels) - 1
}

// OutputCount returns the number of outputs, including NC placeholders.
func (r *Router) OutputCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outputLabels) - 1
}

// ValidInput reports whether n is a connected input.
func (r *Router) ValidInput(n int) bool {
	return n >= 1 && n <= r.InputCount() && !r.ncInputs[n]
}

// ValidOutput reports whether n is a connected output.
func (r *Router) ValidOutput(n int) bool {
	return n >= 1 && n <= r.OutputCount() && !r.ncOutputs[n]
}

// SetRoute records that output carries input. It reports whether the
// routing changed.
func (r *Router) SetRoute(output, input int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if output < 1 || output >= len(r.routes) || r.routes[output] == input {
		return false
	}
	r.routes[output] = input
	return true
}

// Route returns the input routed to output, or 0 when unknown.
func (r *Router) Route(output int) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if output < 1 || output >= len(r.routes) {
		return 0
	}
	return r.routes[output]
}

// SetLock records an output lock and reports whether it changed.
func (r *Router) SetLock(output int, locked bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if output < 1 || output >= len(r.locks) || r.locks[output] == locked {
		return false
	}
	r.locks[output] = locked
	return true
}

// SetInputLabel stores an input label and reports whether it changed.
func (r *Router) SetInputLabel(n int, label string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n < 1 || n >= len(r.inputLabels) || r.inputLabels[n] == label {
		return false
	}
	r.inputLabels[n] = label
	return true
}

// SetOutputLabel stores an output label and reports whether it changed.
func (r *Router) SetOutputLabel(n int, label string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n < 1 || n >= len(r.outputLabels) || r.outputLabels[n] == label {
		return false
	}
	r.outputLabels[n] = label
	return true
}

// Routes returns a copy of the routing table. Position i is output i+1.
func (r *Router) Routes() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.routes[1:])
}

// State returns the router-specific status fields.
func (r *Router) State() RouterState {
	linked, slaves := r.Linker.linkStatus()

	r.mu.RLock()
	defer r.mu.RUnlock()

	st := RouterState{
		Inputs:  make([]Port, 0, len(r.inputLabels)-1),
		Outputs: make([]Port, 0, len(r.outputLabels)-1),
		Linked:  linked,
		Slaves:  slaves,
	}
	for i := 1; i < len(r.inputLabels); i++ {
		st.Inputs = append(st.Inputs, Port{Index: i, Label: r.inputLabels[i], NC: r.ncInputs[i]})
	}
	for o := 1; o < len(r.outputLabels); o++ {
		st.Outputs = append(st.Outputs, Port{
			Index:  o,
			Label:  r.outputLabels[o],
			NC:     r.ncOutputs[o],
			Input:  r.routes[o],
			Locked: r.locks[o],
		})
	}
	return st
}

// Status returns the full status snapshot.
func (r *Router) Status() device.Status {
	s := r.Summary()
	s.Details = r.State()
	return s
}
