package device

import (
	"sync"
)

// Wildcard is the dispatch target that selects every device in a group.
const Wildcard = "*"

// MethodWake is accepted by every device with a Wake-on-LAN address. It is
// handled here rather than by the adapter.
const MethodWake = "wake"

// Invoke runs method on d, handling MethodWake for Wakers.
func Invoke(d Device, method string, args ...any) bool {
	if method == MethodWake {
		w, ok := d.(Waker)
		return ok && w.Wake() == nil
	}
	return d.Invoke(method, args...)
}

// Registry is the process-wide collection of devices.
//
// Devices are appended once at startup and never removed. The registry lock
// only guards the collection itself; each device publishes its own state.
//
// Names are expected to be unique. When two devices share a name, neither is
// reachable through ByName (ErrAmbiguousName); they remain reachable through
// ByType, ByKind and wildcard dispatch.
//
// All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	devices []Device
	byType  map[Type][]Device
	byName  map[string][]Device
	logger  Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[Type][]Device),
		byName: make(map[string][]Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register appends d to the registry.
func (r *Registry) Register(d Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices = append(r.devices, d)
	r.byType[d.Type()] = append(r.byType[d.Type()], d)
	r.byName[d.Name()] = append(r.byName[d.Name()], d)

	if n := len(r.byName[d.Name()]); n > 1 {
		r.logger.Warn("duplicate device name, name lookups will fail",
			"name", d.Name(),
			"count", n,
		)
	}
	r.logger.Debug("device registered", "name", d.Name(), "type", string(d.Type()))
}

// All returns every registered device in registration order.
func (r *Registry) All() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// ByType returns the devices of a family in registration order.
func (r *Registry) ByType(t Type) []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.byType[t]
	out := make([]Device, len(list))
	copy(out, list)
	return out
}

// ByKind returns the devices of a kind in registration order.
func (r *Registry) ByKind(k Kind) []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Device
	for _, d := range r.devices {
		if d.Kind() == k {
			out = append(out, d)
		}
	}
	return out
}

// ByName returns the device with the given display name.
//
// Returns ErrDeviceNotFound when no device has the name and ErrAmbiguousName
// when more than one does.
func (r *Registry) ByName(name string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch list := r.byName[name]; len(list) {
	case 0:
		return nil, ErrDeviceNotFound
	case 1:
		return list[0], nil
	default:
		return nil, ErrAmbiguousName
	}
}

// Slaves returns the devices currently linked to the named master.
// The result is computed on every call.
func (r *Registry) Slaves(master string) []Device {
	if master == "" {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Device
	for _, d := range r.devices {
		if l, ok := d.(Linkable); ok && l.LinkedTo() == master {
			out = append(out, d)
		}
	}
	return out
}

// Group resolves a dispatch group, which may name either a kind ("mixer")
// or a family ("vmix").
func (r *Registry) Group(group string) []Device {
	switch Kind(group) {
	case KindMixer, KindRouter, KindOther:
		return r.ByKind(Kind(group))
	}
	return r.ByType(Type(group))
}

// Dispatch invokes method on target within group.
//
// A target of Wildcard applies the command to every device in the group.
// Unknown groups, targets and methods are no-ops. Dispatch reports whether
// at least one device accepted the command.
func (r *Registry) Dispatch(group, target, method string, args ...any) bool {
	accepted := false
	matched := false

	for _, d := range r.Group(group) {
		if target != Wildcard && d.Name() != target {
			continue
		}
		matched = true
		if Invoke(d, method, args...) {
			accepted = true
		}
	}

	if !matched {
		r.logger.Debug("dispatch matched no device",
			"group", group,
			"target", target,
			"method", method,
		)
	}
	return accepted
}

// Statuses returns a status snapshot of every device in registration order.
func (r *Registry) Statuses() []Status {
	devices := r.All()
	out := make([]Status, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Status())
	}
	return out
}

// Tallies returns the latest tally vector of every connected tally source,
// keyed by device name.
func (r *Registry) Tallies() map[string][]int {
	out := make(map[string][]int)
	for _, d := range r.All() {
		src, ok := d.(TallySource)
		if !ok || !d.Connected() {
			continue
		}
		out[d.Name()] = src.Tallies()
	}
	return out
}
