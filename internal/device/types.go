package device

import "context"

// Type identifies a device family. Each family is served by exactly one
// protocol adapter.
type Type string

// Device families.
const (
	TypeVmix     Type = "vmix"
	TypeAtem     Type = "atem"
	TypeVideohub Type = "videohub"
	TypeMatrix   Type = "matrix"
	TypeAudio    Type = "audio"
	TypeNetwork  Type = "network"
	TypeModem    Type = "modem"
	TypeUPS      Type = "ups"
	TypePlug     Type = "plug"
)

// AllTypes lists every known device family in display order.
var AllTypes = []Type{
	TypeVmix, TypeAtem, TypeVideohub, TypeMatrix,
	TypeAudio, TypeNetwork, TypeModem, TypeUPS, TypePlug,
}

// Kind groups device families that share a command surface. Linking and
// wildcard dispatch operate within a kind.
type Kind string

// Device kinds.
const (
	KindMixer  Kind = "mixer"
	KindRouter Kind = "router"
	KindOther  Kind = "other"
)

// Kind returns the kind a device family belongs to.
func (t Type) Kind() Kind {
	switch t {
	case TypeVmix, TypeAtem:
		return KindMixer
	case TypeVideohub, TypeMatrix:
		return KindRouter
	default:
		return KindOther
	}
}

// Valid reports whether t is a known device family.
func (t Type) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Device is the contract every adapter satisfies.
//
// Commands are invoked by name through Invoke so that the registry, the
// MQTT/HTTP transports and the link mirror can all dispatch without knowing
// the concrete type. Invoke never blocks on the network and returns false
// for unknown methods, invalid arguments or a disconnected transport.
type Device interface {
	Type() Type
	Kind() Kind
	Name() string
	Hostname() string
	Connected() bool
	Events() *Emitter
	Status() Status
	Invoke(method string, args ...any) bool
	Start(ctx context.Context)
	Stop()
}

// TallySource is implemented by devices that report a tally vector.
// Position i of the returned slice is input i+1.
type TallySource interface {
	Tallies() []int
}

// Waker is implemented by devices that can be woken over the network.
type Waker interface {
	Wake() error
}

// TelemetrySource is implemented by polled devices whose readings are
// recorded as time series. Keys are field names, values are numbers,
// strings or bools.
type TelemetrySource interface {
	Telemetry() map[string]any
}

// Linkable is implemented by devices that can follow a master.
// LinkedTo returns the master's name, or "" when unlinked.
type Linkable interface {
	LinkedTo() string
}

// Status is the plain snapshot published to clients.
//
// Details carries the type-specific fields (tallies, inputs, outputs,
// linked/slaves, telemetry properties).
type Status struct {
	Type      Type   `json:"type"`
	Hostname  string `json:"hostname"`
	Name      string `json:"name"`
	WOL       bool   `json:"wol"`
	Connected bool   `json:"connected"`
	Details   any    `json:"details,omitempty"`
}
