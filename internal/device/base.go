package device

import (
	"net"
	"time"
)

// BaseConfig holds the identity shared by every device.
type BaseConfig struct {
	Type     Type
	Name     string
	Hostname string

	// WOL is the optional Wake-on-LAN MAC address. Anything that fails
	// ParseMAC leaves the device without wake support; it is never an error.
	WOL string

	// RetryInterval is the adapter's fixed reconnect/poll interval.
	RetryInterval time.Duration

	Logger Logger
}

// Base carries identity, events and the lifecycle. Adapters embed *Base.
type Base struct {
	typ       Type
	name      string
	hostname  string
	wol       net.HardwareAddr
	events    *Emitter
	lifecycle *Lifecycle
	logger    Logger
}

// NewBase creates the shared part of a device.
func NewBase(cfg BaseConfig) *Base {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	b := &Base{
		typ:      cfg.Type,
		name:     cfg.Name,
		hostname: cfg.Hostname,
		events:   NewEmitter(logger),
		logger:   logger,
	}
	if mac, err := ParseMAC(cfg.WOL); err == nil {
		b.wol = mac
	}
	b.lifecycle = newLifecycle(b, cfg.RetryInterval, logger)
	return b
}

// Type returns the device family.
func (b *Base) Type() Type { return b.typ }

// Kind returns the device kind.
func (b *Base) Kind() Kind { return b.typ.Kind() }

// Name returns the display name.
func (b *Base) Name() string { return b.name }

// Hostname returns the configured host.
func (b *Base) Hostname() string { return b.hostname }

// Events returns the device's event emitter.
func (b *Base) Events() *Emitter { return b.events }

// Lifecycle returns the connection state machine.
func (b *Base) Lifecycle() *Lifecycle { return b.lifecycle }

// Connected reports whether the device is currently connected.
func (b *Base) Connected() bool { return b.lifecycle.Connected() }

// Logger returns the device logger.
func (b *Base) Logger() Logger { return b.logger }

// SupportsWOL reports whether a valid Wake-on-LAN address is configured.
func (b *Base) SupportsWOL() bool { return b.wol != nil }

// WOLAddress returns the Wake-on-LAN MAC, or "" when unsupported.
func (b *Base) WOLAddress() string {
	if b.wol == nil {
		return ""
	}
	return b.wol.String()
}

// Wake broadcasts a magic packet for the device.
func (b *Base) Wake() error {
	if b.wol == nil {
		return ErrWOLUnsupported
	}
	return SendMagicPacket(b.wol, "")
}

// Summary returns the status fields common to every device.
func (b *Base) Summary() Status {
	return Status{
		Type:      b.typ,
		Hostname:  b.hostname,
		Name:      b.name,
		WOL:       b.wol != nil,
		Connected: b.Connected(),
	}
}

// EmitTallies publishes a tally vector.
func (b *Base) EmitTallies(tallies []int) {
	b.emit(Event{Kind: EventTallies, Tallies: tallies})
}

// EmitUpdated publishes a structural change.
func (b *Base) EmitUpdated(data any) {
	b.emit(Event{Kind: EventUpdated, Data: data})
}

// EmitLevels publishes meter/level data.
func (b *Base) EmitLevels(data any) {
	b.emit(Event{Kind: EventLevels, Data: data})
}

// EmitAction publishes a confirmed action for linked slaves.
func (b *Base) EmitAction(method string, args ...any) {
	b.emit(Event{Kind: EventAction, Action: Action{Method: method, Args: args}})
}

// EmitLink publishes a linked/unlinked notification naming the master.
func (b *Base) EmitLink(kind EventKind, master string) {
	b.emit(Event{Kind: kind, Data: master})
}

func (b *Base) emit(ev Event) {
	ev.Device = b.name
	ev.Type = b.typ
	if ev.Kind != EventConnection && ev.Kind != EventConnected && ev.Kind != EventDisconnected {
		ev.Connected = b.Connected()
	}
	b.events.Emit(ev)
}
