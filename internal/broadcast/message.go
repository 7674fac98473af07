package broadcast

import "github.com/nerrad567/studio-core/internal/device"

// Channel names.
const (
	ChannelTallies = "tallies"
	ChannelUsers   = "users"

	prefixStatus     = "status."
	prefixDisconnect = "disconnect."
	prefixEvent      = "event."
)

// StatusChannel returns the channel carrying status snapshots for a type.
func StatusChannel(t device.Type) string { return prefixStatus + string(t) }

// DisconnectChannel returns the channel announcing lost connections.
func DisconnectChannel(t device.Type) string { return prefixDisconnect + string(t) }

// EventChannel returns the channel carrying actions, levels and link changes.
func EventChannel(t device.Type) string { return prefixEvent + string(t) }

// Message is one fan-out item.
//
// Payload is a device.Status on status and disconnect channels, the
// combined []int on tallies, []tally.User on users, and the action, level
// data or master name on event channels.
type Message struct {
	Channel string           `json:"channel"`
	Type    device.Type      `json:"type,omitempty"`
	Device  string           `json:"device,omitempty"`
	Event   device.EventKind `json:"event,omitempty"`
	Payload any              `json:"payload"`
}

// Publisher receives every broadcast message. Publish must not block.
type Publisher interface {
	Publish(msg Message)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Message)

// Publish implements Publisher.
func (f PublisherFunc) Publish(msg Message) { f(msg) }

// TelemetryWriter records polled readings. It is satisfied by
// *influxdb.Client.
type TelemetryWriter interface {
	WriteTelemetry(deviceType, name string, fields map[string]any)
	WriteConnection(deviceType, name string, connected bool)
}
