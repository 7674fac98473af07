package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nerrad567/studio-core/internal/device"
	"github.com/nerrad567/studio-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/studio-core/internal/tally"
)

// mqttQueueSize bounds the messages waiting for the broker. When the
// broker is slow the newest messages are dropped.
const mqttQueueSize = 512

// MQTTClient is the subset of *mqtt.Client used for broadcasting.
type MQTTClient interface {
	Topics() mqtt.Topics
	QoS() byte
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// MQTTPublisher forwards messages to the broker from its own goroutine.
//
// Status, tally and user messages are retained; events are not.
type MQTTPublisher struct {
	client MQTTClient
	topics mqtt.Topics
	logger device.Logger
	queue  chan Message

	mu      sync.Mutex
	dropped int
}

// NewMQTTPublisher creates a publisher. Call Run to start delivery.
func NewMQTTPublisher(client MQTTClient, logger device.Logger) *MQTTPublisher {
	if logger == nil {
		logger = device.NopLogger()
	}
	return &MQTTPublisher{
		client: client,
		topics: client.Topics(),
		logger: logger,
		queue:  make(chan Message, mqttQueueSize),
	}
}

// Publish implements Publisher. It never blocks.
func (p *MQTTPublisher) Publish(msg Message) {
	select {
	case p.queue <- msg:
	default:
		p.mu.Lock()
		p.dropped++
		n := p.dropped
		p.mu.Unlock()
		if n == 1 || n%100 == 0 {
			p.logger.Warn("mqtt broadcast queue full, dropping", "channel", msg.Channel, "dropped", n)
		}
	}
}

// Dropped returns the number of messages discarded because the queue was full.
func (p *MQTTPublisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Run delivers queued messages until ctx is cancelled.
func (p *MQTTPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-p.queue:
			if err := p.send(msg); err != nil {
				p.logger.Debug("mqtt broadcast failed", "channel", msg.Channel, "error", err)
			}
		}
	}
}

func (p *MQTTPublisher) send(msg Message) error {
	switch {
	case msg.Channel == ChannelTallies:
		return p.client.PublishJSON(p.topics.TallyCombined(), msg.Payload, true)

	case msg.Channel == ChannelUsers:
		users, ok := msg.Payload.([]tally.User)
		if !ok {
			return fmt.Errorf("users payload has type %T", msg.Payload)
		}
		for _, u := range users {
			if err := p.client.PublishJSON(p.topics.User(u.Username), u, true); err != nil {
				return err
			}
		}
		return nil

	case msg.Channel == StatusChannel(msg.Type):
		return p.client.PublishJSON(p.topics.Status(string(msg.Type), msg.Device), msg.Payload, true)

	case msg.Channel == DisconnectChannel(msg.Type), msg.Channel == EventChannel(msg.Type):
		return p.client.PublishJSON(p.topics.Event(string(msg.Type), msg.Device, string(msg.Event)), msg.Payload, false)
	}
	return nil
}

// CommandResult is published on the event topic after an MQTT command.
type CommandResult struct {
	Method   string `json:"method"`
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// SubscribeCommands routes {prefix}/command/{type}/{name} messages to the
// registry. Payloads are JSON Command objects.
func SubscribeCommands(client MQTTClient, registry *device.Registry, logger device.Logger) error {
	if logger == nil {
		logger = device.NopLogger()
	}
	topics := client.Topics()

	return client.Subscribe(topics.AllCommands(), client.QoS(), func(topic string, payload []byte) error {
		typ, segment, ok := topics.ParseCommand(topic)
		if !ok {
			return fmt.Errorf("malformed command topic %q", topic)
		}

		var cmd Command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("decode command: %w", err)
		}

		name := resolveSegment(registry, device.Type(typ), segment)
		accepted, err := Execute(registry, device.Type(typ), name, cmd)
		logger.Debug("mqtt command", "type", typ, "device", name, "method", cmd.Method, "accepted", accepted, "error", err)

		result := CommandResult{Method: cmd.Method, Accepted: accepted}
		if err != nil {
			result.Error = err.Error()
		}
		if pubErr := client.PublishJSON(topics.Event(typ, segment, "command"), result, false); pubErr != nil {
			logger.Debug("mqtt command result not published", "error", pubErr)
		}
		return err
	})
}

// resolveSegment maps a topic level back to a device name. Names that were
// escaped by mqtt.Segment are matched against their escaped form.
func resolveSegment(registry *device.Registry, t device.Type, segment string) string {
	if segment == device.Wildcard {
		return segment
	}
	for _, d := range registry.ByType(t) {
		if d.Name() == segment {
			return segment
		}
	}
	for _, d := range registry.ByType(t) {
		if mqtt.Segment(d.Name()) == segment {
			return d.Name()
		}
	}
	return segment
}
