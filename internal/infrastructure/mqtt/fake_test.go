package mqtt

import (
	"errors"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken completes immediately with err.
type fakeToken struct {
	err     error
	expired bool
}

func (t fakeToken) Wait() bool                     { return !t.expired }
func (t fakeToken) WaitTimeout(time.Duration) bool { return !t.expired }
func (t fakeToken) Error() error                   { return t.err }

func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakePaho records calls made through the paho client interface.
type fakePaho struct {
	mu           sync.Mutex
	connected    bool
	published    []published
	handlers     map[string]pahomqtt.MessageHandler
	unsubscribed []string
	disconnected bool

	subscribeErr error
	publishErr   error
}

var _ pahomqtt.Client = (*fakePaho)(nil)

func newFakePaho() *fakePaho {
	return &fakePaho{connected: true, handlers: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) IsConnectionOpen() bool  { return f.IsConnected() }
func (f *fakePaho) Connect() pahomqtt.Token { return fakeToken{} }

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	f.connected = false
	f.disconnected = true
	f.mu.Unlock()
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return fakeToken{err: f.publishErr}
	}
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	}
	f.published = append(f.published, published{topic: topic, qos: qos, retained: retained, payload: b})
	return fakeToken{}
}

func (f *fakePaho) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return fakeToken{err: f.subscribeErr}
	}
	f.handlers[topic] = callback
	return fakeToken{}
}

func (f *fakePaho) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return fakeToken{err: errors.New("not supported")}
}

func (f *fakePaho) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range topics {
		delete(f.handlers, t)
	}
	f.unsubscribed = append(f.unsubscribed, topics...)
	return fakeToken{}
}

func (f *fakePaho) AddRoute(string, pahomqtt.MessageHandler) {}

func (f *fakePaho) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

// deliver invokes the handler registered for filter with a message on topic.
func (f *fakePaho) deliver(filter, topic string, payload []byte) bool {
	f.mu.Lock()
	h := f.handlers[filter]
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(f, fakeMessage{topic: topic, payload: payload})
	return true
}

// dropSubscriptions forgets every handler, as a broker does for a clean
// session after a reconnect.
func (f *fakePaho) dropSubscriptions() {
	f.mu.Lock()
	f.handlers = make(map[string]pahomqtt.MessageHandler)
	f.mu.Unlock()
}

func (f *fakePaho) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}
