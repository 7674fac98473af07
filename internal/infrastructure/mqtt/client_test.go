package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/studio-core/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "studiocore-test",
		},
		QoS:         1,
		TopicPrefix: "studio",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectedClient returns a Client over a fake paho client that reports
// itself connected.
func connectedClient(t *testing.T) (*Client, *fakePaho) {
	t.Helper()
	fake := newFakePaho()
	c := newClient(testConfig(), fake)
	c.connected = true
	return c, fake
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestPublish_Validation(t *testing.T) {
	c, _ := connectedClient(t)

	tests := []struct {
		name    string
		topic   string
		qos     byte
		payload []byte
		wantErr error
	}{
		{name: "empty topic", topic: "", qos: 1, wantErr: ErrInvalidTopic},
		{name: "invalid QoS", topic: "studio/x", qos: 3, wantErr: ErrInvalidQoS},
		{name: "payload too large", topic: "studio/x", qos: 1, payload: make([]byte, maxPayloadSize+1), wantErr: ErrPublishFailed},
		{name: "nil payload", topic: "studio/x", qos: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Publish() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublish_Disconnected(t *testing.T) {
	c, fake := connectedClient(t)
	fake.connected = false

	if err := c.PublishRetained("studio/x", []byte("{}")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishRetained() error = %v, want ErrNotConnected", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestPublish_TokenError(t *testing.T) {
	c, fake := connectedClient(t)
	fake.publishErr = errors.New("broker said no")

	if err := c.Publish("studio/x", nil, 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}
}

func TestPublishJSON(t *testing.T) {
	c, fake := connectedClient(t)

	if err := c.PublishJSON(c.Topics().Status("vmix", "Main"), map[string]any{"connected": true}, true); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	msgs := fake.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.topic != "studio/status/vmix/Main" || !m.retained || m.qos != 1 {
		t.Errorf("message = %+v", m)
	}
	if string(m.payload) != `{"connected":true}` {
		t.Errorf("payload = %s", m.payload)
	}

	if err := c.PublishJSON("studio/x", func() {}, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON(func) error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribe(t *testing.T) {
	c, fake := connectedClient(t)

	got := make(chan string, 1)
	err := c.Subscribe(c.Topics().AllCommands(), 1, func(topic string, payload []byte) error {
		got <- topic + "=" + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !c.HasSubscription("studio/command/+/+") || c.SubscriptionCount() != 1 {
		t.Fatal("subscription not tracked")
	}

	fake.deliver("studio/command/+/+", "studio/command/atem/Switcher", []byte("{}"))
	if msg := <-got; msg != "studio/command/atem/Switcher={}" {
		t.Errorf("handler got %q", msg)
	}

	if err := c.Unsubscribe("studio/command/+/+"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Error("subscription still tracked after Unsubscribe")
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c, fake := connectedClient(t)
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("a", 5, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos error = %v", err)
	}
	if err := c.Subscribe("a", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}

	fake.subscribeErr = errors.New("denied")
	if err := c.Subscribe("a", 1, noop); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("broker error = %v", err)
	}
	if c.HasSubscription("a") {
		t.Error("failed subscription is still tracked")
	}
}

func TestHandlerErrorsAndPanicsAreLogged(t *testing.T) {
	c, fake := connectedClient(t)
	logger := &recordingLogger{}
	c.SetLogger(logger)

	_ = c.Subscribe("err", 1, func(string, []byte) error { return errors.New("bad payload") })
	_ = c.Subscribe("panic", 1, func(string, []byte) error { panic("boom") })

	fake.deliver("err", "err", nil)
	fake.deliver("panic", "panic", nil)

	if len(logger.warns) != 1 || len(logger.errors) != 1 {
		t.Errorf("warns = %v, errors = %v", logger.warns, logger.errors)
	}
}

func TestReconnectRestoresSubscriptions(t *testing.T) {
	c, fake := connectedClient(t)
	_ = c.Subscribe("studio/command/+/+", 1, func(string, []byte) error { return nil })

	fake.dropSubscriptions()

	connects := 0
	c.SetOnConnect(func() { connects++ })
	c.handleConnect()

	if _, ok := fake.handlers["studio/command/+/+"]; !ok {
		t.Error("subscription not restored")
	}
	if connects != 1 {
		t.Errorf("onConnect called %d times, want 1", connects)
	}

	msgs := fake.messages()
	last := msgs[len(msgs)-1]
	if last.topic != "studio/system/status" || !last.retained {
		t.Fatalf("last message = %+v, want retained system status", last)
	}
	var status systemStatus
	if err := json.Unmarshal(last.payload, &status); err != nil || status.Status != "online" {
		t.Errorf("system status = %s (%v)", last.payload, err)
	}
}

func TestDisconnectCallback(t *testing.T) {
	c, _ := connectedClient(t)

	var got error
	c.SetOnDisconnect(func(err error) { got = err })
	c.handleDisconnect(errors.New("link down"))

	if got == nil || got.Error() != "link down" {
		t.Errorf("onDisconnect error = %v", got)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after connection loss")
	}
}

func TestClose(t *testing.T) {
	c, fake := connectedClient(t)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !fake.disconnected {
		t.Error("paho client not disconnected")
	}
	msgs := fake.messages()
	if len(msgs) != 1 || !strings.Contains(string(msgs[0].payload), "graceful_shutdown") {
		t.Errorf("messages = %+v, want graceful offline status", msgs)
	}

	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "studio"
	cfg.Auth.Password = "pw"

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.Username != "studio" || opts.ClientID != "studiocore-test" {
		t.Errorf("Username = %q ClientID = %q", opts.Username, opts.ClientID)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS not configured")
	}

	configureLWT(opts, NewTopics("studio"), cfg.Broker.ClientID)
	if !opts.WillEnabled || opts.WillTopic != "studio/system/status" || !opts.WillRetained {
		t.Errorf("will = %v %q %v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
}
