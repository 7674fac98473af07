package plug

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// tasmota emulates the /cm endpoint of a single-relay plug.
type tasmota struct {
	mu   sync.Mutex
	on   bool
	cmds []string
}

func (s *tasmota) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/cm" {
		http.NotFound(w, r)
		return
	}
	cmnd := r.URL.Query().Get("cmnd")

	s.mu.Lock()
	s.cmds = append(s.cmds, cmnd)
	switch strings.ToUpper(cmnd) {
	case "POWER ON":
		s.on = true
	case "POWER OFF":
		s.on = false
	case "POWER TOGGLE":
		s.on = !s.on
	}
	state := "OFF"
	if s.on {
		state = "ON"
	}
	s.mu.Unlock()

	_, _ = w.Write([]byte(`{"POWER":"` + state + `"}`))
}

func (s *tasmota) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cmds...)
}

func newTestPlug(t *testing.T, srv *httptest.Server) *Plug {
	t.Helper()
	host, port, _ := net.SplitHostPort(srv.Listener.Addr().String())
	n, _ := strconv.Atoi(port)
	return New(Config{Name: "Lights", Host: host, Port: n, Interval: 50 * time.Millisecond, Timeout: 40 * time.Millisecond}, nil)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestParsePower(t *testing.T) {
	tests := []struct {
		reply  map[string]any
		on, ok bool
	}{
		{map[string]any{"POWER": "ON"}, true, true},
		{map[string]any{"POWER": "off"}, false, true},
		{map[string]any{"POWER1": "ON", "POWER2": "OFF"}, true, true},
		{map[string]any{"Status": map[string]any{}}, false, false},
	}
	for _, tt := range tests {
		on, ok := ParsePower(tt.reply)
		if on != tt.on || ok != tt.ok {
			t.Errorf("ParsePower(%v) = %v, %v; want %v, %v", tt.reply, on, ok, tt.on, tt.ok)
		}
	}
}

func TestPlug_Commands(t *testing.T) {
	dev := &tasmota{}
	srv := httptest.NewServer(dev)
	defer srv.Close()

	p := newTestPlug(t, srv)
	if p.Invoke("on") {
		t.Fatal("on while disconnected = true")
	}

	p.Start(context.Background())
	defer p.Stop()
	waitFor(t, "connected", p.Connected)

	if !p.Invoke("on") {
		t.Fatal("on = false")
	}
	waitFor(t, "relay on", p.On)

	if !p.Invoke("toggle") {
		t.Fatal("toggle = false")
	}
	waitFor(t, "relay off", func() bool { return !p.On() })

	if p.Invoke("explode") {
		t.Error("unknown command accepted")
	}

	found := map[string]bool{}
	for _, c := range dev.commands() {
		found[c] = true
	}
	for _, want := range []string{"Power", "Power ON", "Power TOGGLE"} {
		if !found[want] {
			t.Errorf("command %q not sent; got %q", want, dev.commands())
		}
	}
}

func TestPlug_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	p := newTestPlug(t, srv)
	srv.Close()

	if err := p.poll(context.Background()); err == nil {
		t.Error("poll of a closed server succeeded")
	}
}

func TestPlug_CommandsRejectedAfterStop(t *testing.T) {
	dev := &tasmota{}
	srv := httptest.NewServer(dev)
	defer srv.Close()

	p := newTestPlug(t, srv)
	p.Start(context.Background())
	waitFor(t, "connected", p.Connected)

	// Commands racing Stop either run to completion or are rejected.
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Invoke("toggle")
		}()
	}
	p.Stop()
	wg.Wait()

	if p.Invoke("on") {
		t.Error("on after Stop = true")
	}
}
