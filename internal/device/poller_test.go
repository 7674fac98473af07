package device

import (
	"context"
	"errors"
	"net"
	"slices"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPoller_ReportsAnswer(t *testing.T) {
	b, rec := newTestBase(t)
	p := NewPoller(b.Lifecycle(), 20*time.Millisecond, 10*time.Millisecond, func(context.Context) error {
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitFor(t, b.Connected)
	waitFor(t, func() bool { return rec.count(EventConnection) >= 3 })

	if got := rec.count(EventConnected); got != 1 {
		t.Errorf("connected events = %d, want 1", got)
	}
}

func TestPoller_ErrorReportsDisconnected(t *testing.T) {
	b, rec := newTestBase(t)
	fail := make(chan bool, 1)
	fail <- false

	p := NewPoller(b.Lifecycle(), 20*time.Millisecond, 10*time.Millisecond, func(context.Context) error {
		select {
		case f := <-fail:
			if !f {
				return nil
			}
		default:
		}
		return errors.New("no route to host")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitFor(t, func() bool { return rec.count(EventDisconnected) == 1 })
	if b.Connected() {
		t.Error("Connected() = true after failed poll")
	}
}

func TestPoller_WatchdogFiresBeforeSlowAnswer(t *testing.T) {
	b, rec := newTestBase(t)
	b.Lifecycle().Report(true)

	p := NewPoller(b.Lifecycle(), time.Second, 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitFor(t, func() bool { return rec.count(EventDisconnected) == 1 })
}

func TestPoller_LateAnswerReportedAfterWatchdog(t *testing.T) {
	b, rec := newTestBase(t)
	b.Lifecycle().Report(true)

	release := make(chan struct{})
	var once sync.Once
	b.Events().Subscribe(func(ev Event) {
		if ev.Kind == EventDisconnected {
			// Let the answer arrive while this edge is still being delivered.
			once.Do(func() { close(release) })
			time.Sleep(30 * time.Millisecond)
		}
	})

	p := NewPoller(b.Lifecycle(), time.Second, 20*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitFor(t, func() bool { return rec.count(EventConnected) == 2 })

	var edges []EventKind
	rec.mu.Lock()
	for _, ev := range rec.events {
		if ev.Kind == EventConnected || ev.Kind == EventDisconnected {
			edges = append(edges, ev.Kind)
		}
	}
	rec.mu.Unlock()

	want := []EventKind{EventConnected, EventDisconnected, EventConnected}
	if !slices.Equal(edges, want) {
		t.Errorf("edges = %v, want %v", edges, want)
	}
	if !b.Connected() {
		t.Error("Connected() = false after late answer")
	}
}

func TestPoller_WatchdogSilentAfterAnswer(t *testing.T) {
	b, rec := newTestBase(t)
	p := NewPoller(b.Lifecycle(), time.Second, 20*time.Millisecond, func(context.Context) error {
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitFor(t, b.Connected)
	time.Sleep(60 * time.Millisecond)
	if got := rec.count(EventDisconnected); got != 0 {
		t.Errorf("disconnected events = %d, want 0", got)
	}
}

func TestPoller_TimeoutClamped(t *testing.T) {
	b, _ := newTestBase(t)
	p := NewPoller(b.Lifecycle(), time.Second, 5*time.Second, nil)
	if p.Timeout() != time.Second {
		t.Errorf("Timeout() = %v, want 1s", p.Timeout())
	}
}

func TestParseMAC(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"00:11:22:33:44:55", true},
		{"aa-bb-cc-dd-ee-ff", true},
		{"AA:BB:CC:DD:EE:FF", true},
		{"00:11:22:33:44", false},
		{"00:11:22:33:44:55:66", false},
		{"00:11-22:33:44:55", false},
		{"0011.2233.4455", false},
		{"", false},
		{"zz:11:22:33:44:55", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ParseMAC(tt.in)
			if (err == nil) != tt.valid {
				t.Errorf("ParseMAC(%q) error = %v, want valid=%v", tt.in, err, tt.valid)
			}
			if err != nil && !errors.Is(err, ErrInvalidMAC) {
				t.Errorf("error %v does not wrap ErrInvalidMAC", err)
			}
		})
	}
}

func TestBase_InvalidWOLIsUnsupported(t *testing.T) {
	b := NewBase(BaseConfig{Type: TypeAtem, Name: "X", WOL: "not-a-mac"})
	if b.SupportsWOL() {
		t.Error("SupportsWOL() = true for invalid MAC")
	}
	if b.Summary().WOL {
		t.Error("Summary().WOL = true for invalid MAC")
	}
	if err := b.Wake(); !errors.Is(err, ErrWOLUnsupported) {
		t.Errorf("Wake() error = %v, want ErrWOLUnsupported", err)
	}
}

func TestMagicPacket(t *testing.T) {
	mac, err := ParseMAC("01:23:45:67:89:ab")
	if err != nil {
		t.Fatal(err)
	}

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := SendMagicPacket(mac, conn.LocalAddr().String()); err != nil {
		t.Fatalf("SendMagicPacket() error = %v", err)
	}

	buf := make([]byte, 200)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 102 {
		t.Fatalf("packet length = %d, want 102", n)
	}
	for i := range 6 {
		if buf[i] != 0xFF {
			t.Fatalf("byte %d = %x, want ff", i, buf[i])
		}
	}
	if buf[6+6*15] != 0x01 || buf[101] != 0xab {
		t.Error("MAC repetitions not in place")
	}
}
