package matrix

import (
	"bufio"
	"context"
	"net"
	"slices"
	"testing"
	"time"

	"github.com/nerrad567/studio-core/internal/device"
)

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

func TestMatrix_LoginAndRoute(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	creds := make(chan []string, 1)
	banner := make(chan struct{})
	tie := make(chan string, 1)

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		r := bufio.NewReader(c)

		_, _ = c.Write([]byte("\xff\xfb\x01(c) Copyright 2020, Extron\r\nPassword:"))
		user, _ := r.ReadString('\n')
		pass, _ := r.ReadString('\n')
		creds <- []string{user, pass}

		<-banner
		_, _ = c.Write([]byte("Login Administrator\r\n"))

		buf := make([]byte, 16)
		n, _ := r.Read(buf)
		tie <- string(buf[:n])
		_, _ = c.Write([]byte("Out02 In03 All\r\n"))

		time.Sleep(time.Second)
	}()

	m := New(Config{
		Name:     "Extron",
		Host:     "127.0.0.1",
		Port:     ln.Addr().(*net.TCPAddr).Port,
		Password: "secret",
		Inputs:   8,
		Outputs:  8,
	}, device.NewRegistry(), nil)

	var actions []device.Action
	actionCh := make(chan device.Action, 4)
	m.Events().Subscribe(func(ev device.Event) {
		if ev.Kind == device.EventAction {
			actionCh <- ev.Action
		}
	})

	m.Start(context.Background())
	defer m.Stop()

	got := <-creds
	if !slices.Equal(got, []string{"admin\r\n", "secret\r\n"}) {
		t.Fatalf("credentials = %q", got)
	}

	time.Sleep(50 * time.Millisecond)
	if m.Connected() {
		t.Fatal("connected before the login banner")
	}

	close(banner)
	waitFor(t, "login banner", m.Connected)

	if !m.Invoke("route", 2, 3) {
		t.Fatal("route(2, 3) = false")
	}
	if s := <-tie; s != "3*2!" {
		t.Errorf("tie command = %q, want %q", s, "3*2!")
	}

	select {
	case a := <-actionCh:
		actions = append(actions, a)
	case <-time.After(2 * time.Second):
		t.Fatal("route action not emitted")
	}
	if actions[0].Method != "route" || !slices.Equal(actions[0].Args, []any{2, 3}) {
		t.Errorf("action = %+v", actions[0])
	}
	if m.Route(2) != 3 {
		t.Errorf("Route(2) = %d, want 3", m.Route(2))
	}
}

func TestMatrix_RouteValidation(t *testing.T) {
	m := New(Config{Name: "X", Inputs: 4, Outputs: 4, NCOutputs: []int{4}}, device.NewRegistry(), nil)
	m.Lifecycle().Report(true)

	tests := []struct {
		name string
		args []any
	}{
		{"output out of range", []any{5, 1}},
		{"input out of range", []any{1, 5}},
		{"nc output", []any{4, 1}},
		{"missing input", []any{1}},
		{"not a number", []any{"one", 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if m.Invoke("route", tt.args...) {
				t.Errorf("route(%v) = true", tt.args)
			}
		})
	}

	// Valid arguments but no session.
	if m.Invoke("route", 1, 1) {
		t.Error("route without a session = true")
	}
}

func TestStripTelnet(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Login Administrator", "Login Administrator"},
		{"\xff\xfb\x01Login User", "Login User"},
		{"  Out1 In2 All  ", "Out1 In2 All"},
	}
	for _, tt := range tests {
		if got := stripTelnet(tt.in); got != tt.want {
			t.Errorf("stripTelnet(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
