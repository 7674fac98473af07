package atem

import (
	"context"
	"encoding/binary"
	"net"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/studio-core/internal/device"
	"github.com/nerrad567/studio-core/internal/switching"
)

// MockSDK is a test implementation of SDK.
type MockSDK struct {
	mu      sync.Mutex
	calls   []string
	running chan struct{}

	onState   func(string)
	onTally   func([]TallyState)
	onProgram func(int)
	onPreview func(int)
}

func NewMockSDK() *MockSDK {
	return &MockSDK{running: make(chan struct{}, 1)}
}

func (m *MockSDK) Run(ctx context.Context, _ string) error {
	m.running <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func (m *MockSDK) OnState(fn func(string))       { m.onState = fn }
func (m *MockSDK) OnTally(fn func([]TallyState)) { m.onTally = fn }
func (m *MockSDK) OnProgram(fn func(int))        { m.onProgram = fn }
func (m *MockSDK) OnPreview(fn func(int))        { m.onPreview = fn }
func (m *MockSDK) Cut() error                    { return m.record("cut") }
func (m *MockSDK) Auto() error                   { return m.record("auto") }
func (m *MockSDK) SetProgram(input int) error    { return m.record("program", input) }
func (m *MockSDK) SetPreview(input int) error    { return m.record("preview", input) }
func (m *MockSDK) SetTransition(style, frames int) error {
	return m.record("style", style, frames)
}

func (m *MockSDK) record(name string, args ...int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range args {
		name += " " + strconv.Itoa(a)
	}
	m.calls = append(m.calls, name)
	return nil
}

func (m *MockSDK) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

func newTestAtem(t *testing.T, inputs int) (*Atem, *MockSDK) {
	t.Helper()
	sdk := NewMockSDK()
	a := New(Config{Name: "ATEM", Host: "127.0.0.1", Inputs: inputs}, device.NewRegistry(), sdk, nil)
	a.Start(context.Background())
	t.Cleanup(a.Stop)

	select {
	case <-sdk.running:
	case <-time.After(time.Second):
		t.Fatal("SDK Run not called")
	}
	return a, sdk
}

func TestAtem_ConnectionFromStateCallback(t *testing.T) {
	a, sdk := newTestAtem(t, 4)

	if a.Connected() {
		t.Fatal("connected before the SDK reported it")
	}
	sdk.onState(StateConnected)
	if !a.Connected() {
		t.Fatal("not connected after state callback")
	}
	sdk.onState(StateDisconnected)
	if a.Connected() {
		t.Error("still connected after disconnected callback")
	}
}

func TestAtem_TallyNormalised(t *testing.T) {
	a, sdk := newTestAtem(t, 0)
	sdk.onState(StateConnected)

	sdk.onTally([]TallyState{
		{},
		{Program: true},
		{Preview: true},
		{Program: true, Preview: true},
	})

	want := []int{0, 1, 2, 1}
	if got := a.Tallies(); !slices.Equal(got, want) {
		t.Errorf("Tallies() = %v, want %v", got, want)
	}
	if a.InputCount() != 4 {
		t.Errorf("InputCount() = %d, want 4", a.InputCount())
	}
}

func TestAtem_Commands(t *testing.T) {
	a, sdk := newTestAtem(t, 4)

	if a.Invoke("cut") {
		t.Error("cut while disconnected = true")
	}
	sdk.onState(StateConnected)

	tests := []struct {
		name   string
		method string
		args   []any
		want   bool
	}{
		{"cut", "cut", nil, true},
		{"mix transition", "transition", []any{1000, "mix"}, true},
		{"vmix effect name", "transition", []any{200, "Fade"}, true},
		{"unknown effect", "transition", []any{200, "Explode"}, false},
		{"preview", "switchInput", []any{2}, true},
		{"program", "switchInput", []any{3, "program"}, true},
		{"out of range", "switchInput", []any{5, "program"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Invoke(tt.method, tt.args...); got != tt.want {
				t.Errorf("%s(%v) = %v, want %v", tt.method, tt.args, got, tt.want)
			}
		})
	}

	want := []string{"cut", "style 0 25", "auto", "style 0 5", "auto", "preview 2", "program 3"}
	if got := sdk.Calls(); !slices.Equal(got, want) {
		t.Errorf("SDK calls = %q, want %q", got, want)
	}
}

func TestAtem_ProgramEchoEmitsAction(t *testing.T) {
	a, sdk := newTestAtem(t, 4)
	sdk.onState(StateConnected)

	var actions []device.Action
	a.Events().Subscribe(func(ev device.Event) {
		if ev.Kind == device.EventAction {
			actions = append(actions, ev.Action)
		}
	})

	sdk.onProgram(2)
	sdk.onProgram(2)
	sdk.onPreview(3)

	if len(actions) != 2 {
		t.Fatalf("actions = %+v, want 2", actions)
	}
	if !slices.Equal(actions[0].Args, []any{2, switching.BusProgram}) {
		t.Errorf("program action = %+v", actions[0])
	}
}

// fakeSwitcher answers the hello and sends an initial state dump.
func fakeSwitcher(t *testing.T) (*net.UDPConn, <-chan []byte) {
	t.Helper()
	pc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pc.Close() })

	recv := make(chan []byte, 32)
	go func() {
		buf := make([]byte, 2048)
		for {
			n, addr, err := pc.ReadFromUDP(buf)
			if err != nil {
				return
			}
			pkt := slices.Clone(buf[:n])
			recv <- pkt

			h, err := DecodeHeader(pkt)
			if err != nil || h.Flags&FlagHello == 0 {
				continue
			}
			_, _ = pc.WriteToUDP(Header{Flags: FlagHello, Session: 0x8001}.Encode(make([]byte, 8)), addr)

			tally := []byte{0, 3, 0x01, 0x02, 0x00}
			prg := make([]byte, 4)
			binary.BigEndian.PutUint16(prg[2:4], 1)
			dump := EncodeCommands(
				Command{Name: "TlIn", Data: tally},
				Command{Name: "PrgI", Data: prg},
				Command{Name: "InCm", Data: []byte{1, 0, 0, 0}},
			)
			_, _ = pc.WriteToUDP(Header{Flags: FlagAckRequest, Session: 0x8001, PacketID: 1}.Encode(dump), addr)
		}
	}()
	return pc, recv
}

func TestClient_Handshake(t *testing.T) {
	pc, recv := fakeSwitcher(t)

	a := New(Config{Name: "ATEM", Host: "127.0.0.1", Port: pc.LocalAddr().(*net.UDPAddr).Port}, device.NewRegistry(), nil, nil)
	a.Start(context.Background())
	defer a.Stop()

	hello := <-recv
	if !slices.Equal(hello, HelloPacket()) {
		t.Fatalf("hello = % x", hello)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !a.Connected() {
		time.Sleep(5 * time.Millisecond)
	}
	if !a.Connected() {
		t.Fatal("not connected after InCm")
	}
	if got := a.Tallies(); !slices.Equal(got, []int{1, 2, 0}) {
		t.Errorf("Tallies() = %v", got)
	}
	if a.Program() != 1 {
		t.Errorf("Program() = %d, want 1", a.Program())
	}

	if !a.Invoke("cut") {
		t.Fatal("cut = false")
	}
	for {
		select {
		case pkt := <-recv:
			h, _ := DecodeHeader(pkt)
			if h.Flags&FlagAckRequest == 0 {
				continue
			}
			cmds := DecodeCommands(pkt[headerSize:])
			if len(cmds) != 1 || cmds[0].Name != "DCut" {
				t.Fatalf("commands = %+v", cmds)
			}
			if h.Session != 0x8001 {
				t.Errorf("session = %#x, want 0x8001", h.Session)
			}
			return
		case <-time.After(2 * time.Second):
			t.Fatal("DCut not received")
		}
	}
}

func TestPacketCodec(t *testing.T) {
	h := Header{Flags: FlagAckRequest | FlagRetransmit, Session: 0x1234, AckID: 7, PacketID: 42}
	pkt := h.Encode(EncodeCommands(Command{Name: "DCut", Data: []byte{0, 0, 0, 0}}))

	got, err := DecodeHeader(pkt)
	if err != nil {
		t.Fatal(err)
	}
	h.Length = uint16(len(pkt))
	if got != h {
		t.Errorf("DecodeHeader() = %+v, want %+v", got, h)
	}

	cmds := DecodeCommands(append(pkt[headerSize:], 0x00, 0x20, 0, 0))
	if len(cmds) != 1 || cmds[0].Name != "DCut" {
		t.Errorf("DecodeCommands() = %+v", cmds)
	}

	if _, err := DecodeHeader([]byte{1, 2}); err == nil {
		t.Error("short header decoded")
	}
}

func TestClient_MalformedPacketsDropped(t *testing.T) {
	var tallies int
	c := NewClient()
	c.OnTally(func([]TallyState) { tallies++ })

	valid := Header{Session: 0x8001}.Encode(EncodeCommands(Command{Name: "TlIn", Data: []byte{0, 2, 1, 0}}))

	lengthWord := func(n int) []byte {
		pkt := slices.Clone(valid)
		binary.BigEndian.PutUint16(pkt[0:2], uint16(n))
		return pkt
	}

	tests := []struct {
		name string
		pkt  []byte
	}{
		{"empty", nil},
		{"short header", []byte{0x08, 0x0c, 0, 0}},
		{"length below header", lengthWord(4)},
		{"length zero", lengthWord(0)},
		{"length beyond datagram", lengthWord(len(valid) + 1)},
		{"truncated command", valid[:headerSize+3]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.handlePacket(tt.pkt)
		})
	}
	if tallies != 0 {
		t.Errorf("tally callbacks = %d, want 0", tallies)
	}

	c.handlePacket(valid)
	if tallies != 1 {
		t.Errorf("tally callbacks after valid packet = %d, want 1", tallies)
	}
}
