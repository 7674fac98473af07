package atem

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// Connection states reported to OnState.
const (
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
)

// Transition styles, in switcher order.
const (
	StyleMix     = 0
	StyleDip     = 1
	StyleWipe    = 2
	StyleDVE     = 3
	StyleStinger = 4
)

// FrameRate converts transition durations into frames.
const FrameRate = 25

// silenceTimeout ends a session that stops sending.
const silenceTimeout = 5 * time.Second

var errNoSession = errors.New("atem: no session")

// SDK is the switcher client contract the adapter drives. Connection state
// is only ever learned through OnState.
type SDK interface {
	// Run opens a session to address and blocks until it ends.
	Run(ctx context.Context, address string) error

	OnState(fn func(state string))
	OnTally(fn func(tallies []TallyState))
	OnProgram(fn func(input int))
	OnPreview(fn func(input int))

	Cut() error
	Auto() error
	SetProgram(input int) error
	SetPreview(input int) error
	SetTransition(style, frames int) error
}

// Client is a minimal UDP implementation of SDK for mix effect bus 1.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	session uint16
	localID uint16

	cbMu      sync.RWMutex
	onState   func(string)
	onTally   func([]TallyState)
	onProgram func(int)
	onPreview func(int)
}

// NewClient creates an idle client.
func NewClient() *Client {
	return &Client{}
}

// OnState sets the connection state callback.
func (c *Client) OnState(fn func(string)) {
	c.cbMu.Lock()
	c.onState = fn
	c.cbMu.Unlock()
}

func (c *Client) OnTally(fn func([]TallyState)) {
	c.cbMu.Lock()
	c.onTally = fn
	c.cbMu.Unlock()
}

func (c *Client) OnProgram(fn func(int)) {
	c.cbMu.Lock()
	c.onProgram = fn
	c.cbMu.Unlock()
}

func (c *Client) OnPreview(fn func(int)) {
	c.cbMu.Lock()
	c.onPreview = fn
	c.cbMu.Unlock()
}

// Run performs the hello handshake and processes packets until the
// switcher falls silent, the socket fails or ctx ends.
func (c *Client) Run(ctx context.Context, address string) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", address, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.session = helloSession
	c.localID = 0
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
		c.state(StateDisconnected)
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := conn.Write(HelloPacket()); err != nil {
		return fmt.Errorf("hello: %w", err)
	}

	buf := make([]byte, 2048)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(silenceTimeout)); err != nil {
			return err
		}
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return fmt.Errorf("atem: no packets for %s", silenceTimeout)
			}
			return err
		}
		c.handlePacket(buf[:n])
	}
}

func (c *Client) handlePacket(b []byte) {
	h, err := DecodeHeader(b)
	if err != nil || int(h.Length) < headerSize || int(h.Length) > len(b) {
		return
	}

	c.mu.Lock()
	c.session = h.Session
	c.mu.Unlock()

	if h.Flags&FlagHello != 0 {
		c.ack(h.Session, 0)
		return
	}
	if h.Flags&FlagAckRequest != 0 {
		c.ack(h.Session, h.PacketID)
	}
	for _, cmd := range DecodeCommands(b[headerSize:h.Length]) {
		c.handleCommand(cmd)
	}
}

func (c *Client) handleCommand(cmd Command) {
	c.cbMu.RLock()
	defer c.cbMu.RUnlock()

	switch cmd.Name {
	case "InCm":
		if c.onState != nil {
			c.onState(StateConnected)
		}
	case "TlIn":
		if tallies, ok := decodeTally(cmd.Data); ok && c.onTally != nil {
			c.onTally(tallies)
		}
	case "PrgI":
		if me, src, ok := decodeSource(cmd.Data); ok && me == 0 && c.onProgram != nil {
			c.onProgram(src)
		}
	case "PrvI":
		if me, src, ok := decodeSource(cmd.Data); ok && me == 0 && c.onPreview != nil {
			c.onPreview(src)
		}
	}
}

func (c *Client) state(s string) {
	c.cbMu.RLock()
	fn := c.onState
	c.cbMu.RUnlock()
	if fn != nil {
		fn(s)
	}
}

func (c *Client) ack(session, id uint16) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_, _ = conn.Write(AckPacket(session, id))
	}
}

// send writes commands as one reliable packet.
func (c *Client) send(cmds ...Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return errNoSession
	}
	c.localID = (c.localID + 1) & 0x7FFF
	pkt := Header{
		Flags:    FlagAckRequest,
		Session:  c.session,
		PacketID: c.localID,
	}.Encode(EncodeCommands(cmds...))

	if err := c.conn.SetWriteDeadline(time.Now().Add(time.Second)); err != nil {
		return err
	}
	_, err := c.conn.Write(pkt)
	return err
}

func meCommand(name string, data ...byte) Command {
	return Command{Name: name, Data: append([]byte{0}, data...)}
}

func sourceData(input int) []byte {
	b := []byte{0, 0, 0}
	binary.BigEndian.PutUint16(b[1:3], uint16(input))
	return b
}

func (c *Client) Cut() error  { return c.send(meCommand("DCut", 0, 0, 0)) }
func (c *Client) Auto() error { return c.send(meCommand("DAut", 0, 0, 0)) }

func (c *Client) SetProgram(input int) error {
	return c.send(meCommand("CPgI", sourceData(input)...))
}

func (c *Client) SetPreview(input int) error {
	return c.send(meCommand("CPvI", sourceData(input)...))
}

// SetTransition selects the next transition style and, for a mix, its rate.
func (c *Client) SetTransition(style, frames int) error {
	cmds := []Command{{Name: "CTTp", Data: []byte{0x01, 0, byte(style), 0}}}
	if style == StyleMix && frames > 0 {
		cmds = append(cmds, meCommand("CTMx", byte(min(frames, 250)), 0, 0))
	}
	return c.send(cmds...)
}
