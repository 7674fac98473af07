// Package wire holds the TCP session plumbing shared by the socket-based
// device adapters: dialing, deadline-bounded writes that never block a
// caller for long, and line/block readers that force-close on silence.
package wire

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// Default timeouts.
const (
	// DefaultConnectTimeout bounds a single dial.
	DefaultConnectTimeout = 5 * time.Second

	// DefaultWriteTimeout bounds a single command write.
	DefaultWriteTimeout = 2 * time.Second
)

var (
	// ErrNotConnected is returned when writing without an open session.
	ErrNotConnected = errors.New("wire: not connected")

	// ErrIdleTimeout is returned when a read deadline expires.
	ErrIdleTimeout = errors.New("wire: idle timeout")
)

// Dial opens a TCP connection bounded by timeout and ctx.
func Dial(ctx context.Context, address string, timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return conn, nil
}

// Conn is the write side of one adapter's current session.
//
// Commands from other goroutines call Write; when no session is attached
// the write fails immediately rather than queueing.
type Conn struct {
	mu           sync.Mutex
	conn         net.Conn
	writeTimeout time.Duration
}

// NewConn creates an unattached Conn.
func NewConn(writeTimeout time.Duration) *Conn {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Conn{writeTimeout: writeTimeout}
}

// Attach makes nc the current session.
func (c *Conn) Attach(nc net.Conn) {
	c.mu.Lock()
	c.conn = nc
	c.mu.Unlock()
}

// Detach closes and forgets the current session.
func (c *Conn) Detach() {
	c.mu.Lock()
	nc := c.conn
	c.conn = nil
	c.mu.Unlock()

	if nc != nil {
		_ = nc.Close()
	}
}

// Attached reports whether a session is open.
func (c *Conn) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Write sends p on the current session with a short deadline. A failed
// write closes the session so the reader sees the error and the adapter
// reconnects.
func (c *Conn) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := c.conn.Write(p); err != nil {
		_ = c.conn.Close()
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// WriteLine sends line followed by CRLF.
func (c *Conn) WriteLine(line string) error {
	return c.Write([]byte(line + "\r\n"))
}

// CloseOnDone closes nc when ctx ends. The returned function releases the
// watcher without closing.
func CloseOnDone(ctx context.Context, nc net.Conn) (release func()) {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		select {
		case <-ctx.Done():
			_ = nc.Close()
		case <-done:
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// ReadLines calls fn for every line read from nc until the connection fails.
// Each line resets the idle deadline; silence longer than idle returns
// ErrIdleTimeout. Trailing CR is stripped.
func ReadLines(nc net.Conn, idle time.Duration, fn func(line string)) error {
	scanner := bufio.NewScanner(nc)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	for {
		if idle > 0 {
			if err := nc.SetReadDeadline(time.Now().Add(idle)); err != nil {
				return fmt.Errorf("set read deadline: %w", err)
			}
		}
		if !scanner.Scan() {
			return readError(scanner.Err())
		}
		fn(scanner.Text())
	}
}

// ReadChunks calls fn with every chunk read from nc until the connection
// fails, resetting the idle deadline before each read.
func ReadChunks(nc net.Conn, idle time.Duration, fn func(chunk []byte)) error {
	buf := make([]byte, 8192)
	for {
		if idle > 0 {
			if err := nc.SetReadDeadline(time.Now().Add(idle)); err != nil {
				return fmt.Errorf("set read deadline: %w", err)
			}
		}
		n, err := nc.Read(buf)
		if n > 0 {
			fn(buf[:n])
		}
		if err != nil {
			return readError(err)
		}
	}
}

func readError(err error) error {
	switch {
	case err == nil:
		return io.EOF
	case errors.Is(err, os.ErrDeadlineExceeded):
		return ErrIdleTimeout
	default:
		return err
	}
}
