// Package matrix controls Extron-style matrix switchers over telnet.
//
// After the socket opens the adapter writes the username and password. The
// session only counts as connected once the login banner appears in the
// output. Ties are made with "{in}*{out}!" and confirmed by "Out{o} In{i}"
// replies, which are the source of route actions.
package matrix

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/studio-core/internal/bridges/wire"
	"github.com/nerrad567/studio-core/internal/device"
	"github.com/nerrad567/studio-core/internal/switching"
)

// Protocol defaults.
const (
	DefaultPort          = 23
	DefaultRetryInterval = 10 * time.Second
	DefaultBanner        = "Login"
	DefaultUsername      = "admin"

	// DefaultIdleTimeout force-closes a session with no output. The switcher
	// sends nothing unsolicited after login, so health is reconfirmed by the
	// reconnect cycle.
	DefaultIdleTimeout = 5 * time.Minute
)

var tiePattern = regexp.MustCompile(`^Out0*(\d+) In0*(\d+)`)

// Config configures a matrix connection.
type Config struct {
	Name          string
	Host          string
	Port          int
	WOL           string
	Username      string
	Password      string
	Banner        string
	Inputs        int
	Outputs       int
	NCInputs      []int
	NCOutputs     []int
	Linked        string
	RetryInterval time.Duration
	IdleTimeout   time.Duration
}

// Matrix is a telnet-controlled matrix switcher.
type Matrix struct {
	*switching.Router

	cfg  Config
	conn *wire.Conn

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a matrix adapter.
func New(cfg Config, registry *device.Registry, logger device.Logger) *Matrix {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.Banner == "" {
		cfg.Banner = DefaultBanner
	}
	if cfg.Username == "" {
		cfg.Username = DefaultUsername
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}

	base := device.NewBase(device.BaseConfig{
		Type:          device.TypeMatrix,
		Name:          cfg.Name,
		Hostname:      cfg.Host,
		WOL:           cfg.WOL,
		RetryInterval: cfg.RetryInterval,
		Logger:        logger,
	})

	m := &Matrix{
		Router: switching.NewRouter(switching.RouterConfig{
			Base:      base,
			Registry:  registry,
			Inputs:    cfg.Inputs,
			Outputs:   cfg.Outputs,
			NCInputs:  cfg.NCInputs,
			NCOutputs: cfg.NCOutputs,
		}),
		cfg:  cfg,
		conn: wire.NewConn(0),
	}
	m.Handle("route", m.cmdRoute)
	return m
}

// Start connects in the background and keeps reconnecting until Stop.
func (m *Matrix) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.StartLink(ctx, m.cfg.Linked)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Lifecycle().Run(ctx, m.session)
	}()
}

// Stop closes the session and waits for the adapter goroutine.
func (m *Matrix) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.conn.Detach()
	m.wg.Wait()
	m.StopLink()
}

func (m *Matrix) session(ctx context.Context) error {
	nc, err := wire.Dial(ctx, net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port)), 0)
	if err != nil {
		return err
	}
	m.conn.Attach(nc)
	defer m.conn.Detach()

	release := wire.CloseOnDone(ctx, nc)
	defer release()

	if err := m.conn.WriteLine(m.cfg.Username); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := m.conn.WriteLine(m.cfg.Password); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	return wire.ReadLines(nc, m.cfg.IdleTimeout, m.handleLine)
}

// stripTelnet removes IAC negotiation sequences from a line.
func stripTelnet(s string) string {
	if strings.IndexByte(s, 0xff) < 0 {
		return strings.TrimSpace(s)
	}
	b := []byte(s)
	out := b[:0]
	for i := 0; i < len(b); i++ {
		if b[i] == 0xff && i+2 < len(b) {
			i += 2
			continue
		}
		out = append(out, b[i])
	}
	return strings.TrimSpace(string(out))
}

func (m *Matrix) handleLine(raw string) {
	line := stripTelnet(raw)
	if line == "" {
		return
	}

	if strings.HasPrefix(line, m.cfg.Banner) {
		m.Lifecycle().Report(true)
		return
	}

	match := tiePattern.FindStringSubmatch(line)
	if match == nil {
		return
	}
	output, _ := strconv.Atoi(match[1])
	input, _ := strconv.Atoi(match[2])

	if m.SetRoute(output, input) {
		m.EmitUpdated(m.State())
	}
	m.EmitAction("route", output, input)
}

// cmdRoute runs route(output, input).
func (m *Matrix) cmdRoute(args []any) bool {
	output, ok := device.IntArg(args, 0)
	if !ok || !m.ValidOutput(output) {
		return false
	}
	input, ok := device.IntArg(args, 1)
	if !ok || !m.ValidInput(input) {
		return false
	}
	if !m.Connected() {
		return false
	}
	if err := m.conn.Write(fmt.Appendf(nil, "%d*%d!", input, output)); err != nil {
		m.Logger().Debug("matrix write failed", "device", m.Name(), "error", err)
		return false
	}
	return true
}
