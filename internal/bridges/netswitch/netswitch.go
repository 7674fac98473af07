// Package netswitch monitors network switches with ICMP echo and reboots
// them over telnet.
//
// Reachability is the only health signal: one probe per interval, answered
// or not. A reboot request is held until the next answered probe, then a
// short telnet session logs in and sends the reboot commands.
package netswitch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/nerrad567/studio-core/internal/bridges/wire"
	"github.com/nerrad567/studio-core/internal/device"
)

// Defaults.
const (
	DefaultInterval   = 10 * time.Second
	DefaultTimeout    = 5 * time.Second
	DefaultTelnetPort = 23
	DefaultUsername   = "admin"

	commandGap = 200 * time.Millisecond
)

// DefaultRebootCommands reload the switch and confirm the prompt.
var DefaultRebootCommands = []string{"reload", "y"}

// ErrNoReply is returned when a probe gets no answer.
var ErrNoReply = errors.New("netswitch: no reply")

// Prober sends one echo request and returns the round trip time.
type Prober interface {
	Probe(ctx context.Context, host string, timeout time.Duration) (time.Duration, error)
}

// ICMPProber probes with pro-bing. Privileged selects raw ICMP sockets
// over unprivileged UDP pings.
type ICMPProber struct {
	Privileged bool
}

// Probe implements Prober.
func (p ICMPProber) Probe(ctx context.Context, host string, timeout time.Duration) (time.Duration, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", host, err)
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(p.Privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		return 0, fmt.Errorf("ping %s: %w", host, err)
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, ErrNoReply
	}
	return stats.AvgRtt, nil
}

// Config configures a network switch.
type Config struct {
	Name           string
	Host           string
	WOL            string
	TelnetPort     int
	Username       string
	Password       string
	RebootCommands []string
	Interval       time.Duration
	Timeout        time.Duration
	Prober         Prober
}

// State is the switch-specific part of the status.
type State struct {
	RTTMs         float64   `json:"rttMs"`
	LastReply     time.Time `json:"lastReply,omitzero"`
	RebootPending bool      `json:"rebootPending"`
}

// Switch is a monitored network switch.
type Switch struct {
	*device.Base

	cfg      Config
	poller   *device.Poller
	commands device.Commands
	reboot   atomic.Bool

	mu        sync.RWMutex
	rtt       time.Duration
	lastReply time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a network switch monitor.
func New(cfg Config, logger device.Logger) *Switch {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TelnetPort == 0 {
		cfg.TelnetPort = DefaultTelnetPort
	}
	if cfg.Username == "" {
		cfg.Username = DefaultUsername
	}
	if len(cfg.RebootCommands) == 0 {
		cfg.RebootCommands = DefaultRebootCommands
	}
	if cfg.Prober == nil {
		cfg.Prober = ICMPProber{}
	}

	s := &Switch{
		Base: device.NewBase(device.BaseConfig{
			Type:          device.TypeNetwork,
			Name:          cfg.Name,
			Hostname:      cfg.Host,
			WOL:           cfg.WOL,
			RetryInterval: cfg.Interval,
			Logger:        logger,
		}),
		cfg: cfg,
	}
	s.poller = device.NewPoller(s.Lifecycle(), cfg.Interval, cfg.Timeout, s.probe)
	s.commands = device.Commands{"reboot": s.cmdReboot}
	return s
}

// Invoke runs a named command.
func (s *Switch) Invoke(method string, args ...any) bool {
	return s.commands.Invoke(method, args...)
}

// Start begins probing.
func (s *Switch) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.poller.Run(ctx)
	}()
}

// Stop ends probing.
func (s *Switch) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Switch) probe(ctx context.Context) error {
	rtt, err := s.cfg.Prober.Probe(ctx, s.cfg.Host, s.cfg.Timeout)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.rtt = rtt
	s.lastReply = time.Now()
	s.mu.Unlock()
	s.EmitUpdated(s.State())

	if s.reboot.CompareAndSwap(true, false) {
		if err := s.sendReboot(ctx); err != nil {
			s.Logger().Warn("switch reboot failed", "device", s.Name(), "error", err)
		} else {
			s.Logger().Info("switch reboot sent", "device", s.Name())
		}
	}
	return nil
}

// sendReboot logs in over telnet and writes the reboot commands.
func (s *Switch) sendReboot(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.TelnetPort))
	nc, err := wire.Dial(ctx, addr, s.cfg.Timeout)
	if err != nil {
		return err
	}
	conn := wire.NewConn(0)
	conn.Attach(nc)
	defer conn.Detach()

	lines := append([]string{s.cfg.Username, s.cfg.Password}, s.cfg.RebootCommands...)
	for _, line := range lines {
		if err := conn.WriteLine(line); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(commandGap):
		}
	}
	return nil
}

// cmdReboot queues a reboot for the next answered probe.
func (s *Switch) cmdReboot([]any) bool {
	s.reboot.Store(true)
	return true
}

// State returns the switch-specific status fields.
func (s *Switch) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		RTTMs:         float64(s.rtt.Microseconds()) / 1000,
		LastReply:     s.lastReply,
		RebootPending: s.reboot.Load(),
	}
}

// Status returns the published snapshot.
func (s *Switch) Status() device.Status {
	st := s.Summary()
	st.Details = s.State()
	return st
}

// Telemetry implements device.TelemetrySource.
func (s *Switch) Telemetry() map[string]any {
	st := s.State()
	return map[string]any{"rtt_ms": st.RTTMs}
}
