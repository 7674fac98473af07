// Package plug switches Tasmota-style smart plugs over their HTTP command
// endpoint (/cm?cmnd=...).
package plug

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/studio-core/internal/device"
)

// Defaults.
const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 3 * time.Second
)

// ErrNoPowerState is returned when a reply carries no relay state.
var ErrNoPowerState = errors.New("plug: reply has no power state")

// Config configures a plug.
type Config struct {
	Name     string
	Host     string
	Port     int
	WOL      string
	Username string
	Password string
	Interval time.Duration
	Timeout  time.Duration
}

// State is the plug-specific part of the status.
type State struct {
	On bool `json:"on"`
}

// Plug is a smart power plug.
type Plug struct {
	*device.Base

	cfg      Config
	base     *url.URL
	client   *http.Client
	poller   *device.Poller
	commands device.Commands

	mu sync.RWMutex
	on bool

	// runMu guards ctx, cancel and stopped, and orders wg.Add against Stop.
	runMu   sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// New creates a plug adapter.
func New(cfg Config, logger device.Logger) *Plug {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	host := cfg.Host
	if cfg.Port != 0 {
		host = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	p := &Plug{
		Base: device.NewBase(device.BaseConfig{
			Type:          device.TypePlug,
			Name:          cfg.Name,
			Hostname:      cfg.Host,
			WOL:           cfg.WOL,
			RetryInterval: cfg.Interval,
			Logger:        logger,
		}),
		cfg:    cfg,
		base:   &url.URL{Scheme: "http", Host: host, Path: "/cm"},
		client: &http.Client{Timeout: cfg.Timeout},
		ctx:    context.Background(),
	}
	p.poller = device.NewPoller(p.Lifecycle(), cfg.Interval, cfg.Timeout, p.poll)
	p.commands = device.Commands{
		"toggle": p.power("TOGGLE"),
		"on":     p.power("ON"),
		"off":    p.power("OFF"),
	}
	return p
}

// Invoke runs a named command.
func (p *Plug) Invoke(method string, args ...any) bool {
	return p.commands.Invoke(method, args...)
}

// Start begins polling.
func (p *Plug) Start(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.stopped = false
	runCtx := p.ctx
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.poller.Run(runCtx)
	}()
}

// Stop ends polling and waits for in-flight commands. Commands invoked
// after Stop are rejected.
func (p *Plug) Stop() {
	p.runMu.Lock()
	p.stopped = true
	if p.cancel != nil {
		p.cancel()
	}
	p.runMu.Unlock()

	p.wg.Wait()
}

func (p *Plug) poll(ctx context.Context) error {
	return p.send(ctx, "Power")
}

// send runs one command and records the power state from the reply.
func (p *Plug) send(ctx context.Context, cmnd string) error {
	u := *p.base
	q := url.Values{"cmnd": {cmnd}}
	if p.cfg.Username != "" {
		q.Set("user", p.cfg.Username)
		q.Set("password", p.cfg.Password)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("plug request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("plug request: %s", resp.Status)
	}

	var reply map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&reply); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	on, ok := ParsePower(reply)
	if !ok {
		return ErrNoPowerState
	}
	p.setOn(on)
	return nil
}

// ParsePower reads the relay state from a command reply. Single-relay
// devices answer POWER; multi-relay devices answer POWER1.
func ParsePower(reply map[string]any) (bool, bool) {
	for _, key := range []string{"POWER", "POWER1"} {
		if s, ok := reply[key].(string); ok {
			return strings.EqualFold(s, "ON"), true
		}
	}
	return false, false
}

func (p *Plug) setOn(on bool) {
	p.mu.Lock()
	changed := p.on != on
	p.on = on
	p.mu.Unlock()
	if changed {
		p.EmitUpdated(State{On: on})
	}
}

// power returns a command that sends "Power <state>" in the background.
func (p *Plug) power(state string) device.CommandFunc {
	return func([]any) bool {
		if !p.Connected() {
			return false
		}

		p.runMu.Lock()
		if p.stopped || p.ctx.Err() != nil {
			p.runMu.Unlock()
			return false
		}
		runCtx := p.ctx
		p.wg.Add(1)
		p.runMu.Unlock()

		go func() {
			defer p.wg.Done()
			ctx, cancel := context.WithTimeout(runCtx, p.cfg.Timeout)
			defer cancel()
			if err := p.send(ctx, "Power "+state); err != nil {
				p.Logger().Debug("plug command failed", "device", p.Name(), "error", err)
			}
		}()
		return true
	}
}

// On reports the last known relay state.
func (p *Plug) On() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.on
}

// Status returns the published snapshot.
func (p *Plug) Status() device.Status {
	s := p.Summary()
	s.Details = State{On: p.On()}
	return s
}
