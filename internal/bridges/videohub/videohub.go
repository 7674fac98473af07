// Package videohub controls Blackmagic Videohub routers over the Ethernet
// protocol on TCP 9990.
//
// The router opens with a prelude of titled blocks describing the device,
// labels, routing and locks, then pushes the same blocks whenever anything
// changes. Each block updates the stored state in place. Port numbers are
// 0-based on the wire and 1-based everywhere else.
package videohub

import (
	"context"
	"fmt"
	"net"
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
	DefaultPort          = 9990
	DefaultRetryInterval = 5 * time.Second

	pingInterval = 10 * time.Second
	readTimeout  = 30 * time.Second
)

// Block titles.
const (
	titleDevice       = "VIDEOHUB DEVICE"
	titleInputLabels  = "INPUT LABELS"
	titleOutputLabels = "OUTPUT LABELS"
	titleRouting      = "VIDEO OUTPUT ROUTING"
	titleLocks        = "VIDEO OUTPUT LOCKS"
	titleEndPrelude   = "END PRELUDE"
	titlePing         = "PING"
	titleAck          = "ACK"
	titleNak          = "NAK"
)

// Config configures a Videohub connection.
type Config struct {
	Name          string
	Host          string
	Port          int
	WOL           string
	Inputs        int
	Outputs       int
	NCInputs      []int
	NCOutputs     []int
	Linked        string
	RetryInterval time.Duration
}

// State is the Videohub status: router ports plus the device block.
type State struct {
	switching.RouterState
	Model string            `json:"model,omitempty"`
	Info  map[string]string `json:"info,omitempty"`
}

// Videohub is a Blackmagic Videohub router.
type Videohub struct {
	*switching.Router

	cfg  Config
	conn *wire.Conn

	mu      sync.RWMutex
	info    map[string]map[string]string
	prelude bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Videohub adapter.
func New(cfg Config, registry *device.Registry, logger device.Logger) *Videohub {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}

	base := device.NewBase(device.BaseConfig{
		Type:          device.TypeVideohub,
		Name:          cfg.Name,
		Hostname:      cfg.Host,
		WOL:           cfg.WOL,
		RetryInterval: cfg.RetryInterval,
		Logger:        logger,
	})

	v := &Videohub{
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
		info: make(map[string]map[string]string),
	}
	v.Handle("route", v.cmdRoute)
	v.Handle("setInputLabel", v.cmdSetInputLabel)
	v.Handle("setOutputLabel", v.cmdSetOutputLabel)
	return v
}

// Start connects in the background and keeps reconnecting until Stop.
func (v *Videohub) Start(ctx context.Context) {
	ctx, v.cancel = context.WithCancel(ctx)
	v.StartLink(ctx, v.cfg.Linked)

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		v.Lifecycle().Run(ctx, v.session)
	}()
}

// Stop closes the session and waits for the adapter goroutine.
func (v *Videohub) Stop() {
	if v.cancel != nil {
		v.cancel()
	}
	v.conn.Detach()
	v.wg.Wait()
	v.StopLink()
}

func (v *Videohub) session(ctx context.Context) error {
	nc, err := wire.Dial(ctx, net.JoinHostPort(v.cfg.Host, strconv.Itoa(v.cfg.Port)), 0)
	if err != nil {
		return err
	}
	v.conn.Attach(nc)
	defer v.conn.Detach()

	release := wire.CloseOnDone(ctx, nc)
	defer release()

	v.mu.Lock()
	v.prelude = true
	v.mu.Unlock()

	sctx, stop := context.WithCancel(ctx)
	defer stop()
	go v.ping(sctx)

	var (
		blocks    blockReader
		confirmed bool
	)
	return wire.ReadLines(nc, readTimeout, func(line string) {
		b, ok := blocks.feed(line)
		if !ok {
			return
		}
		if v.handleBlock(b) && !confirmed {
			confirmed = true
			v.Lifecycle().Report(true)
		}
	})
}

func (v *Videohub) ping(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = v.conn.Write(encodeBlock(titlePing))
		}
	}
}

// handleBlock applies one block and reports whether it was recognised.
func (v *Videohub) handleBlock(b Block) bool {
	switch b.Title {
	case titleAck:
		return true
	case titleNak:
		v.Logger().Debug("videohub rejected command", "device", v.Name())
		return true
	case titleEndPrelude:
		v.mu.Lock()
		v.prelude = false
		v.mu.Unlock()
		return true
	case titleDevice:
		v.mergeInfo(b)
		v.applyDevice()
	case titleInputLabels:
		changed := false
		for _, e := range b.indexed() {
			changed = v.SetInputLabel(e.index+1, e.value) || changed
		}
		v.updated(changed)
	case titleOutputLabels:
		changed := false
		for _, e := range b.indexed() {
			changed = v.SetOutputLabel(e.index+1, e.value) || changed
		}
		v.updated(changed)
	case titleRouting:
		v.applyRouting(b)
	case titleLocks:
		changed := false
		for _, e := range b.indexed() {
			changed = v.SetLock(e.index+1, e.value != "U") || changed
		}
		v.updated(changed)
	default:
		if len(b.Lines) == 0 || !strings.Contains(b.Lines[0], ":") {
			return false
		}
		// Preamble, configuration and other key/value blocks.
		v.mergeInfo(b)
	}
	return true
}

func (v *Videohub) updated(changed bool) {
	if changed {
		v.EmitUpdated(v.State())
	}
}

func (v *Videohub) mergeInfo(b Block) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, ok := v.info[b.Title]
	if !ok {
		m = make(map[string]string)
		v.info[b.Title] = m
	}
	for k, val := range b.keyValues() {
		m[k] = val
	}
}

// applyDevice sizes the router from the device block.
func (v *Videohub) applyDevice() {
	v.mu.RLock()
	dev := v.info[titleDevice]
	inputs, _ := strconv.Atoi(dev["Video inputs"])
	outputs, _ := strconv.Atoi(dev["Video outputs"])
	v.mu.RUnlock()

	if inputs > 0 || outputs > 0 {
		v.Resize(inputs, outputs)
	}
	v.EmitUpdated(v.State())
}

// applyRouting updates routes. Outside the prelude every line is an echo of
// a route change and is emitted as a route action.
func (v *Videohub) applyRouting(b Block) {
	v.mu.RLock()
	prelude := v.prelude
	v.mu.RUnlock()

	changed := false
	var actions [][2]int
	for _, e := range b.indexed() {
		input, err := strconv.Atoi(strings.TrimSpace(e.value))
		if err != nil || input < 0 {
			continue
		}
		output := e.index + 1
		changed = v.SetRoute(output, input+1) || changed
		if !prelude {
			actions = append(actions, [2]int{output, input + 1})
		}
	}
	v.updated(changed)
	for _, a := range actions {
		v.EmitAction("route", a[0], a[1])
	}
}

// Info returns a copy of a key/value block, e.g. "VIDEOHUB DEVICE".
func (v *Videohub) Info(title string) map[string]string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]string, len(v.info[title]))
	for k, val := range v.info[title] {
		out[k] = val
	}
	return out
}

// State returns the Videohub-specific status fields.
func (v *Videohub) State() State {
	dev := v.Info(titleDevice)
	return State{
		RouterState: v.Router.State(),
		Model:       dev["Model name"],
		Info:        dev,
	}
}

// Status returns the published snapshot.
func (v *Videohub) Status() device.Status {
	s := v.Summary()
	s.Details = v.State()
	return s
}

func (v *Videohub) write(b []byte) bool {
	if !v.Connected() {
		return false
	}
	if err := v.conn.Write(b); err != nil {
		v.Logger().Debug("videohub write failed", "device", v.Name(), "error", err)
		return false
	}
	return true
}

// cmdRoute runs route(output, input).
func (v *Videohub) cmdRoute(args []any) bool {
	output, ok := device.IntArg(args, 0)
	if !ok || !v.ValidOutput(output) {
		return false
	}
	input, ok := device.IntArg(args, 1)
	if !ok || !v.ValidInput(input) {
		return false
	}
	return v.write(encodeBlock(titleRouting, fmt.Sprintf("%d %d", output-1, input-1)))
}

func labelArgs(args []any, valid func(int) bool) (int, string, bool) {
	n, ok := device.IntArg(args, 0)
	if !ok || !valid(n) {
		return 0, "", false
	}
	label, ok := device.StringArg(args, 1)
	if !ok || strings.ContainsAny(label, "\r\n") {
		return 0, "", false
	}
	return n, label, true
}

// cmdSetInputLabel runs setInputLabel(input, label).
func (v *Videohub) cmdSetInputLabel(args []any) bool {
	n, label, ok := labelArgs(args, v.ValidInput)
	if !ok {
		return false
	}
	return v.write(encodeBlock(titleInputLabels, fmt.Sprintf("%d %s", n-1, label)))
}

// cmdSetOutputLabel runs setOutputLabel(output, label).
func (v *Videohub) cmdSetOutputLabel(args []any) bool {
	n, label, ok := labelArgs(args, v.ValidOutput)
	if !ok {
		return false
	}
	return v.write(encodeBlock(titleOutputLabels, fmt.Sprintf("%d %s", n-1, label)))
}
