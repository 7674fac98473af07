// Package vmix connects to vMix over its TCP API (port 8099).
//
// The session subscribes to the TALLY and ACTS streams. TALLY lines carry
// one digit per input (0 off, 1 program, 2 preview); ACTS lines report
// program, preview and overlay changes, and are the source of the actions
// that linked mixers replay. Commands are written as FUNCTION lines and are
// never acknowledged.
//
// The T-bar is the one exception to echo-driven actions: vMix reports no
// fader position, so an intermediate fade(value) is emitted as soon as it is
// written. A fade to 255 completes the transition and, like cut, waits for
// the program echo.
package vmix

import (
	"context"
	"fmt"
	"net"
	"net/url"
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
	DefaultPort = 8099

	// DefaultRetryInterval is the delay between reconnect attempts.
	DefaultRetryInterval = 5 * time.Second

	// readTimeout force-closes a silent session.
	readTimeout = 30 * time.Second

	// refreshInterval re-requests the tally line, keeping the socket busy
	// well inside readTimeout.
	refreshInterval = 10 * time.Second

	// pendingWindow is how long an issued command waits for its echo.
	pendingWindow = 10 * time.Second

	// OverlayChannels is the number of vMix overlay channels.
	OverlayChannels = 4
)

// Line prefixes sent by vMix.
const (
	prefixTally        = "TALLY OK "
	prefixInputPreview = "ACTS OK InputPreview "
	prefixInput        = "ACTS OK Input "
	prefixOverlay      = "ACTS OK Overlay"
)

// Effects accepted by transition.
var Effects = map[string]bool{
	"Fade": true, "Merge": true, "Wipe": true, "Zoom": true, "Slide": true,
	"Fly": true, "CrossZoom": true, "FlyRotate": true, "Cube": true,
	"CubeZoom": true, "VerticalWipe": true, "VerticalSlide": true,
	"Stinger1": true, "Stinger2": true,
}

// Config configures a vMix connection.
type Config struct {
	Name          string
	Host          string
	Port          int
	WOL           string
	Inputs        int
	Linked        string
	RetryInterval time.Duration
}

// Vmix is a vMix instance.
type Vmix struct {
	*switching.Mixer

	cfg  Config
	conn *wire.Conn

	pendingMu sync.Mutex
	pending   *pendingAction

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type pendingAction struct {
	action device.Action
	until  time.Time
}

// New creates a vMix adapter. It does not connect until Start.
func New(cfg Config, registry *device.Registry, logger device.Logger) *Vmix {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}

	base := device.NewBase(device.BaseConfig{
		Type:          device.TypeVmix,
		Name:          cfg.Name,
		Hostname:      cfg.Host,
		WOL:           cfg.WOL,
		RetryInterval: cfg.RetryInterval,
		Logger:        logger,
	})

	v := &Vmix{
		Mixer: switching.NewMixer(switching.MixerConfig{
			Base:     base,
			Registry: registry,
			Inputs:   cfg.Inputs,
		}),
		cfg:  cfg,
		conn: wire.NewConn(0),
	}

	v.Handle("cut", v.cmdCut)
	v.Handle("transition", v.cmdTransition)
	v.Handle("fade", v.cmdFade)
	v.Handle("switchInput", v.cmdSwitchInput)
	v.Handle("overlay", v.cmdOverlay)
	v.Handle("setInputLabel", v.cmdSetInputLabel)
	return v
}

// Start connects in the background and keeps reconnecting until Stop.
func (v *Vmix) Start(ctx context.Context) {
	ctx, v.cancel = context.WithCancel(ctx)
	v.StartLink(ctx, v.cfg.Linked)

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		v.Lifecycle().Run(ctx, v.session)
	}()
}

// Stop closes the session and waits for the adapter goroutine.
func (v *Vmix) Stop() {
	if v.cancel != nil {
		v.cancel()
	}
	v.conn.Detach()
	v.wg.Wait()
	v.StopLink()
}

func (v *Vmix) address() string {
	return net.JoinHostPort(v.cfg.Host, strconv.Itoa(v.cfg.Port))
}

func (v *Vmix) session(ctx context.Context) error {
	nc, err := wire.Dial(ctx, v.address(), 0)
	if err != nil {
		return err
	}
	v.conn.Attach(nc)
	defer v.conn.Detach()

	release := wire.CloseOnDone(ctx, nc)
	defer release()

	for _, line := range []string{"SUBSCRIBE TALLY", "SUBSCRIBE ACTS", "TALLY"} {
		if err := v.conn.WriteLine(line); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	v.Lifecycle().Report(true)

	sctx, stop := context.WithCancel(ctx)
	defer stop()
	go v.refresh(sctx)

	return wire.ReadLines(nc, readTimeout, v.handleLine)
}

func (v *Vmix) refresh(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = v.conn.WriteLine("TALLY")
		}
	}
}

// handleLine classifies one line by prefix. Lines matching no prefix, and
// lines that fail to parse, are dropped.
func (v *Vmix) handleLine(line string) {
	switch {
	case strings.HasPrefix(line, prefixTally):
		v.handleTally(strings.TrimPrefix(line, prefixTally))
	case strings.HasPrefix(line, prefixInputPreview):
		v.handlePreview(strings.Fields(strings.TrimPrefix(line, prefixInputPreview)))
	case strings.HasPrefix(line, prefixInput):
		v.handleProgram(strings.Fields(strings.TrimPrefix(line, prefixInput)))
	case strings.HasPrefix(line, prefixOverlay):
		v.handleOverlay(strings.Fields(strings.TrimPrefix(line, prefixOverlay)))
	}
}

// ParseTally decodes the digit string of a TALLY OK line.
func ParseTally(s string) ([]int, bool) {
	s = strings.TrimSpace(s)
	out := make([]int, 0, len(s))
	for _, r := range s {
		if r < '0' || r > '9' {
			return nil, false
		}
		out = append(out, int(r-'0'))
	}
	return out, true
}

func (v *Vmix) handleTally(s string) {
	tallies, ok := ParseTally(s)
	if !ok {
		return
	}
	v.Resize(len(tallies))
	v.SetTallies(tallies)
}

// parseActs reads "<input> <state>" tokens.
func parseActs(fields []string) (input int, on bool, ok bool) {
	if len(fields) < 2 {
		return 0, false, false
	}
	input, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, false, false
	}
	return input, fields[1] == "1", true
}

func (v *Vmix) handleProgram(fields []string) {
	input, on, ok := parseActs(fields)
	if !ok || !on {
		return
	}
	v.SetProgram(input)

	if action, ok := v.takePending("cut", "transition", "fade"); ok {
		v.EmitAction(action.Method, action.Args...)
		return
	}
	v.EmitAction("switchInput", input, switching.BusProgram)
}

func (v *Vmix) handlePreview(fields []string) {
	input, on, ok := parseActs(fields)
	if !ok || !on {
		return
	}
	v.SetPreview(input)
	v.EmitAction("switchInput", input, switching.BusPreview)
}

// handleOverlay parses "<n> <input> <state>" following the Overlay prefix,
// e.g. "ACTS OK Overlay1 3 1".
func (v *Vmix) handleOverlay(fields []string) {
	if len(fields) < 3 {
		return
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 1 || n > OverlayChannels {
		return
	}
	input, on, ok := parseActs(fields[1:])
	if !ok {
		return
	}
	v.EmitAction("overlay", n, input, on)
}

func (v *Vmix) setPending(method string, args ...any) {
	v.pendingMu.Lock()
	defer v.pendingMu.Unlock()
	v.pending = &pendingAction{
		action: device.Action{Method: method, Args: args},
		until:  time.Now().Add(pendingWindow),
	}
}

// takePending returns and clears the pending action if it is still fresh and
// is one of methods.
func (v *Vmix) takePending(methods ...string) (device.Action, bool) {
	v.pendingMu.Lock()
	defer v.pendingMu.Unlock()

	p := v.pending
	v.pending = nil
	if p == nil || time.Now().After(p.until) {
		return device.Action{}, false
	}
	for _, m := range methods {
		if p.action.Method == m {
			return p.action, true
		}
	}
	return device.Action{}, false
}

// function writes a FUNCTION line. It fails when disconnected.
func (v *Vmix) function(name string, query url.Values) bool {
	if !v.Connected() {
		return false
	}
	line := "FUNCTION " + name
	if len(query) > 0 {
		line += " " + query.Encode()
	}
	if err := v.conn.WriteLine(line); err != nil {
		v.Logger().Debug("vmix write failed", "device", v.Name(), "error", err)
		return false
	}
	return true
}

func (v *Vmix) cmdCut([]any) bool {
	if !v.function("Cut", nil) {
		return false
	}
	v.setPending("cut")
	return true
}

// cmdTransition runs transition(durationMs, effect). Both arguments are
// optional and default to the configured auto transition.
func (v *Vmix) cmdTransition(args []any) bool {
	effect, duration := v.Transition()

	duration, ok := device.OptionalInt(args, 0, duration)
	if !ok || duration <= 0 {
		return false
	}
	effect, ok = device.OptionalString(args, 1, effect)
	if !ok || !Effects[effect] {
		return false
	}

	if !v.function(effect, url.Values{"Duration": {strconv.Itoa(duration)}}) {
		return false
	}
	v.SetTransition(effect, duration)
	v.setPending("transition", duration, effect)
	return true
}

// cmdFade moves the T-bar to value (0-255). Intermediate positions are
// emitted on write; 255 is emitted from the program echo.
func (v *Vmix) cmdFade(args []any) bool {
	value, ok := device.IntArg(args, 0)
	if !ok || value < 0 || value > 255 {
		return false
	}
	if !v.function("SetFader", url.Values{"Value": {strconv.Itoa(value)}}) {
		return false
	}
	if value == 255 {
		v.setPending("fade", value)
	} else {
		v.EmitAction("fade", value)
	}
	return true
}

// cmdSwitchInput runs switchInput(input, bus). Bus defaults to preview.
func (v *Vmix) cmdSwitchInput(args []any) bool {
	input, ok := device.IntArg(args, 0)
	if !ok || !v.ValidInput(input) {
		return false
	}
	bus, ok := device.OptionalString(args, 1, switching.BusPreview)
	if !ok {
		return false
	}

	var fn string
	switch bus {
	case switching.BusProgram:
		fn = "ActiveInput"
	case switching.BusPreview:
		fn = "PreviewInput"
	default:
		return false
	}
	return v.function(fn, url.Values{"Input": {strconv.Itoa(input)}})
}

// cmdOverlay runs overlay(n, input, on).
func (v *Vmix) cmdOverlay(args []any) bool {
	n, ok := device.IntArg(args, 0)
	if !ok || n < 1 || n > OverlayChannels {
		return false
	}
	input, ok := device.IntArg(args, 1)
	if !ok || !v.ValidInput(input) {
		return false
	}
	on, ok := device.BoolArg(args, 2)
	if !ok {
		return false
	}

	dir := "Out"
	if on {
		dir = "In"
	}
	return v.function(fmt.Sprintf("OverlayInput%d%s", n, dir), url.Values{"Input": {strconv.Itoa(input)}})
}

func (v *Vmix) cmdSetInputLabel(args []any) bool {
	input, ok := device.IntArg(args, 0)
	if !ok || !v.ValidInput(input) {
		return false
	}
	label, ok := device.StringArg(args, 1)
	if !ok {
		return false
	}
	if !v.function("SetInputName", url.Values{"Input": {strconv.Itoa(input)}, "Value": {label}}) {
		return false
	}
	if v.SetLabel(input, label) {
		v.EmitUpdated(v.State())
	}
	return true
}
