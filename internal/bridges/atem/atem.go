// Package atem connects to Blackmagic ATEM switchers.
//
// The adapter drives an SDK value: connection state comes only from the
// SDK's state callback, and per-input program/preview flags are normalised
// into the shared tally encoding. Client is the built-in UDP implementation.
package atem

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/studio-core/internal/device"
	"github.com/nerrad567/studio-core/internal/switching"
)

// Protocol defaults.
const (
	DefaultPort          = 9910
	DefaultRetryInterval = 5 * time.Second
)

// styles maps transition effect names to switcher styles. vMix effect names
// are accepted so that a mirrored transition from a vMix master works.
var styles = map[string]int{
	"mix":     StyleMix,
	"fade":    StyleMix,
	"merge":   StyleMix,
	"dip":     StyleDip,
	"wipe":    StyleWipe,
	"dve":     StyleDVE,
	"slide":   StyleDVE,
	"sting":   StyleStinger,
	"stinger": StyleStinger,
}

// Config configures an ATEM connection.
type Config struct {
	Name          string
	Host          string
	Port          int
	WOL           string
	Inputs        int
	Linked        string
	RetryInterval time.Duration
}

// Atem is an ATEM switcher.
type Atem struct {
	*switching.Mixer

	cfg Config
	sdk SDK

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an ATEM adapter using sdk. A nil sdk uses the built-in Client.
func New(cfg Config, registry *device.Registry, sdk SDK, logger device.Logger) *Atem {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if sdk == nil {
		sdk = NewClient()
	}

	base := device.NewBase(device.BaseConfig{
		Type:          device.TypeAtem,
		Name:          cfg.Name,
		Hostname:      cfg.Host,
		WOL:           cfg.WOL,
		RetryInterval: cfg.RetryInterval,
		Logger:        logger,
	})

	a := &Atem{
		Mixer: switching.NewMixer(switching.MixerConfig{
			Base:     base,
			Registry: registry,
			Inputs:   cfg.Inputs,
			Effect:   "mix",
		}),
		cfg: cfg,
		sdk: sdk,
	}

	sdk.OnState(a.handleState)
	sdk.OnTally(a.handleTally)
	sdk.OnProgram(a.handleProgram)
	sdk.OnPreview(a.handlePreview)

	a.Handle("cut", a.cmdCut)
	a.Handle("transition", a.cmdTransition)
	a.Handle("switchInput", a.cmdSwitchInput)
	return a
}

// Start runs sessions in the background until Stop.
func (a *Atem) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.StartLink(ctx, a.cfg.Linked)

	address := net.JoinHostPort(a.cfg.Host, strconv.Itoa(a.cfg.Port))
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Lifecycle().Run(ctx, func(ctx context.Context) error {
			return a.sdk.Run(ctx, address)
		})
	}()
}

// Stop ends the session and waits for the adapter goroutine.
func (a *Atem) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.StopLink()
}

func (a *Atem) handleState(state string) {
	switch state {
	case StateConnected:
		a.Lifecycle().Report(true)
	case StateDisconnected:
		a.Lifecycle().Report(false)
	}
}

// Normalise maps program/preview flags onto tally values.
func Normalise(states []TallyState) []int {
	out := make([]int, len(states))
	for i, s := range states {
		switch {
		case s.Program:
			out[i] = switching.TallyProgram
		case s.Preview:
			out[i] = switching.TallyPreview
		}
	}
	return out
}

func (a *Atem) handleTally(states []TallyState) {
	a.Resize(len(states))
	a.SetTallies(Normalise(states))
}

// handleProgram is the program bus echo. A change of program source is a
// confirmed cut or completed transition.
func (a *Atem) handleProgram(input int) {
	if input == a.Program() {
		return
	}
	a.SetProgram(input)
	a.EmitAction("switchInput", input, switching.BusProgram)
}

func (a *Atem) handlePreview(input int) {
	if input == a.Preview() {
		return
	}
	a.SetPreview(input)
	a.EmitAction("switchInput", input, switching.BusPreview)
}

func (a *Atem) run(op string, fn func() error) bool {
	if !a.Connected() {
		return false
	}
	if err := fn(); err != nil {
		a.Logger().Debug("atem command failed", "device", a.Name(), "op", op, "error", err)
		return false
	}
	return true
}

func (a *Atem) cmdCut([]any) bool {
	return a.run("cut", a.sdk.Cut)
}

// cmdTransition runs transition(durationMs, effect) as an auto transition.
func (a *Atem) cmdTransition(args []any) bool {
	effect, duration := a.Transition()

	duration, ok := device.OptionalInt(args, 0, duration)
	if !ok || duration <= 0 {
		return false
	}
	effect, ok = device.OptionalString(args, 1, effect)
	if !ok {
		return false
	}
	style, known := styles[strings.ToLower(effect)]
	if !known {
		return false
	}
	frames := max(1, duration*FrameRate/1000)

	ok = a.run("transition", func() error {
		if err := a.sdk.SetTransition(style, frames); err != nil {
			return err
		}
		return a.sdk.Auto()
	})
	if ok {
		a.SetTransition(effect, duration)
	}
	return ok
}

func (a *Atem) cmdSwitchInput(args []any) bool {
	input, ok := device.IntArg(args, 0)
	if !ok || !a.ValidInput(input) {
		return false
	}
	bus, ok := device.OptionalString(args, 1, switching.BusPreview)
	if !ok {
		return false
	}
	switch bus {
	case switching.BusProgram:
		return a.run("program", func() error { return a.sdk.SetProgram(input) })
	case switching.BusPreview:
		return a.run("preview", func() error { return a.sdk.SetPreview(input) })
	}
	return false
}
