// Package audio controls networked audio interfaces that speak the
// length-prefixed XML control protocol.
//
// Every message in either direction is an XML body preceded by
// "Length=%06x ". After connecting, the client introduces itself with
// <client-details/>. The server announces each device with <device-arrival>;
// the first device whose model and serial match the configuration is bound,
// its item ids are indexed per channel and the client subscribes to it.
// From then on <set> messages carry item updates. The client must send
// <keep-alive/> every few seconds or the server drops it.
//
// A device description is expected to contain <input index="n"> and
// <output index="n"> elements whose <name>, <meter> and <source> children
// carry the item ids for that channel's label, level and routing.
package audio

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nerrad567/studio-core/internal/bridges/wire"
	"github.com/nerrad567/studio-core/internal/device"
)

// Protocol defaults.
const (
	DefaultPort          = 58322
	DefaultRetryInterval = 5 * time.Second
	DefaultClientName    = "studiocore"

	// KeepAliveInterval is how often the client proves it is alive.
	KeepAliveInterval = 3 * time.Second

	// LevelInterval is the minimum spacing of level events per channel.
	LevelInterval = 40 * time.Millisecond

	readTimeout = 10 * time.Second
)

// Channel kinds.
const (
	ChannelInput  = "input"
	ChannelOutput = "output"
)

// Config configures an audio interface connection.
type Config struct {
	Name          string
	Host          string
	Port          int
	WOL           string
	Model         string // empty matches any model
	Serial        string // empty matches any serial
	Client        string
	RetryInterval time.Duration
}

// Channel is one input or output of the bound device.
type Channel struct {
	Kind   string  `json:"kind"`
	Index  int     `json:"index"`
	Name   string  `json:"name"`
	Level  float64 `json:"level"`
	Source string  `json:"source,omitempty"`
}

// Level is the payload of a levels event.
type Level struct {
	Kind  string  `json:"kind"`
	Index int     `json:"index"`
	Level float64 `json:"level"`
}

// State is the audio-specific part of the status.
type State struct {
	DeviceID int       `json:"deviceId,omitempty"`
	Model    string    `json:"model,omitempty"`
	Serial   string    `json:"serial,omitempty"`
	Channels []Channel `json:"channels"`
}

type field int

const (
	fieldName field = iota
	fieldLevel
	fieldSource
)

type fieldRef struct {
	channel int
	field   field
}

// levelFlush is a pending emission of the newest throttled level.
type levelFlush struct {
	timer *time.Timer
}

// Audio is a networked audio interface.
type Audio struct {
	*device.Base

	cfg       Config
	clientKey string
	conn      *wire.Conn
	commands  device.Commands

	mu       sync.RWMutex
	bound    bool
	devID    int
	model    string
	serial   string
	channels []Channel
	index    map[int]fieldRef
	values   map[int]string
	limiters map[fieldRef]*rate.Limiter
	sent     map[fieldRef]float64
	trailing map[fieldRef]*levelFlush

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an audio adapter.
func New(cfg Config, logger device.Logger) *Audio {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.Client == "" {
		cfg.Client = DefaultClientName
	}

	a := &Audio{
		Base: device.NewBase(device.BaseConfig{
			Type:          device.TypeAudio,
			Name:          cfg.Name,
			Hostname:      cfg.Host,
			WOL:           cfg.WOL,
			RetryInterval: cfg.RetryInterval,
			Logger:        logger,
		}),
		cfg:       cfg,
		clientKey: uuid.NewString(),
		conn:      wire.NewConn(0),
		values:    make(map[int]string),
		limiters:  make(map[fieldRef]*rate.Limiter),
		sent:      make(map[fieldRef]float64),
		trailing:  make(map[fieldRef]*levelFlush),
	}
	a.commands = device.Commands{"set": a.cmdSet}
	return a
}

// Invoke runs a named command.
func (a *Audio) Invoke(method string, args ...any) bool {
	return a.commands.Invoke(method, args...)
}

// Start connects in the background and keeps reconnecting until Stop.
func (a *Audio) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Lifecycle().Run(ctx, a.session)
	}()
}

// Stop closes the session and waits for the adapter goroutine.
func (a *Audio) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.conn.Detach()
	a.wg.Wait()
}

func (a *Audio) session(ctx context.Context) error {
	nc, err := wire.Dial(ctx, net.JoinHostPort(a.cfg.Host, strconv.Itoa(a.cfg.Port)), 0)
	if err != nil {
		return err
	}
	a.conn.Attach(nc)
	defer a.conn.Detach()

	release := wire.CloseOnDone(ctx, nc)
	defer release()

	a.unbind()
	defer a.unbind()

	if err := a.send(clientDetails(a.cfg.Client, a.clientKey)); err != nil {
		return err
	}

	sctx, stop := context.WithCancel(ctx)
	defer stop()
	go a.keepAlive(sctx)

	var frames FrameBuffer
	return wire.ReadChunks(nc, readTimeout, func(chunk []byte) {
		for _, body := range frames.Feed(chunk) {
			a.handleMessage(body)
		}
	})
}

func (a *Audio) send(body string) error {
	return a.conn.Write(EncodeFrame(body))
}

func (a *Audio) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.send(keepAlive); err != nil {
				return
			}
		}
	}
}

func (a *Audio) handleMessage(body string) {
	msg, err := parseMessage(body)
	if err != nil {
		a.Logger().Debug("audio message dropped", "device", a.Name(), "error", err)
		return
	}

	switch msg.name() {
	case "device-arrival":
		for _, dev := range msg.children("device") {
			if a.handleArrival(dev) {
				return
			}
		}
	case "device-removal":
		a.handleRemoval(msg)
	case "set":
		a.handleSet(msg)
	}
}

func (a *Audio) matches(model, serial string) bool {
	return (a.cfg.Model == "" || a.cfg.Model == model) &&
		(a.cfg.Serial == "" || a.cfg.Serial == serial)
}

// handleArrival binds dev if nothing is bound yet and it matches.
func (a *Audio) handleArrival(dev node) bool {
	id, ok := dev.intAttr("id")
	if !ok {
		return false
	}
	model, serial := dev.attr("model"), dev.attr("serial-number")

	a.mu.Lock()
	if a.bound || !a.matches(model, serial) {
		a.mu.Unlock()
		return false
	}
	a.bound = true
	a.devID = id
	a.model = model
	a.serial = serial
	a.channels, a.index, a.values = buildIndex(dev)
	a.resetLevels()
	a.mu.Unlock()

	if err := a.send(deviceSubscribe(id)); err != nil {
		a.Logger().Debug("audio subscribe failed", "device", a.Name(), "error", err)
		return true
	}
	a.Lifecycle().Report(true)
	a.EmitUpdated(a.State())
	return true
}

// buildIndex maps every item id in the description onto its channel field
// and records initial values.
func buildIndex(dev node) ([]Channel, map[int]fieldRef, map[int]string) {
	var channels []Channel
	index := make(map[int]fieldRef)
	values := make(map[int]string)
	counts := make(map[string]int)

	dev.walk(func(n node) {
		if id, ok := n.intAttr("id"); ok && n.name() != "device" {
			values[id] = n.value()
		}

		kind := n.name()
		if kind != ChannelInput && kind != ChannelOutput {
			return
		}
		counts[kind]++
		ch := Channel{Kind: kind, Index: counts[kind]}
		if idx, ok := n.intAttr("index"); ok {
			ch.Index = idx
		}

		pos := len(channels)
		for _, c := range n.Nodes {
			id, ok := c.intAttr("id")
			if !ok {
				continue
			}
			switch c.name() {
			case "name":
				ch.Name = c.value()
				index[id] = fieldRef{pos, fieldName}
			case "meter":
				ch.Level, _ = strconv.ParseFloat(c.value(), 64)
				index[id] = fieldRef{pos, fieldLevel}
			case "source":
				ch.Source = c.value()
				index[id] = fieldRef{pos, fieldSource}
			}
		}
		channels = append(channels, ch)
	})
	return channels, index, values
}

func (a *Audio) handleRemoval(msg node) {
	id, ok := msg.intAttr("id")
	if !ok {
		return
	}
	a.mu.RLock()
	ours := a.bound && a.devID == id
	a.mu.RUnlock()
	if !ours {
		return
	}
	a.unbind()
	a.Lifecycle().Report(false)
}

func (a *Audio) unbind() {
	a.mu.Lock()
	a.bound = false
	a.devID = 0
	a.model = ""
	a.serial = ""
	a.channels = nil
	a.index = nil
	a.values = make(map[int]string)
	a.resetLevels()
	a.mu.Unlock()
}

// resetLevels drops throttling state and cancels pending flushes.
// Caller holds a.mu.
func (a *Audio) resetLevels() {
	for _, f := range a.trailing {
		f.timer.Stop()
	}
	clear(a.trailing)
	clear(a.limiters)
	clear(a.sent)
}

// handleSet applies item updates. Name and routing changes fire one
// updated event; level changes fire rate-limited levels events, and the
// newest throttled level follows once the interval has passed.
func (a *Audio) handleSet(msg node) {
	devID, ok := msg.intAttr("devid")
	if !ok {
		return
	}

	var (
		structural bool
		levels     []Level
	)

	a.mu.Lock()
	if !a.bound || devID != a.devID {
		a.mu.Unlock()
		return
	}
	for _, item := range msg.children("item") {
		id, ok := item.intAttr("id")
		if !ok {
			continue
		}
		value := item.value()
		a.values[id] = value

		ref, ok := a.index[id]
		if !ok {
			continue
		}
		ch := &a.channels[ref.channel]
		switch ref.field {
		case fieldName:
			if ch.Name != value {
				ch.Name = value
				structural = true
			}
		case fieldSource:
			if ch.Source != value {
				ch.Source = value
				structural = true
			}
		case fieldLevel:
			level, err := strconv.ParseFloat(value, 64)
			if err != nil || level == ch.Level {
				continue
			}
			ch.Level = level
			if a.allowLevel(ref) {
				a.sent[ref] = level
				levels = append(levels, Level{Kind: ch.Kind, Index: ch.Index, Level: level})
			} else {
				a.scheduleFlush(ref)
			}
		}
	}
	a.mu.Unlock()

	if structural {
		a.EmitUpdated(a.State())
	}
	for _, l := range levels {
		a.EmitLevels(l)
	}
}

// allowLevel reports whether a level event for ref may fire now.
// Caller holds a.mu.
func (a *Audio) allowLevel(ref fieldRef) bool {
	lim, ok := a.limiters[ref]
	if !ok {
		lim = rate.NewLimiter(rate.Every(LevelInterval), 1)
		a.limiters[ref] = lim
	}
	return lim.Allow()
}

// scheduleFlush arms one trailing emission for ref. Caller holds a.mu.
func (a *Audio) scheduleFlush(ref fieldRef) {
	if _, ok := a.trailing[ref]; ok {
		return
	}
	f := &levelFlush{}
	a.trailing[ref] = f
	f.timer = time.AfterFunc(LevelInterval, func() { a.flushLevel(ref, f) })
}

// flushLevel emits the current level of ref unless it was already sent.
func (a *Audio) flushLevel(ref fieldRef, f *levelFlush) {
	a.mu.Lock()
	if a.trailing[ref] != f {
		a.mu.Unlock()
		return
	}
	delete(a.trailing, ref)
	if !a.bound || ref.channel >= len(a.channels) {
		a.mu.Unlock()
		return
	}
	ch := a.channels[ref.channel]
	if last, ok := a.sent[ref]; ok && last == ch.Level {
		a.mu.Unlock()
		return
	}
	if !a.allowLevel(ref) {
		a.scheduleFlush(ref)
		a.mu.Unlock()
		return
	}
	a.sent[ref] = ch.Level
	a.mu.Unlock()

	a.EmitLevels(Level{Kind: ch.Kind, Index: ch.Index, Level: ch.Level})
}

// cmdSet runs set(id, value).
func (a *Audio) cmdSet(args []any) bool {
	id, ok := device.IntArg(args, 0)
	if !ok || len(args) < 2 || args[1] == nil {
		return false
	}
	value := formatValue(args[1])

	a.mu.RLock()
	bound, devID := a.bound, a.devID
	a.mu.RUnlock()
	if !bound || !a.Connected() {
		return false
	}
	if err := a.send(setItem(devID, id, value)); err != nil {
		a.Logger().Debug("audio write failed", "device", a.Name(), "error", err)
		return false
	}
	return true
}

func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	if n, ok := device.IntArg([]any{v}, 0); ok {
		return strconv.Itoa(n)
	}
	return ""
}

// Value returns the last known value of an item.
func (a *Audio) Value(id int) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.values[id]
	return v, ok
}

// Channels returns a copy of the bound device's channels.
func (a *Audio) Channels() []Channel {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Channel(nil), a.channels...)
}

// State returns the audio-specific status fields.
func (a *Audio) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return State{
		DeviceID: a.devID,
		Model:    a.model,
		Serial:   a.serial,
		Channels: append([]Channel{}, a.channels...),
	}
}

// Status returns the published snapshot.
func (a *Audio) Status() device.Status {
	s := a.Summary()
	s.Details = a.State()
	return s
}
