package device

import (
	"fmt"
	"sync"
)

// EventKind names a device notification.
type EventKind string

// Event kinds emitted by devices.
const (
	// EventConnected fires once on every disconnected → connected edge.
	EventConnected EventKind = "connected"

	// EventDisconnected fires once on every connected → disconnected edge.
	EventDisconnected EventKind = "disconnected"

	// EventConnection fires on every connection check, edge or not.
	EventConnection EventKind = "connection"

	// EventTallies fires when a device's tally vector changes.
	EventTallies EventKind = "tallies"

	// EventUpdated fires when structural state (names, routing, telemetry)
	// changes.
	EventUpdated EventKind = "updated"

	// EventLevels carries throttled meter/level data.
	EventLevels EventKind = "levels"

	// EventAction fires when the device confirms an action that slaves may
	// replay.
	EventAction EventKind = "action"

	// EventLinked fires when a device starts following a master.
	EventLinked EventKind = "linked"

	// EventUnlinked fires when a device stops following its master.
	EventUnlinked EventKind = "unlinked"
)

// Action is a confirmed command that linked slaves may mirror.
type Action struct {
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// Event is a single notification from a device.
type Event struct {
	Kind      EventKind
	Device    string
	Type      Type
	Connected bool
	Tallies   []int
	Action    Action
	Data      any
}

// Handler receives events. Handlers run on the emitting goroutine and must
// not block.
type Handler func(Event)

type subscriber struct {
	id int
	fn Handler
}

// Emitter is an ordered publish/subscribe point for one device.
//
// Thread Safety: Subscribe, Emit and the returned unsubscribe functions are
// safe for concurrent use. Handlers added during an Emit do not receive that
// event.
type Emitter struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscriber
	logger Logger
}

// NewEmitter creates an emitter. A nil logger discards handler panics.
func NewEmitter(logger Logger) *Emitter {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Emitter{logger: logger}
}

// Subscribe registers fn and returns a function that removes it.
// The returned function is idempotent.
func (e *Emitter) Subscribe(fn Handler) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subs = append(e.subs, subscriber{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(id) })
	}
}

func (e *Emitter) remove(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, s := range e.subs {
		if s.id == id {
			e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
			return
		}
	}
}

// Emit delivers ev to every current subscriber in subscription order.
// A panicking handler is logged and does not stop delivery to the rest.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	subs := make([]subscriber, len(e.subs))
	copy(subs, e.subs)
	e.mu.RUnlock()

	for _, s := range subs {
		e.deliver(s.fn, ev)
	}
}

func (e *Emitter) deliver(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panic recovered",
				"device", ev.Device,
				"event", string(ev.Kind),
				"panic", fmt.Sprint(r),
			)
		}
	}()
	fn(ev)
}

// Len returns the number of subscribers.
func (e *Emitter) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}
