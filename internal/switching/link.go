package switching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/studio-core/internal/device"
)

// ResolveInterval is how often a pending link retries resolving its master.
const ResolveInterval = time.Second

// Linker implements the master/slave action mirror for one slave device.
//
// The master is held by name and resolved through the registry, so the
// cycle check is a name comparison. While linked the slave replays every
// whitelisted action the master confirms, and unlinks itself as soon as the
// master reports disconnected.
type Linker struct {
	base      *device.Base
	registry  *device.Registry
	invoke    func(method string, args ...any) bool
	whitelist map[string]bool
	logger    device.Logger

	mu      sync.Mutex
	ctx     context.Context
	master  string
	unsub   func()
	pending context.CancelFunc
}

func newLinker(base *device.Base, registry *device.Registry, whitelist []string, invoke func(string, ...any) bool) *Linker {
	allowed := make(map[string]bool, len(whitelist))
	for _, m := range whitelist {
		allowed[m] = true
	}
	// Link management never mirrors.
	delete(allowed, "link")
	delete(allowed, "unlink")

	return &Linker{
		base:      base,
		registry:  registry,
		invoke:    invoke,
		whitelist: allowed,
		logger:    base.Logger(),
		ctx:       context.Background(),
	}
}

// bind sets the context that bounds pending master resolution.
func (l *Linker) bind(ctx context.Context) {
	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()
}

// LinkedTo returns the master's name, or "" when unlinked.
func (l *Linker) LinkedTo() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.master
}

// Mirrors reports whether method is replayed from a master.
func (l *Linker) Mirrors(method string) bool {
	return l.whitelist[method]
}

// Link makes this device follow the named master.
//
// If the master is already registered the link is checked and established
// synchronously. Otherwise Link polls the registry every ResolveInterval
// until the master appears or the bound context ends.
//
// Linking a device to itself, or to a master that is itself linked to this
// device, is a configuration bug: Link panics before changing any state.
// Link returns false for an empty name, an ambiguous name or a master of a
// different kind.
func (l *Linker) Link(master string) bool {
	if master == "" {
		return false
	}
	if master == l.base.Name() {
		panic(fmt.Sprintf("switching: device %q cannot link to itself", master))
	}

	d, err := l.registry.ByName(master)
	switch {
	case err == nil:
		return l.attach(d)
	case errors.Is(err, device.ErrDeviceNotFound):
		l.resolveLater(master)
		return true
	default:
		l.logger.Warn("link target unusable", "device", l.base.Name(), "master", master, "error", err)
		return false
	}
}

// Unlink stops following the current master. It is a no-op when unlinked.
func (l *Linker) Unlink() bool {
	l.mu.Lock()
	if l.pending != nil {
		l.pending()
		l.pending = nil
	}
	master, unsub := l.master, l.unsub
	l.master, l.unsub = "", nil
	l.mu.Unlock()

	if master == "" {
		return false
	}
	if unsub != nil {
		unsub()
	}
	l.logger.Info("device unlinked", "device", l.base.Name(), "master", master)
	l.base.EmitLink(device.EventUnlinked, master)
	return true
}

// checkCycle panics when linking to d would form a cycle of length two.
func (l *Linker) checkCycle(d device.Device) {
	if d.Name() == l.base.Name() {
		panic(fmt.Sprintf("switching: device %q cannot link to itself", d.Name()))
	}
	if other, ok := d.(device.Linkable); ok && other.LinkedTo() == l.base.Name() {
		panic(fmt.Sprintf("switching: linking %q to %q would form a cycle", l.base.Name(), d.Name()))
	}
}

func (l *Linker) attach(d device.Device) bool {
	l.checkCycle(d)

	if d.Kind() != l.base.Kind() {
		l.logger.Warn("link target is a different kind",
			"device", l.base.Name(),
			"master", d.Name(),
			"kind", string(d.Kind()),
		)
		return false
	}

	l.Unlink()

	name := d.Name()
	unsub := d.Events().Subscribe(func(ev device.Event) {
		l.onMasterEvent(name, ev)
	})

	l.mu.Lock()
	l.master = name
	l.unsub = unsub
	l.mu.Unlock()

	l.logger.Info("device linked", "device", l.base.Name(), "master", name)
	l.base.EmitLink(device.EventLinked, name)
	return true
}

func (l *Linker) resolveLater(master string) {
	l.mu.Lock()
	if l.pending != nil {
		l.pending()
	}
	ctx, cancel := context.WithCancel(l.ctx)
	l.pending = cancel
	l.mu.Unlock()

	l.logger.Debug("link master not registered yet, waiting", "device", l.base.Name(), "master", master)

	go func() {
		ticker := time.NewTicker(ResolveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			d, err := l.registry.ByName(master)
			if errors.Is(err, device.ErrDeviceNotFound) {
				continue
			}

			l.mu.Lock()
			stale := ctx.Err() != nil
			if !stale {
				l.pending = nil
			}
			l.mu.Unlock()
			cancel()

			if stale || err != nil {
				return
			}
			l.attach(d)
			return
		}
	}()
}

func (l *Linker) onMasterEvent(master string, ev device.Event) {
	if l.LinkedTo() != master {
		return
	}

	switch ev.Kind {
	case device.EventDisconnected:
		l.Unlink()
	case device.EventAction:
		if !l.whitelist[ev.Action.Method] {
			return
		}
		ok := l.invoke(ev.Action.Method, ev.Action.Args...)
		l.logger.Debug("mirrored action",
			"device", l.base.Name(),
			"master", master,
			"method", ev.Action.Method,
			"accepted", ok,
		)
	}
}

// stop cancels any pending resolution and drops the current link.
func (l *Linker) stop() {
	l.Unlink()
}

// linkCommands returns the link/unlink entries for a command table.
func (l *Linker) linkCommands() device.Commands {
	return device.Commands{
		"link": func(args []any) bool {
			name, ok := device.StringArg(args, 0)
			if !ok {
				return false
			}
			return l.Link(name)
		},
		"unlink": func([]any) bool {
			return l.Unlink()
		},
	}
}

// summarizer is satisfied by every adapter through its embedded *device.Base.
type summarizer interface {
	Summary() device.Status
}

// summary returns d's common status fields without type-specific details,
// so master and slave statuses never recurse into each other.
func summary(d device.Device) device.Status {
	if s, ok := d.(summarizer); ok {
		return s.Summary()
	}
	return device.Status{
		Type:      d.Type(),
		Hostname:  d.Hostname(),
		Name:      d.Name(),
		Connected: d.Connected(),
	}
}

// linkStatus returns the derived linked/slaves fields for a status snapshot.
// Linked is the master's summary, or false when unlinked.
func (l *Linker) linkStatus() (linked any, slaves []device.Status) {
	linked = false
	if master := l.LinkedTo(); master != "" {
		if d, err := l.registry.ByName(master); err == nil {
			linked = summary(d)
		}
	}

	slaves = []device.Status{}
	for _, d := range l.registry.Slaves(l.base.Name()) {
		slaves = append(slaves, summary(d))
	}
	return linked, slaves
}
