package device

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// PollFunc performs one request/response exchange with a device.
// A nil error means the device answered.
type PollFunc func(ctx context.Context) error

// Poller drives request/response adapters (HTTP, SNMP, ICMP).
//
// It runs two independent timers: the poll ticker schedules the next
// request, and a per-request watchdog reports the device disconnected if no
// answer arrives within the timeout. A request still in flight when the next
// tick fires causes that tick to be skipped. The watchdog and the answer of
// one request report under a shared lock, and the watchdog stays silent once
// the answer is in, so subscribers see edges in the order the state changed.
type Poller struct {
	lifecycle *Lifecycle
	interval  time.Duration
	timeout   time.Duration
	poll      PollFunc
	inflight  atomic.Bool
	reportMu  sync.Mutex
}

// NewPoller creates a poller. A timeout of zero or one not shorter than the
// interval is clamped to the interval.
func NewPoller(lc *Lifecycle, interval, timeout time.Duration, poll PollFunc) *Poller {
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &Poller{
		lifecycle: lc,
		interval:  interval,
		timeout:   timeout,
		poll:      poll,
	}
}

// Interval returns the poll interval.
func (p *Poller) Interval() time.Duration { return p.interval }

// Timeout returns the non-response timeout.
func (p *Poller) Timeout() time.Duration { return p.timeout }

// Run polls immediately and then on every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if !p.inflight.CompareAndSwap(false, true) {
		return
	}
	p.lifecycle.Connecting()

	// answered is guarded by reportMu.
	answered := false
	watchdog := time.AfterFunc(p.timeout, func() {
		p.reportMu.Lock()
		defer p.reportMu.Unlock()
		if !answered && ctx.Err() == nil {
			p.lifecycle.Report(false)
		}
	})

	go func() {
		defer p.inflight.Store(false)

		pctx, cancel := context.WithTimeout(ctx, p.interval)
		defer cancel()

		err := p.poll(pctx)

		p.reportMu.Lock()
		defer p.reportMu.Unlock()
		answered = true
		watchdog.Stop()

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.lifecycle.logger.Debug("poll failed", "device", p.lifecycle.base.name, "error", err)
		}
		p.lifecycle.Report(err == nil)
	}()
}
