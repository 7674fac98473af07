package broadcast

import (
	"slices"
	"sync"

	"github.com/nerrad567/studio-core/internal/device"
	"github.com/nerrad567/studio-core/internal/tally"
)

// Service fans device events out to publishers.
type Service struct {
	registry *device.Registry
	roster   *tally.Roster
	logger   device.Logger

	mu         sync.RWMutex
	publishers []Publisher
	telemetry  TelemetryWriter
	unsubs     []func()

	// tallyMu serialises recombination so that concurrent mixer events
	// publish vectors in the order they were computed.
	tallyMu  sync.Mutex
	combined []int
}

// New creates a service over registry. roster may be nil when no users are
// configured.
func New(registry *device.Registry, roster *tally.Roster, logger device.Logger) *Service {
	if roster == nil {
		roster = tally.NewRoster(nil)
	}
	if logger == nil {
		logger = device.NopLogger()
	}
	return &Service{
		registry: registry,
		roster:   roster,
		logger:   logger,
		combined: []int{},
	}
}

// AddPublisher registers p for every subsequent message.
func (s *Service) AddPublisher(p Publisher) {
	s.mu.Lock()
	s.publishers = append(s.publishers, p)
	s.mu.Unlock()
}

// SetTelemetry enables telemetry recording.
func (s *Service) SetTelemetry(w TelemetryWriter) {
	s.mu.Lock()
	s.telemetry = w
	s.mu.Unlock()
}

// Start subscribes to every registered device. Devices registered later
// are not observed.
func (s *Service) Start() {
	devices := s.registry.All()

	s.mu.Lock()
	for _, d := range devices {
		s.unsubs = append(s.unsubs, d.Events().Subscribe(func(ev device.Event) {
			s.handle(d, ev)
		}))
	}
	s.mu.Unlock()

	s.logger.Info("broadcast started", "devices", len(devices))
}

// Stop removes every device subscription.
func (s *Service) Stop() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

func (s *Service) handle(d device.Device, ev device.Event) {
	switch ev.Kind {
	case device.EventConnected:
		s.publishStatus(d, ev.Kind)
		s.recordConnection(d, true)
		if isTallySource(d) {
			s.Recombine()
		}

	case device.EventDisconnected:
		st := s.publishStatus(d, ev.Kind)
		s.publish(Message{
			Channel: DisconnectChannel(d.Type()),
			Type:    d.Type(),
			Device:  d.Name(),
			Event:   ev.Kind,
			Payload: st,
		})
		s.recordConnection(d, false)
		if isTallySource(d) {
			s.Recombine()
		}

	case device.EventTallies:
		s.publishStatus(d, ev.Kind)
		s.Recombine()

	case device.EventUpdated:
		s.publishStatus(d, ev.Kind)
		s.recordTelemetry(d)

	case device.EventLinked, device.EventUnlinked:
		s.publishStatus(d, ev.Kind)
		s.publishEvent(d, ev.Kind, ev.Data)

	case device.EventAction:
		s.publishEvent(d, ev.Kind, ev.Action)

	case device.EventLevels:
		s.publishEvent(d, ev.Kind, ev.Data)
	}
}

func (s *Service) publishStatus(d device.Device, kind device.EventKind) device.Status {
	st := d.Status()
	s.publish(Message{
		Channel: StatusChannel(d.Type()),
		Type:    d.Type(),
		Device:  d.Name(),
		Event:   kind,
		Payload: st,
	})
	return st
}

func (s *Service) publishEvent(d device.Device, kind device.EventKind, payload any) {
	s.publish(Message{
		Channel: EventChannel(d.Type()),
		Type:    d.Type(),
		Device:  d.Name(),
		Event:   kind,
		Payload: payload,
	})
}

func (s *Service) publish(msg Message) {
	s.mu.RLock()
	publishers := slices.Clone(s.publishers)
	s.mu.RUnlock()

	for _, p := range publishers {
		p.Publish(msg)
	}
}

// Recombine merges the tallies of every connected mixer, publishes the
// result when it changed and applies it to the roster.
func (s *Service) Recombine() {
	s.tallyMu.Lock()
	defer s.tallyMu.Unlock()

	combined := tally.Combine(s.registry.Tallies())
	if slices.Equal(combined, s.combined) {
		return
	}
	s.combined = combined

	s.publish(Message{Channel: ChannelTallies, Payload: slices.Clone(combined)})

	if changed := s.roster.Apply(combined); len(changed) > 0 {
		s.publish(Message{Channel: ChannelUsers, Payload: changed})
	}
}

// Tallies returns the most recently published combined vector.
func (s *Service) Tallies() []int {
	s.tallyMu.Lock()
	defer s.tallyMu.Unlock()
	return slices.Clone(s.combined)
}

// Users returns a snapshot of the roster.
func (s *Service) Users() []tally.User {
	return s.roster.Users()
}

// UpdateUser applies an intercom or camera assignment change and publishes
// the user when something changed. It reports false for unknown users.
func (s *Service) UpdateUser(username string, update UserUpdate) (tally.User, bool) {
	u, ok := s.roster.User(username)
	if !ok || (update.CamNumber != nil && *update.CamNumber < 0) {
		return u, false
	}

	changed := false
	if update.Talking != nil {
		var c bool
		u, c = s.roster.SetTalking(username, *update.Talking)
		changed = changed || c
	}
	if update.ChannelName != nil {
		var c bool
		u, c = s.roster.SetChannel(username, *update.ChannelName)
		changed = changed || c
	}
	if update.CamNumber != nil {
		var c bool
		u, c = s.roster.SetCamNumber(username, *update.CamNumber)
		changed = changed || c
	}

	if changed {
		s.publish(Message{Channel: ChannelUsers, Payload: []tally.User{u}})
	}
	return u, true
}

// UserUpdate carries the fields of a user that may change at runtime.
// Nil fields are left alone.
type UserUpdate struct {
	Talking     *bool   `json:"talking,omitempty"`
	ChannelName *string `json:"channelName,omitempty"`
	CamNumber   *int    `json:"camNumber,omitempty"`
}

func (s *Service) recordConnection(d device.Device, connected bool) {
	if _, ok := d.(device.TelemetrySource); !ok {
		return
	}
	if w := s.telemetryWriter(); w != nil {
		w.WriteConnection(string(d.Type()), d.Name(), connected)
	}
}

func (s *Service) recordTelemetry(d device.Device) {
	src, ok := d.(device.TelemetrySource)
	if !ok {
		return
	}
	if w := s.telemetryWriter(); w != nil {
		w.WriteTelemetry(string(d.Type()), d.Name(), src.Telemetry())
	}
}

func (s *Service) telemetryWriter() TelemetryWriter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.telemetry
}

func isTallySource(d device.Device) bool {
	_, ok := d.(device.TallySource)
	return ok
}
