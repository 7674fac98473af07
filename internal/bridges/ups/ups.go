// Package ups polls uninterruptible power supplies over SNMP v2c using the
// standard UPS-MIB (RFC 1628).
package ups

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/nerrad567/studio-core/internal/device"
)

// Defaults.
const (
	DefaultPort      = 161
	DefaultCommunity = "public"
	DefaultInterval  = 10 * time.Second
	DefaultTimeout   = 5 * time.Second
)

// UPS-MIB objects.
const (
	OIDBatteryStatus    = "1.3.6.1.2.1.33.1.2.1.0"
	OIDMinutesRemaining = "1.3.6.1.2.1.33.1.2.3.0"
	OIDChargeRemaining  = "1.3.6.1.2.1.33.1.2.4.0"
	OIDOutputSource     = "1.3.6.1.2.1.33.1.4.1.0"
	OIDInputVoltage     = "1.3.6.1.2.1.33.1.3.3.1.3.1"
	OIDOutputLoad       = "1.3.6.1.2.1.33.1.4.4.1.5.1"
)

// polledOIDs is the request sent on every poll.
var polledOIDs = []string{
	OIDBatteryStatus,
	OIDMinutesRemaining,
	OIDChargeRemaining,
	OIDOutputSource,
	OIDInputVoltage,
	OIDOutputLoad,
}

var batteryStatus = map[int]string{
	1: "unknown",
	2: "normal",
	3: "low",
	4: "depleted",
}

var outputSource = map[int]string{
	1: "other",
	2: "none",
	3: "normal",
	4: "bypass",
	5: "battery",
	6: "booster",
	7: "reducer",
}

// Getter fetches a set of scalar OIDs.
type Getter interface {
	Get(ctx context.Context, oids []string) ([]gosnmp.SnmpPDU, error)
}

// SNMPGetter is the gosnmp implementation of Getter. Each call opens and
// closes its own UDP socket.
type SNMPGetter struct {
	Target    string
	Port      uint16
	Community string
	Timeout   time.Duration
}

// Get implements Getter.
func (g SNMPGetter) Get(ctx context.Context, oids []string) ([]gosnmp.SnmpPDU, error) {
	client := &gosnmp.GoSNMP{
		Target:    g.Target,
		Port:      g.Port,
		Community: g.Community,
		Version:   gosnmp.Version2c,
		Timeout:   g.Timeout,
		Retries:   0,
		Context:   ctx,
	}
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("snmp connect: %w", err)
	}
	defer client.Conn.Close()

	pkt, err := client.Get(oids)
	if err != nil {
		return nil, fmt.Errorf("snmp get: %w", err)
	}
	if pkt.Error != gosnmp.NoError {
		return nil, fmt.Errorf("snmp get: %v", pkt.Error)
	}
	return pkt.Variables, nil
}

// Config configures a UPS.
type Config struct {
	Name      string
	Host      string
	Port      int
	WOL       string
	Community string
	Interval  time.Duration
	Timeout   time.Duration
	Getter    Getter
}

// State is the UPS-specific part of the status.
type State struct {
	BatteryStatus    string `json:"batteryStatus"`
	MinutesRemaining int    `json:"minutesRemaining"`
	ChargePercent    int    `json:"chargePercent"`
	OutputSource     string `json:"outputSource"`
	OnBattery        bool   `json:"onBattery"`
	InputVoltage     int    `json:"inputVoltage"`
	LoadPercent      int    `json:"loadPercent"`
}

// UPS is a polled power supply.
type UPS struct {
	*device.Base

	cfg      Config
	poller   *device.Poller
	commands device.Commands

	mu    sync.RWMutex
	state State

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a UPS adapter.
func New(cfg Config, logger device.Logger) *UPS {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Community == "" {
		cfg.Community = DefaultCommunity
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Getter == nil {
		cfg.Getter = SNMPGetter{
			Target:    cfg.Host,
			Port:      uint16(cfg.Port),
			Community: cfg.Community,
			Timeout:   cfg.Timeout,
		}
	}

	u := &UPS{
		Base: device.NewBase(device.BaseConfig{
			Type:          device.TypeUPS,
			Name:          cfg.Name,
			Hostname:      cfg.Host,
			WOL:           cfg.WOL,
			RetryInterval: cfg.Interval,
			Logger:        logger,
		}),
		cfg:      cfg,
		commands: device.Commands{},
	}
	u.poller = device.NewPoller(u.Lifecycle(), cfg.Interval, cfg.Timeout, u.poll)
	return u
}

// Invoke runs a named command. A UPS exposes no commands.
func (u *UPS) Invoke(method string, args ...any) bool {
	return u.commands.Invoke(method, args...)
}

// Start begins polling.
func (u *UPS) Start(ctx context.Context) {
	ctx, u.cancel = context.WithCancel(ctx)
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.poller.Run(ctx)
	}()
}

// Stop ends polling.
func (u *UPS) Stop() {
	if u.cancel != nil {
		u.cancel()
	}
	u.wg.Wait()
}

func (u *UPS) poll(ctx context.Context) error {
	pdus, err := u.cfg.Getter.Get(ctx, polledOIDs)
	if err != nil {
		return err
	}

	next := Decode(pdus)

	u.mu.Lock()
	changed := next != u.state
	u.state = next
	u.mu.Unlock()

	if changed {
		u.EmitUpdated(next)
	}
	return nil
}

// Decode maps UPS-MIB variables onto a State. Missing or non-numeric
// variables leave their field at the zero value.
func Decode(pdus []gosnmp.SnmpPDU) State {
	var st State
	for _, pdu := range pdus {
		switch pdu.Type {
		case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.Null:
			continue
		}
		n := int(gosnmp.ToBigInt(pdu.Value).Int64())

		switch strings.TrimPrefix(pdu.Name, ".") {
		case OIDBatteryStatus:
			st.BatteryStatus = lookup(batteryStatus, n)
		case OIDMinutesRemaining:
			st.MinutesRemaining = n
		case OIDChargeRemaining:
			st.ChargePercent = n
		case OIDOutputSource:
			st.OutputSource = lookup(outputSource, n)
			st.OnBattery = n == 5
		case OIDInputVoltage:
			st.InputVoltage = n
		case OIDOutputLoad:
			st.LoadPercent = n
		}
	}
	return st
}

func lookup(names map[int]string, n int) string {
	if s, ok := names[n]; ok {
		return s
	}
	return "unknown"
}

// State returns the last decoded readings.
func (u *UPS) State() State {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state
}

// Status returns the published snapshot.
func (u *UPS) Status() device.Status {
	s := u.Summary()
	s.Details = u.State()
	return s
}

// Telemetry implements device.TelemetrySource.
func (u *UPS) Telemetry() map[string]any {
	st := u.State()
	return map[string]any{
		"minutes_remaining": st.MinutesRemaining,
		"charge_percent":    st.ChargePercent,
		"on_battery":        st.OnBattery,
		"input_voltage":     st.InputVoltage,
		"load_percent":      st.LoadPercent,
	}
}
