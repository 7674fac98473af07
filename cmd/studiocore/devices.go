package main

import (
	"fmt"

	"github.com/nerrad567/studio-core/internal/bridges/atem"
	"github.com/nerrad567/studio-core/internal/bridges/audio"
	"github.com/nerrad567/studio-core/internal/bridges/matrix"
	"github.com/nerrad567/studio-core/internal/bridges/modem"
	"github.com/nerrad567/studio-core/internal/bridges/netswitch"
	"github.com/nerrad567/studio-core/internal/bridges/plug"
	"github.com/nerrad567/studio-core/internal/bridges/ups"
	"github.com/nerrad567/studio-core/internal/bridges/videohub"
	"github.com/nerrad567/studio-core/internal/bridges/vmix"
	"github.com/nerrad567/studio-core/internal/device"
	"github.com/nerrad567/studio-core/internal/infrastructure/config"
	"github.com/nerrad567/studio-core/internal/infrastructure/logging"
	"github.com/nerrad567/studio-core/internal/tally"
)

// buildDevices creates one adapter per configured device and registers it.
// Devices are created in config.DeviceTypes order so that registration
// order, and therefore listing order, is stable across restarts.
//
// Nothing is started here; links are resolved by name when each mixer or
// router starts, so a slave may be declared before its master.
func buildDevices(cfg *config.Config, registry *device.Registry, log *logging.Logger) ([]device.Device, error) {
	var out []device.Device
	for _, typ := range config.DeviceTypes {
		for _, dc := range cfg.Devices[typ] {
			d, err := newDevice(device.Type(typ), dc, registry, log.Device(typ, dc.Name))
			if err != nil {
				return nil, err
			}
			registry.Register(d)
			out = append(out, d)
		}
	}
	return out, nil
}

// newDevice maps a config entry onto the adapter for its family.
func newDevice(typ device.Type, dc config.DeviceConfig, registry *device.Registry, log device.Logger) (device.Device, error) {
	switch typ {
	case device.TypeVmix:
		return vmix.New(vmix.Config{
			Name:          dc.Name,
			Host:          dc.Hostname,
			Port:          dc.Port,
			WOL:           dc.WOL,
			Inputs:        dc.Inputs,
			Linked:        dc.Linked,
			RetryInterval: dc.ReconnectInterval,
		}, registry, log), nil

	case device.TypeAtem:
		return atem.New(atem.Config{
			Name:          dc.Name,
			Host:          dc.Hostname,
			Port:          dc.Port,
			WOL:           dc.WOL,
			Inputs:        dc.Inputs,
			Linked:        dc.Linked,
			RetryInterval: dc.ReconnectInterval,
		}, registry, nil, log), nil

	case device.TypeVideohub:
		return videohub.New(videohub.Config{
			Name:          dc.Name,
			Host:          dc.Hostname,
			Port:          dc.Port,
			WOL:           dc.WOL,
			Inputs:        dc.Inputs,
			Outputs:       dc.Outputs,
			NCInputs:      dc.NCInputs,
			NCOutputs:     dc.NCOutputs,
			Linked:        dc.Linked,
			RetryInterval: dc.ReconnectInterval,
		}, registry, log), nil

	case device.TypeMatrix:
		return matrix.New(matrix.Config{
			Name:          dc.Name,
			Host:          dc.Hostname,
			Port:          dc.Port,
			WOL:           dc.WOL,
			Username:      dc.Username,
			Password:      dc.Password,
			Banner:        dc.Banner,
			Inputs:        dc.Inputs,
			Outputs:       dc.Outputs,
			NCInputs:      dc.NCInputs,
			NCOutputs:     dc.NCOutputs,
			Linked:        dc.Linked,
			RetryInterval: dc.ReconnectInterval,
		}, registry, log), nil

	case device.TypeAudio:
		return audio.New(audio.Config{
			Name:          dc.Name,
			Host:          dc.Hostname,
			Port:          dc.Port,
			WOL:           dc.WOL,
			Model:         dc.Model,
			Serial:        dc.Serial,
			RetryInterval: dc.ReconnectInterval,
		}, log), nil

	case device.TypeNetwork:
		return netswitch.New(netswitch.Config{
			Name:       dc.Name,
			Host:       dc.Hostname,
			WOL:        dc.WOL,
			TelnetPort: dc.Port,
			Username:   dc.Username,
			Password:   dc.Password,
			Interval:   dc.ReconnectInterval,
		}, log), nil

	case device.TypeModem:
		return modem.New(modem.Config{
			Name:       dc.Name,
			Host:       dc.Hostname,
			Port:       dc.Port,
			WOL:        dc.WOL,
			StatusPath: dc.StatusPath,
			LoginPath:  dc.LoginPath,
			Username:   dc.Username,
			Password:   dc.Password,
			Interval:   dc.ReconnectInterval,
		}, log), nil

	case device.TypeUPS:
		return ups.New(ups.Config{
			Name:      dc.Name,
			Host:      dc.Hostname,
			Port:      dc.Port,
			WOL:       dc.WOL,
			Community: dc.Community,
			Interval:  dc.ReconnectInterval,
		}, log), nil

	case device.TypePlug:
		return plug.New(plug.Config{
			Name:     dc.Name,
			Host:     dc.Hostname,
			Port:     dc.Port,
			WOL:      dc.WOL,
			Username: dc.Username,
			Password: dc.Password,
			Interval: dc.ReconnectInterval,
		}, log), nil
	}
	return nil, fmt.Errorf("unknown device type %q", typ)
}

// rosterUsers converts the configured users into roster entries.
func rosterUsers(users []config.UserConfig) []tally.User {
	out := make([]tally.User, 0, len(users))
	for _, u := range users {
		out = append(out, tally.User{
			Username:    u.Username,
			Name:        u.Name,
			CamNumber:   u.CamNumber,
			ChannelName: u.ChannelName,
		})
	}
	return out
}
