// Package config handles loading and validating Studio Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of the device inventory and user roster
//
// Device credentials (matrix, switch and modem passwords) live in the same
// file; it should have restricted permissions (0600). Broker and InfluxDB
// secrets can be supplied through STUDIOCORE_* environment variables instead.
//
// Usage:
//
//	cfg, err := config.Load("configs/studio.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, d := range cfg.Devices["vmix"] {
//	    fmt.Println(d.Name, d.Hostname)
//	}
package config
