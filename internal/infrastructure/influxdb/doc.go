// Package influxdb writes polled device telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go library. Readings from the UPS,
// modem and network probe adapters are written to the device_telemetry
// measurement, tagged by device type and name. Tally state is never written.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry is optional
//	}
//	defer client.Close()
//
//	client.WriteTelemetry("network", "Core Switch", map[string]any{"rtt_ms": 0.4})
//
// Writes are batched according to influxdb.batch_size and
// influxdb.flush_interval.
package influxdb
