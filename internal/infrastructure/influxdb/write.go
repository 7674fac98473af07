package influxdb

import (
	"maps"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementTelemetry is the measurement holding polled device readings.
const MeasurementTelemetry = "device_telemetry"

// WriteTelemetry records one reading set for a device, tagged with its
// type and display name. Only numeric and boolean fields are kept; a set
// with nothing left is dropped.
//
//	client.WriteTelemetry("ups", "Rack UPS", map[string]any{"charge_percent": 98})
func (c *Client) WriteTelemetry(deviceType, name string, fields map[string]any) {
	c.WriteTelemetryAt(deviceType, name, fields, time.Now())
}

// WriteTelemetryAt is WriteTelemetry with an explicit timestamp.
func (c *Client) WriteTelemetryAt(deviceType, name string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	kept := numericFields(fields)
	if len(kept) == 0 {
		return
	}

	point := write.NewPoint(
		MeasurementTelemetry,
		map[string]string{
			"device_type": deviceType,
			"device":      name,
		},
		kept,
		ts,
	)
	c.writeAPI.WritePoint(point)
}

// WriteConnection records a connection state change for a device.
func (c *Client) WriteConnection(deviceType, name string, connected bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_connection",
		map[string]string{
			"device_type": deviceType,
			"device":      name,
		},
		map[string]any{"connected": connected},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// numericFields returns the subset of fields InfluxDB can aggregate.
func numericFields(fields map[string]any) map[string]any {
	kept := maps.Clone(fields)
	maps.DeleteFunc(kept, func(_ string, v any) bool {
		switch v.(type) {
		case int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64, bool:
			return false
		}
		return true
	})
	return kept
}
