package influxdb

import "errors"

// Sentinel errors for InfluxDB operations. Check with errors.Is.
var (
	// ErrNotConnected indicates the client is closed.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed wraps asynchronous batch write errors.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrDisabled indicates influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
