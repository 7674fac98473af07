// Package api implements the HTTP REST API and WebSocket server for Studio Core.
//
// This package provides:
//   - REST endpoints for device status and device commands
//   - The combined tally vector and the user roster
//   - WebSocket hub for real-time status, tally and user broadcasts
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The API server is a thin transport over the device registry and the
// broadcast service. Commands are resolved by type and display name and
// handed to the adapter; the adapter's echo produces the state change that
// comes back to WebSocket clients through the hub, which is one of the
// broadcast service's publishers.
//
// # WebSocket channels
//
// Clients subscribe to channel names: "tallies", "users", "status.<type>",
// "disconnect.<type>" and "event.<type>", or "*" for everything. On
// subscribe the client receives the current state of every snapshot
// channel it named.
//
// # Graceful Degradation
//
// The server operates without MQTT or InfluxDB; the metrics endpoint simply
// reports them as disconnected.
package api
