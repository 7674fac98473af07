// Package device provides the common device model for Studio Core.
//
// Every piece of production hardware the hub talks to (video mixers, matrix
// routers, audio interfaces, network switches, modems, UPS units and smart
// plugs) is represented by a value implementing the Device interface. This
// package supplies the parts every adapter shares:
//
//   - Base: identity (type, name, hostname, Wake-on-LAN address)
//   - Lifecycle: the Disconnected → Connecting → Connected state machine with
//     edge-triggered connected/disconnected events and fixed-interval retry
//   - Poller: two-timer request/response polling for HTTP and SNMP devices
//   - Emitter: ordered publish/subscribe of device events
//   - Registry: the process-wide, type-indexed collection of devices
//
// # Ownership
//
// A device's mutable state is written only by its own adapter goroutine.
// Everything else (registry, aggregation, broadcast, API) reads published
// snapshots. The Registry itself only serialises registration.
//
// # Events
//
// Adapters publish Event values through their Emitter. Handlers run
// synchronously on the emitting goroutine, in subscription order, so
// per-device ordering matches the order bytes were read from the wire.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package device
