// Package switching provides the state shared by vision mixers and matrix
// routers, and the link protocol that lets one device mirror another.
//
// A Mixer or Router is embedded by a protocol adapter. The adapter registers
// its commands with Handle, writes confirmed hardware state back with the
// setters, and emits actions from the device's own echoes. A linked device
// (the slave) subscribes to its master's events and replays whitelisted
// actions through its own command table:
//
//	mixers:  cut, transition, fade, switchInput, overlay
//	routers: route
//
// Links are held by master name and resolved through the registry. Linking a
// device to itself, or to a master already linked back to it, panics.
package switching
