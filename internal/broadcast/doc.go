// Package broadcast turns device events into the messages clients consume.
//
// A Service subscribes to every device in the registry. Status changes are
// republished on status.<type>, loss of connection on disconnect.<type>,
// confirmed actions and meter levels on event.<type>. Whenever a mixer's
// tallies change, or a mixer connects or drops, the tally vectors of all
// connected mixers are recombined; a changed result goes out on tallies and
// users whose light changed go out on users.
//
// Publishers receive every message and decide what to forward: the
// WebSocket hub filters by subscribed channel, MQTTPublisher maps channels
// onto retained topics. Publishers must not block the calling goroutine,
// which is the device adapter's.
package broadcast
