// Package relay implements the room-based publish/subscribe engine behind
// ClipRelay.
//
// Subscribers are Sessions bound to one room each. The Registry tracks room
// membership, the Gate checks room tokens, the RateLimiter caps publishes per
// source, the Monitor evicts sessions that stop answering pings, and the
// Dispatcher fans published text out to a room. A Hub owns all of them.
package relay
