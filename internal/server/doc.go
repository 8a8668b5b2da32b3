// Package server implements the HTTP and WebSocket surface of ClipRelay.
//
// The implementation is organized into specialized files for configuration,
// origin checks, subscribe admission, routing, middleware and handlers, while
// the publish/subscribe engine itself lives in package relay.
package server
