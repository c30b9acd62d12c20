// Package transport implements point-to-point message delivery between
// shard endpoints: reliable, in-order, point-to-point byte delivery with
// backpressure, and a TCP implementation of it that frames each message
// with a 4-byte big-endian length prefix, grounded in the teacher's
// cluster.PostJSON/GetJSON control-plane client but built for a persistent
// binary stream rather than one-shot HTTP requests.
package transport

import (
	"errors"
	"fmt"
)

// Location is an opaque endpoint identifier: a shard server's host and
// port. It is comparable and safe to use as a map key.
type Location struct {
	Host string
	Port int
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// ErrPeerDown is returned when a peer connection could not be established
// or was lost and could not be reestablished.
var ErrPeerDown = errors.New("transport: peer down")

// ErrBackpressure is returned by Send when a peer's outbound queue is full,
// the caller-visible signal to slow down rather than unbounded buffering.
var ErrBackpressure = errors.New("transport: outbound queue full")

// Handler processes one inbound message, identified by the peer Location it
// arrived from and its raw bytes (a message.Prepare-produced envelope,
// header already stripped).
type Handler func(from Location, payload []byte)

// Transport is the contract a shard server depends on for inter-shard
// delivery. internal/shard and internal/coordinator only ever see this
// interface, never net.Conn directly.
type Transport interface {
	// Send enqueues payload for delivery to to. It returns once the
	// payload is queued, not once it is acknowledged; ErrBackpressure
	// means the queue is full and the caller should retry or drop.
	Send(to Location, payload []byte) error
	// Serve accepts inbound connections and invokes handler for every
	// message received on any of them, until Close is called.
	Serve(handler Handler) error
	// Close releases every connection and stops Serve.
	Close() error
}
