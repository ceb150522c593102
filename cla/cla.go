// Package cla defines the convergence-layer adapter boundary (spec §1, §6):
// "specified only by the byte-stream + link-up/down interface it exposes."
// The contact manager (package contact) depends only on this interface.
// This package ships an in-memory Dialer (memory.go) and a TCP Dialer
// (tcp.go); serial and other transports are not provided here.
package cla

import "context"

// Handle is a single convergence-layer connection to a neighbor, opened for
// the duration of one scheduled contact (spec §4.8 "obtain a CLA handle for
// the node's CLA address").
type Handle interface {
	// StartScheduledContact signals link-up for eid over this handle.
	StartScheduledContact(ctx context.Context, eid string) error
	// Send transmits one fully serialized bundle. Implementations may
	// buffer; Send does not imply the peer has acknowledged receipt.
	Send(ctx context.Context, data []byte) error
	// EndScheduledContact signals link-down and releases the handle.
	EndScheduledContact(ctx context.Context) error
}

// Dialer obtains a Handle for a node's opaque CLA address (e.g.
// "tcp://host:port"). One Dialer typically serves one transport scheme.
type Dialer interface {
	Dial(ctx context.Context, claAddr string) (Handle, error)
}
