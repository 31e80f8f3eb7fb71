// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package delivery routes stanzas to the sessions of local accounts and to
// remote servers.
//
// Relays never block the caller on delivery. Relay validates the request,
// queues it on a worker pool and returns a channel that receives exactly one
// Result once delivery finished. When no target accepted the stanza the
// caller supplied FailureStrategy decides what happens to it.
package delivery

import (
	"io"

	"github.com/xmppd/xmppd/agent/structs"
)

// Relay hands a stanza over for delivery to receiver.
type Relay interface {
	Relay(receiver structs.Address, stanza *structs.Stanza, strategy FailureStrategy) (<-chan *Result, error)
}

// ManagedRelay is a Relay with a lifecycle.
type ManagedRelay interface {
	Relay

	// Stop stops accepting stanzas. Queued stanzas are abandoned.
	Stop()

	// IsRelaying reports whether Stop has not been called yet.
	IsRelaying() bool

	// WriteStats writes a human readable dump of the relay's worker pool.
	WriteStats(w io.Writer) error
}

// task is one admitted relay request.
type task struct {
	seq      uint64
	receiver structs.Address
	stanza   *structs.Stanza
	strategy FailureStrategy
	resultCh chan *Result
}

func (t *task) newResult() *Result {
	return &Result{
		Receiver: t.receiver,
		Stanza:   t.stanza,
		Seq:      t.seq,
	}
}

func (t *task) finish(res *Result) {
	t.resultCh <- res
	close(t.resultCh)
}
