// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package delivery

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/xmppd/xmppd/agent/structs"
)

// Triple is one request seen by a RecordingRelay.
type Triple struct {
	Receiver structs.Address
	Stanza   *structs.Stanza
	Strategy FailureStrategy
}

// RecordingRelay records every relayed stanza instead of delivering it and
// reports it as delivered. It is meant for tests of code that sends
// stanzas.
type RecordingRelay struct {
	lock    sync.Mutex
	entries []Triple
	stopped atomic.Bool
	seq     uint64
}

func (r *RecordingRelay) Relay(receiver structs.Address, stanza *structs.Stanza, strategy FailureStrategy) (<-chan *Result, error) {
	if r.stopped.Load() {
		return nil, fmt.Errorf("%w: recording relay is not relaying", ErrServiceUnavailable)
	}

	r.lock.Lock()
	r.entries = append(r.entries, Triple{Receiver: receiver, Stanza: stanza, Strategy: strategy})
	r.lock.Unlock()

	ch := make(chan *Result, 1)
	ch <- &Result{
		Receiver:  receiver,
		Stanza:    stanza,
		Seq:       atomic.AddUint64(&r.seq, 1),
		Delivered: 1,
		Outcome:   OutcomeDelivered,
	}
	close(ch)
	return ch, nil
}

// Entries returns a copy of the recorded requests in relay order.
func (r *RecordingRelay) Entries() []Triple {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]Triple(nil), r.entries...)
}

// Len returns the number of recorded requests.
func (r *RecordingRelay) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.entries)
}

// Reset forgets all recorded requests.
func (r *RecordingRelay) Reset() {
	r.lock.Lock()
	r.entries = nil
	r.lock.Unlock()
}

func (r *RecordingRelay) Stop()            { r.stopped.Store(true) }
func (r *RecordingRelay) IsRelaying() bool { return !r.stopped.Load() }

func (r *RecordingRelay) WriteStats(w io.Writer) error {
	_, err := fmt.Fprintf(w, "==== recording relay\nRecorded %d\n", r.Len())
	return err
}

var _ ManagedRelay = (*RecordingRelay)(nil)
