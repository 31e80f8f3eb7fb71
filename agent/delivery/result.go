// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package delivery

import (
	"github.com/hashicorp/go-multierror"

	"github.com/xmppd/xmppd/agent/structs"
)

// Outcome describes what finally happened to a relayed stanza.
type Outcome int

const (
	// OutcomeDelivered means at least one target accepted the stanza.
	OutcomeDelivered Outcome = iota

	// OutcomeDropped means nobody got the stanza and nobody was told.
	OutcomeDropped

	// OutcomeBounced means an error was returned to the sender.
	OutcomeBounced

	// OutcomeStoredOffline means the stanza was kept for later delivery.
	OutcomeStoredOffline

	// OutcomeFailed means the failure strategy itself failed.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeDropped:
		return "dropped"
	case OutcomeBounced:
		return "bounced"
	case OutcomeStoredOffline:
		return "stored-offline"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of relaying one stanza to one receiver address.
type Result struct {
	Receiver structs.Address
	Stanza   *structs.Stanza

	// Seq is the admission sequence number assigned by the relay.
	Seq uint64

	// Delivered counts the targets that accepted the stanza.
	Delivered int

	// Errors holds the failures in the order they occurred.
	Errors []error

	Outcome Outcome

	// StrategyErr is set when the failure strategy failed.
	StrategyErr error
}

// Success reports whether at least one target accepted the stanza.
func (r *Result) Success() bool {
	return r.Delivered > 0
}

// Err aggregates Errors and StrategyErr. It is nil if neither is set.
func (r *Result) Err() error {
	var merr *multierror.Error
	for _, err := range r.Errors {
		merr = multierror.Append(merr, err)
	}
	if r.StrategyErr != nil {
		merr = multierror.Append(merr, r.StrategyErr)
	}
	return merr.ErrorOrNil()
}

func (r *Result) addError(err error) {
	r.Errors = append(r.Errors, err)
}
