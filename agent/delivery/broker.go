// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package delivery

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/xmppd/xmppd/agent/structs"
	"github.com/xmppd/xmppd/logging"
)

type BrokerConfig struct {
	ServerDomain string

	// FederationEnabled allows relaying to foreign domains.
	FederationEnabled bool
}

// Broker is the single entry point for outgoing stanzas. It relays stanzas
// for the server domain and its sub-domains internally and everything else
// externally.
type Broker struct {
	serverDomain      string
	federationEnabled bool
	internal          ManagedRelay
	external          ManagedRelay
	logger            hclog.Logger

	stopOnce sync.Once
}

// NewBroker returns a broker over the given relays. external may be nil if
// federation is disabled.
func NewBroker(cfg BrokerConfig, internal, external ManagedRelay, logger hclog.Logger) (*Broker, error) {
	if cfg.ServerDomain == "" {
		return nil, fmt.Errorf("%w: server domain not set", ErrConfiguration)
	}
	if internal == nil {
		return nil, fmt.Errorf("%w: broker requires an internal relay", ErrConfiguration)
	}
	if cfg.FederationEnabled && external == nil {
		return nil, fmt.Errorf("%w: federation enabled without an external relay", ErrConfiguration)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Broker{
		serverDomain:      strings.ToLower(cfg.ServerDomain),
		federationEnabled: cfg.FederationEnabled,
		internal:          internal,
		external:          external,
		logger:            logger.Named(logging.Broker),
	}, nil
}

// Relay routes the stanza to the relay responsible for receiver.
func (b *Broker) Relay(receiver structs.Address, stanza *structs.Stanza, strategy FailureStrategy) (<-chan *Result, error) {
	if receiver.IsZero() {
		return nil, fmt.Errorf("%w: stanza has no receiver", ErrConfiguration)
	}

	if receiver.Domain == b.serverDomain || receiver.IsSubdomainOf(b.serverDomain) {
		if receiver.Domain == b.serverDomain && !receiver.HasLocal() {
			// TODO: hand stanzas addressed to the server itself to the server's own handlers
			return nil, fmt.Errorf("%w: relaying to the server itself is not implemented", ErrConfiguration)
		}
		return b.internal.Relay(receiver, stanza, strategy)
	}

	if !b.federationEnabled {
		b.logger.Debug("not relaying to foreign domain, federation is disabled", "receiver", receiver)
		return nil, fmt.Errorf("%w: relaying to %s requires federation", ErrConfiguration, receiver.Domain)
	}
	return b.external.Relay(receiver, stanza, strategy)
}

// IsRelaying reports whether the internal relay accepts stanzas.
func (b *Broker) IsRelaying() bool {
	return b.internal.IsRelaying()
}

// Stop stops both relays. Only the first call has an effect.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		b.logger.Info("stopping relays")
		b.internal.Stop()
		if b.external != nil {
			b.external.Stop()
		}
	})
}

// WriteStats dumps the statistics of both relays.
func (b *Broker) WriteStats(w io.Writer) error {
	var merr error
	if err := b.internal.WriteStats(w); err != nil {
		merr = multierror.Append(merr, err)
	}
	if b.external != nil {
		if err := b.external.WriteStats(w); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr
}

var _ ManagedRelay = (*Broker)(nil)
