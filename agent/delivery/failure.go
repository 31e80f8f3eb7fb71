// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package delivery

import (
	"errors"
	"fmt"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"

	"github.com/xmppd/xmppd/agent/federation"
	"github.com/xmppd/xmppd/agent/offline"
	"github.com/xmppd/xmppd/agent/structs"
	"github.com/xmppd/xmppd/logging"
)

// FailureStrategy decides what happens to a stanza no target accepted. It is
// called at most once per relayed stanza with all errors that occurred.
type FailureStrategy interface {
	Process(stanza *structs.Stanza, errs []error) (Outcome, error)
}

// Ignore drops undeliverable stanzas.
type Ignore struct{}

func (Ignore) Process(*structs.Stanza, []error) (Outcome, error) {
	return OutcomeDropped, nil
}

const bounceText = "stanza could not be delivered"

// BounceConfig limits the number of errors returned to one sender.
type BounceConfig struct {
	// Limit is the sustained number of bounces per second per sender bare
	// address. Zero means unlimited.
	Limit rate.Limit

	Burst int

	// Senders is how many per sender limiters are kept.
	Senders int
}

// Bounce returns an error stanza to the sender of an undeliverable stanza.
// Error stanzas are never answered.
type Bounce struct {
	relay  Relay
	cfg    BounceConfig
	logger hclog.Logger

	limiters *lru.Cache
}

// NewBounce returns a strategy answering through relay.
func NewBounce(relay Relay, cfg BounceConfig, logger hclog.Logger) (*Bounce, error) {
	if relay == nil {
		return nil, errors.New("bounce requires a relay")
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Senders <= 0 {
		cfg.Senders = 1024
	}
	cache, err := lru.New(cfg.Senders)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Bounce{
		relay:    relay,
		cfg:      cfg,
		logger:   logger.Named(logging.Delivery),
		limiters: cache,
	}, nil
}

func (b *Bounce) Process(stanza *structs.Stanza, errs []error) (Outcome, error) {
	if !stanza.IsCore() {
		return OutcomeFailed, fmt.Errorf("cannot return %q stanza to sender", stanza.Name)
	}
	if stanza.IsError() {
		return OutcomeDropped, nil
	}
	if stanza.From.IsZero() {
		return OutcomeDropped, nil
	}

	cond := structs.ConditionServiceUnavailable
	switch {
	case anyIs(errs, ErrUnknownAccount):
		if stanza.IsPresence() {
			switch stanza.Type {
			case structs.PresenceAvailable, structs.PresenceSubscribed, structs.PresenceUnsubscribe,
				structs.PresenceUnsubscribed, structs.PresenceUnavailable, structs.PresenceError:
				return OutcomeDropped, nil
			case structs.PresenceSubscribe:
				reply := structs.NewPresence(stanza.To, stanza.From, structs.PresenceUnsubscribed, "")
				return b.send(reply)
			}
		}
	case anyIs(errs, federation.ErrRemoteServerTimeout):
		cond = structs.ConditionRemoteServerTimeout
	case anyIs(errs, federation.ErrRemoteServerNotFound):
		cond = structs.ConditionRemoteServerNotFound
	case anyIs(errs, ErrRecipientUnavailable):
		if stanza.IsPresence() {
			cond = structs.ConditionRecipientUnavailable
		}
	}

	return b.send(stanza.ErrorResponse(cond, structs.ErrorTypeCancel, bounceText))
}

func (b *Bounce) send(reply *structs.Stanza) (Outcome, error) {
	if !b.allow(reply.To) {
		metrics.IncrCounter([]string{"delivery", "bounce", "limited"}, 1)
		b.logger.Debug("bounce rate exceeded, dropping", "sender", reply.To)
		return OutcomeDropped, nil
	}
	if _, err := b.relay.Relay(reply.To, reply, Ignore{}); err != nil {
		return OutcomeFailed, fmt.Errorf("failed returning stanza to sender: %w", err)
	}
	metrics.IncrCounter([]string{"delivery", "bounce"}, 1)
	return OutcomeBounced, nil
}

func (b *Bounce) allow(sender structs.Address) bool {
	if b.cfg.Limit == 0 {
		return true
	}
	key := sender.Bare()
	if raw, ok := b.limiters.Get(key); ok {
		return raw.(*rate.Limiter).Allow()
	}
	limiter := rate.NewLimiter(b.cfg.Limit, b.cfg.Burst)
	if prev, ok, _ := b.limiters.PeekOrAdd(key, limiter); ok {
		limiter = prev.(*rate.Limiter)
	}
	return limiter.Allow()
}

// OfflineStore keeps undeliverable messages for later. Other stanza kinds
// are dropped.
type OfflineStore struct {
	Receiver offline.Receiver
}

func (s OfflineStore) Process(stanza *structs.Stanza, _ []error) (Outcome, error) {
	if !stanza.IsMessage() || stanza.IsError() {
		return OutcomeDropped, nil
	}
	if s.Receiver == nil {
		return OutcomeFailed, fmt.Errorf("%w: no offline storage", ErrConfiguration)
	}
	if err := s.Receiver.Receive(stanza); err != nil {
		return OutcomeFailed, fmt.Errorf("failed storing stanza offline: %w", err)
	}
	return OutcomeStoredOffline, nil
}

func anyIs(errs []error, target error) bool {
	for _, err := range errs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
