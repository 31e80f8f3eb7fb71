// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package delivery

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"

	"github.com/xmppd/xmppd/agent/accounts"
	"github.com/xmppd/xmppd/agent/components"
	"github.com/xmppd/xmppd/agent/registry"
	"github.com/xmppd/xmppd/agent/structs"
	"github.com/xmppd/xmppd/lib/workerpool"
	"github.com/xmppd/xmppd/logging"
)

// SessionResolver selects the sessions bound to an address. It is
// implemented by *registry.Registry.
type SessionResolver interface {
	HighestPrioSessions(addr structs.Address, threshold int) []registry.Session
	SessionsWithPriority(addr structs.Address, threshold int) []registry.Session
	AllSessions(addr structs.Address) []registry.Session
}

// StanzaProcessor runs the inbound protocol pipeline of a session for a
// stanza addressed to it.
type StanzaProcessor interface {
	ProcessStanza(sess registry.Session, stanza *structs.Stanza) error
}

// ComponentLookup finds the processor of a server component sub-domain. It
// is implemented by *components.Registry.
type ComponentLookup interface {
	Lookup(addr structs.Address) (components.Processor, bool)
}

type InternalRelayConfig struct {
	// ServerDomain is the domain served by this server.
	ServerDomain string

	Pool workerpool.Config

	// HighestPriorityOnly delivers chat and normal messages sent to a bare
	// address only to the resources with the highest priority instead of
	// all resources with non-negative priority.
	HighestPriorityOnly bool
}

type InternalRelayDeps struct {
	Sessions  SessionResolver
	Accounts  accounts.Verifier
	Processor StanzaProcessor

	// Components is optional.
	Components ComponentLookup

	Logger hclog.Logger
}

// InternalRelay delivers stanzas to the sessions of local accounts and to
// server components.
type InternalRelay struct {
	serverDomain string
	sessions     SessionResolver
	accounts     accounts.Verifier
	processor    StanzaProcessor
	components   ComponentLookup
	logger       hclog.Logger

	pool        *workerpool.Pool
	highestOnly atomic.Bool
	seq         uint64
	throughput  throughput
}

// NewInternalRelay starts an internal relay.
func NewInternalRelay(cfg InternalRelayConfig, deps InternalRelayDeps) (*InternalRelay, error) {
	if cfg.ServerDomain == "" {
		return nil, fmt.Errorf("%w: server domain not set", ErrConfiguration)
	}
	if deps.Sessions == nil || deps.Accounts == nil || deps.Processor == nil {
		return nil, fmt.Errorf("%w: internal relay requires sessions, accounts and a processor", ErrConfiguration)
	}
	logger := deps.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named(logging.Delivery).Named(logging.Internal)

	if cfg.Pool.Name == "" {
		cfg.Pool.Name = "internal"
	}
	pool, err := workerpool.New(cfg.Pool, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	r := &InternalRelay{
		serverDomain: strings.ToLower(cfg.ServerDomain),
		sessions:     deps.Sessions,
		accounts:     deps.Accounts,
		processor:    deps.Processor,
		components:   deps.Components,
		logger:       logger,
		pool:         pool,
	}
	r.highestOnly.Store(cfg.HighestPriorityOnly)
	return r, nil
}

// SetHighestPriorityOnly switches the bare address delivery mode of chat and
// normal messages.
func (r *InternalRelay) SetHighestPriorityOnly(v bool) {
	if r.highestOnly.Swap(v) != v {
		r.logger.Info("changed message delivery mode", "highest_priority_only", v)
	}
}

func (r *InternalRelay) HighestPriorityOnly() bool {
	return r.highestOnly.Load()
}

// Relay queues the stanza for delivery to receiver. It fails right away
// with ErrServiceUnavailable if the relay has been stopped.
func (r *InternalRelay) Relay(receiver structs.Address, stanza *structs.Stanza, strategy FailureStrategy) (<-chan *Result, error) {
	if !r.IsRelaying() {
		return nil, fmt.Errorf("%w: internal relay is not relaying", ErrServiceUnavailable)
	}
	if stanza == nil {
		return nil, errors.New("nil stanza")
	}

	t := &task{
		seq:      atomic.AddUint64(&r.seq, 1),
		receiver: receiver,
		stanza:   stanza,
		strategy: strategy,
		resultCh: make(chan *Result, 1),
	}
	if err := r.pool.Submit(func() { r.run(t) }); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	metrics.IncrCounter([]string{"delivery", "internal", "queued"}, 1)
	return t.resultCh, nil
}

func (r *InternalRelay) IsRelaying() bool {
	return !r.pool.IsShutdown()
}

// Stop shuts the worker pool down. It may be called more than once.
func (r *InternalRelay) Stop() {
	if r.IsRelaying() {
		r.logger.Info("stopping internal relay")
	}
	r.pool.Shutdown()
}

func (r *InternalRelay) WriteStats(w io.Writer) error {
	return writePoolStats(w, "internal relay", r.pool.Stats(), &r.throughput)
}

func (r *InternalRelay) run(t *task) {
	defer metrics.MeasureSince([]string{"delivery", "internal", "relay"}, time.Now())

	res := t.newResult()
	r.deliver(t, res)
	applyStrategy(r.logger, t, res)
	record("internal", res)
	t.finish(res)
}

// deliver fills res with the delivery outcome of the task. It never panics.
func (r *InternalRelay) deliver(t *task, res *Result) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("delivery panicked", "receiver", t.receiver, "panic", p)
			res.addError(fmt.Errorf("delivery to %s aborted: %v", t.receiver, p))
		}
	}()

	receiver, stanza := t.receiver, t.stanza

	if receiver.Domain != r.serverDomain {
		r.deliverToComponent(receiver, stanza, res)
		return
	}

	if !r.accounts.VerifyAccountExists(receiver) {
		r.logger.Warn("cannot relay to unknown account", "receiver", receiver, "stanza", stanza)
		res.addError(fmt.Errorf("%w: %s", ErrUnknownAccount, receiver.Bare()))
		return
	}

	sessions, drop, err := r.selectSessions(receiver, stanza)
	switch {
	case err != nil:
		res.addError(err)
		return
	case drop:
		return
	case len(sessions) == 0:
		res.addError(fmt.Errorf("%w: %s", ErrRecipientUnavailable, receiver))
		return
	}

	for _, sess := range sessions {
		if err := r.deliverToSession(sess, stanza); err != nil {
			res.addError(err)
			continue
		}
		res.Delivered++
	}
}

func (r *InternalRelay) deliverToComponent(receiver structs.Address, stanza *structs.Stanza, res *Result) {
	if r.components == nil || !receiver.IsSubdomainOf(r.serverDomain) {
		res.addError(fmt.Errorf("%w: unsupported domain %s", ErrServiceUnavailable, receiver.Domain))
		return
	}
	p, ok := r.components.Lookup(receiver)
	if !ok {
		res.addError(fmt.Errorf("%w: no component for %s", ErrServiceUnavailable, receiver.Domain))
		return
	}
	if err := p.ProcessStanza(stanza); err != nil {
		res.addError(&TargetError{SessionID: receiver.Domain, Kind: ErrSessionProcessing, Cause: err})
		return
	}
	res.Delivered++
}

// selectSessions picks the receiving sessions according to the stanza kind.
// drop is set for stanzas which are discarded without error.
func (r *InternalRelay) selectSessions(receiver structs.Address, stanza *structs.Stanza) (sessions []registry.Session, drop bool, err error) {
	if !stanza.IsCore() {
		return nil, false, fmt.Errorf("%w: cannot deliver %q stanza", ErrServiceUnavailable, stanza.Name)
	}

	if receiver.HasResource() {
		sessions = r.sessions.HighestPrioSessions(receiver, registry.DefaultPriorityThreshold)
		if len(sessions) == 0 && stanza.IsMessage() {
			switch stanza.MessageType() {
			case structs.MessageChat, structs.MessageNormal, structs.MessageHeadline:
				sessions = r.sessions.HighestPrioSessions(receiver.Bare(), registry.DefaultPriorityThreshold)
			}
		}
		return sessions, false, nil
	}

	switch {
	case stanza.IsPresence():
		return r.sessions.AllSessions(receiver), false, nil

	case stanza.IsMessage():
		switch stanza.MessageType() {
		case structs.MessageError:
			return nil, true, nil
		case structs.MessageGroupchat:
			return nil, false, fmt.Errorf("%w: groupchat to %s", ErrServiceUnavailable, receiver)
		case structs.MessageHeadline:
			return r.sessions.AllSessions(receiver), false, nil
		default:
			if r.highestOnly.Load() {
				return r.sessions.HighestPrioSessions(receiver, registry.DefaultPriorityThreshold), false, nil
			}
			return r.sessions.SessionsWithPriority(receiver, registry.DefaultPriorityThreshold), false, nil
		}

	default:
		return r.sessions.HighestPrioSessions(receiver, registry.DefaultPriorityThreshold), false, nil
	}
}

func (r *InternalRelay) deliverToSession(sess registry.Session, stanza *structs.Stanza) (err error) {
	if sess.State() != structs.SessionAuthenticated {
		return &TargetError{SessionID: sess.ID(), Kind: ErrSessionNotAuthenticated}
	}
	defer func() {
		if p := recover(); p != nil {
			err = &TargetError{SessionID: sess.ID(), Kind: ErrSessionProcessing, Cause: fmt.Errorf("panic: %v", p)}
		}
	}()
	if err := r.processor.ProcessStanza(sess, stanza); err != nil {
		r.logger.Debug("session failed processing stanza", "session", sess.ID(), "stanza", stanza, "error", err)
		return &TargetError{SessionID: sess.ID(), Kind: ErrSessionProcessing, Cause: err}
	}
	return nil
}

// applyStrategy sets the outcome of res and runs the failure strategy if no
// target accepted the stanza but errors occurred.
func applyStrategy(logger hclog.Logger, t *task, res *Result) {
	switch {
	case res.Success():
		res.Outcome = OutcomeDelivered
		return
	case len(res.Errors) == 0 || t.strategy == nil:
		res.Outcome = OutcomeDropped
		return
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error("failure strategy panicked", "receiver", t.receiver, "panic", p)
			res.Outcome = OutcomeFailed
			res.StrategyErr = fmt.Errorf("failure strategy panicked: %v", p)
		}
	}()
	outcome, err := t.strategy.Process(t.stanza, res.Errors)
	if err != nil {
		logger.Warn("failure strategy failed", "receiver", t.receiver, "error", err)
		res.Outcome = OutcomeFailed
		res.StrategyErr = err
		return
	}
	res.Outcome = outcome
}

func record(relay string, res *Result) {
	labels := []metrics.Label{
		{Name: "relay", Value: relay},
		{Name: "outcome", Value: res.Outcome.String()},
	}
	metrics.IncrCounterWithLabels([]string{"delivery", "result"}, 1, labels)
}
