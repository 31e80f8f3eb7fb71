// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package delivery

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"

	"github.com/xmppd/xmppd/agent/federation"
	"github.com/xmppd/xmppd/agent/structs"
	"github.com/xmppd/xmppd/lib/workerpool"
	"github.com/xmppd/xmppd/logging"
)

type ExternalRelayConfig struct {
	Pool workerpool.Config
}

// ExternalRelay delivers stanzas to remote servers through the connectors
// of a federation.ConnectorRegistry.
type ExternalRelay struct {
	connectors federation.ConnectorRegistry
	logger     hclog.Logger

	pool       *workerpool.Pool
	seq        uint64
	throughput throughput
}

// NewExternalRelay starts an external relay.
func NewExternalRelay(cfg ExternalRelayConfig, connectors federation.ConnectorRegistry, logger hclog.Logger) (*ExternalRelay, error) {
	if connectors == nil {
		return nil, fmt.Errorf("%w: external relay requires a connector registry", ErrConfiguration)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named(logging.Delivery).Named(logging.External)

	if cfg.Pool.Name == "" {
		cfg.Pool.Name = "external"
	}
	pool, err := workerpool.New(cfg.Pool, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return &ExternalRelay{
		connectors: connectors,
		logger:     logger,
		pool:       pool,
	}, nil
}

// Relay queues the stanza for delivery to the server of receiver's domain.
func (r *ExternalRelay) Relay(receiver structs.Address, stanza *structs.Stanza, strategy FailureStrategy) (<-chan *Result, error) {
	if !r.IsRelaying() {
		return nil, fmt.Errorf("%w: external relay is not relaying", ErrServiceUnavailable)
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
	metrics.IncrCounter([]string{"delivery", "external", "queued"}, 1)
	return t.resultCh, nil
}

func (r *ExternalRelay) IsRelaying() bool {
	return !r.pool.IsShutdown()
}

func (r *ExternalRelay) Stop() {
	if r.IsRelaying() {
		r.logger.Info("stopping external relay")
	}
	r.pool.Shutdown()
}

func (r *ExternalRelay) WriteStats(w io.Writer) error {
	return writePoolStats(w, "external relay", r.pool.Stats(), &r.throughput)
}

func (r *ExternalRelay) run(t *task) {
	defer metrics.MeasureSince([]string{"delivery", "external", "relay"}, time.Now())

	res := t.newResult()
	r.deliver(t, res)
	applyStrategy(r.logger, t, res)
	record("external", res)
	t.finish(res)
}

func (r *ExternalRelay) deliver(t *task, res *Result) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("delivery panicked", "receiver", t.receiver, "panic", p)
			res.addError(fmt.Errorf("delivery to %s aborted: %v", t.receiver, p))
		}
	}()

	// only message, presence and iq are routed between servers
	if !t.stanza.IsCore() {
		r.logger.Debug("ignoring stanza for remote server", "stanza", t.stanza.Name, "receiver", t.receiver)
		return
	}

	domain := t.receiver.Domain
	c, err := r.connectors.Connect(domain)
	if err != nil {
		r.logger.Warn("cannot reach remote server", "domain", domain, "error", err)
		res.addError(&TargetError{SessionID: domain, Kind: ErrRecipientUnavailable, Cause: err})
		return
	}
	if err := c.Write(t.stanza); err != nil {
		r.logger.Warn("dropping failed connector", "domain", domain, "error", err)
		r.connectors.Disconnect(domain)
		res.addError(&TargetError{SessionID: domain, Kind: ErrSessionProcessing, Cause: err})
		return
	}
	res.Delivered++
}
