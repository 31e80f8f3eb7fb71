// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"

	"github.com/xmppd/xmppd/agent/accounts"
	"github.com/xmppd/xmppd/agent/components"
	"github.com/xmppd/xmppd/agent/config"
	"github.com/xmppd/xmppd/agent/delivery"
	"github.com/xmppd/xmppd/agent/federation"
	"github.com/xmppd/xmppd/agent/offline"
	"github.com/xmppd/xmppd/agent/registry"
	"github.com/xmppd/xmppd/agent/structs"
	"github.com/xmppd/xmppd/logging"
)

// BaseDeps are dependencies constructed before the agent and handed to New.
type BaseDeps struct {
	Logger        hclog.InterceptLogger
	RuntimeConfig *config.RuntimeConfig

	// Processor hands stanzas to sessions. Defaults to
	// delivery.DirectProcessor.
	Processor delivery.StanzaProcessor

	// Dialer opens connections to remote servers. It is required when
	// federation is enabled.
	Dialer federation.Dialer
}

// Agent owns the resource registry and the delivery subsystem of one
// server domain.
type Agent struct {
	config *config.RuntimeConfig
	logger hclog.InterceptLogger

	registry   *registry.Registry
	users      *accounts.MemoryStore
	accounts   *accounts.CachingVerifier
	components *components.Registry

	// offline and federation are nil when disabled.
	offline    *offline.Store
	federation *federation.Registry

	internal *delivery.InternalRelay
	broker   *delivery.Broker
	strategy delivery.FailureStrategy

	reloadLock      sync.Mutex
	configReloaders []ConfigReloader

	shutdownLock sync.Mutex
	shutdown     bool
	shutdownCh   chan struct{}
}

// New builds an agent from its runtime configuration. Everything started
// here is released by Shutdown, also when New fails half way.
func New(bd BaseDeps) (a *Agent, err error) {
	if bd.RuntimeConfig == nil {
		return nil, errors.New("runtime config is required")
	}
	if bd.Logger == nil {
		bd.Logger = hclog.NewInterceptLogger(&hclog.LoggerOptions{Output: io.Discard})
	}
	if bd.Processor == nil {
		bd.Processor = delivery.DirectProcessor{}
	}
	rc := bd.RuntimeConfig
	if rc.FederationEnabled && bd.Dialer == nil {
		return nil, fmt.Errorf("%w: federation is enabled but no dialer is configured", delivery.ErrConfiguration)
	}

	a = &Agent{
		config:     rc,
		logger:     bd.Logger,
		shutdownCh: make(chan struct{}),
	}
	defer func() {
		if err != nil {
			a.Shutdown()
			a = nil
		}
	}()
	logger := bd.Logger.Named(logging.Agent)

	a.registry, err = registry.New(bd.Logger)
	if err != nil {
		return a, fmt.Errorf("failed to create resource registry: %w", err)
	}

	a.users = accounts.NewMemoryStore(rc.AccountUsers...)
	a.accounts, err = accounts.NewCachingVerifier(a.users, rc.AccountCacheSize, bd.Logger)
	if err != nil {
		return a, fmt.Errorf("failed to create account cache: %w", err)
	}

	a.components = components.NewRegistry(rc.ServerName, bd.Logger)

	if rc.OfflineEnabled {
		a.offline, err = offline.Open(rc.OfflinePath, bd.Logger)
		if err != nil {
			return a, err
		}
	}

	a.internal, err = delivery.NewInternalRelay(delivery.InternalRelayConfig{
		ServerDomain:        rc.ServerName,
		Pool:                rc.InternalPool,
		HighestPriorityOnly: rc.HighestPriorityOnly,
	}, delivery.InternalRelayDeps{
		Sessions:   a.registry,
		Accounts:   a.accounts,
		Processor:  bd.Processor,
		Components: a.components,
		Logger:     bd.Logger,
	})
	if err != nil {
		return a, err
	}

	var external delivery.ManagedRelay
	if rc.FederationEnabled {
		a.federation, err = federation.NewRegistry(federation.Config{
			Resolvers:      rc.FederationResolvers,
			DialTimeout:    rc.FederationDialTimeout,
			ResolveTimeout: rc.FederationResolveTimeout,
			ConnectorTTL:   rc.FederationConnectorTTL,
		}, bd.Dialer, bd.Logger)
		if err != nil {
			// the internal relay is not owned by a broker yet
			a.internal.Stop()
			return a, fmt.Errorf("%w: %v", delivery.ErrConfiguration, err)
		}
		external, err = delivery.NewExternalRelay(delivery.ExternalRelayConfig{Pool: rc.ExternalPool}, a.federation, bd.Logger)
		if err != nil {
			a.internal.Stop()
			return a, err
		}
	}

	a.broker, err = delivery.NewBroker(delivery.BrokerConfig{
		ServerDomain:      rc.ServerName,
		FederationEnabled: rc.FederationEnabled,
	}, a.internal, external, bd.Logger)
	if err != nil {
		a.internal.Stop()
		if external != nil {
			external.Stop()
		}
		return a, err
	}

	bounce, err := delivery.NewBounce(a.broker, delivery.BounceConfig{
		Limit: rate.Limit(rc.BounceRate),
		Burst: rc.BounceBurst,
	}, bd.Logger)
	if err != nil {
		return a, err
	}
	a.strategy = bounce
	if a.offline != nil {
		a.strategy = offlineOrBounce{
			serverDomain: rc.ServerName,
			offline:      delivery.OfflineStore{Receiver: a.offline},
			bounce:       bounce,
		}
	}

	a.configReloaders = []ConfigReloader{
		reloadLogLevel(bd.Logger),
		func(cfg config.ReloadableConfig) error {
			a.internal.SetHighestPriorityOnly(cfg.HighestPriorityOnly)
			return nil
		},
		func(cfg config.ReloadableConfig) error {
			a.users.SetUsers(cfg.AccountUsers)
			a.accounts.Purge()
			return nil
		},
	}

	logger.Info("agent started",
		"server_name", rc.ServerName,
		"federation", rc.FederationEnabled,
		"offline", rc.OfflineEnabled,
	)
	return a, nil
}

// Registry returns the resource registry sessions bind to.
func (a *Agent) Registry() *registry.Registry {
	return a.registry
}

// Components returns the registry of sub-domain components.
func (a *Agent) Components() *components.Registry {
	return a.components
}

// Relay routes stanza to receiver. Undeliverable stanzas are stored for
// later if offline storage is enabled and bounced otherwise.
func (a *Agent) Relay(receiver structs.Address, stanza *structs.Stanza) (<-chan *delivery.Result, error) {
	return a.broker.Relay(receiver, stanza, a.strategy)
}

// RelayWithStrategy routes stanza to receiver and applies strategy if no
// target received it.
func (a *Agent) RelayWithStrategy(receiver structs.Address, stanza *structs.Stanza, strategy delivery.FailureStrategy) (<-chan *delivery.Result, error) {
	return a.broker.Relay(receiver, stanza, strategy)
}

// RetrieveOffline returns and removes the messages stored for the bare
// address of addr.
func (a *Agent) RetrieveOffline(addr structs.Address) ([]*structs.Stanza, error) {
	if a.offline == nil {
		return nil, fmt.Errorf("%w: offline storage is disabled", delivery.ErrConfiguration)
	}
	return a.offline.Retrieve(addr)
}

// WriteRelayStats dumps the worker pool statistics of all relays.
func (a *Agent) WriteRelayStats(w io.Writer) error {
	return a.broker.WriteStats(w)
}

// ShutdownCh is closed once the agent has been shut down.
func (a *Agent) ShutdownCh() <-chan struct{} {
	return a.shutdownCh
}

// Shutdown stops the relays and releases every resource of the agent. It is
// safe to call more than once.
func (a *Agent) Shutdown() error {
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()

	if a.shutdown {
		return nil
	}
	a.logger.Named(logging.Agent).Info("requesting shutdown")

	var merr error
	if a.broker != nil {
		a.broker.Stop()
	}
	if a.federation != nil {
		if err := a.federation.Close(); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("failed closing remote connectors: %w", err))
		}
	}
	if a.offline != nil {
		if err := a.offline.Close(); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("failed closing offline store: %w", err))
		}
	}

	a.shutdown = true
	close(a.shutdownCh)
	a.logger.Named(logging.Agent).Info("shutdown complete")
	return merr
}
