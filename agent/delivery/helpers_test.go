// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package delivery

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/consul/sdk/testutil"
	"github.com/stretchr/testify/require"

	"github.com/xmppd/xmppd/agent/accounts"
	"github.com/xmppd/xmppd/agent/registry"
	"github.com/xmppd/xmppd/agent/structs"
	"github.com/xmppd/xmppd/lib/workerpool"
)

const testDomain = "example.org"

type testSession struct {
	id    string
	addr  structs.Address
	state structs.SessionState

	lock     sync.Mutex
	received []*structs.Stanza
	err      error
}

func (s *testSession) ID() string                         { return s.id }
func (s *testSession) InitiatingAddress() structs.Address { return s.addr }
func (s *testSession) State() structs.SessionState        { return s.state }

func (s *testSession) Deliver(stanza *structs.Stanza) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.err != nil {
		return s.err
	}
	s.received = append(s.received, stanza)
	return nil
}

func (s *testSession) Received() []*structs.Stanza {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]*structs.Stanza(nil), s.received...)
}

type testEnv struct {
	registry *registry.Registry
	accounts *accounts.MemoryStore
	relay    *InternalRelay
}

type envOption func(*InternalRelayConfig, *InternalRelayDeps)

func withPool(core, max int) envOption {
	return func(cfg *InternalRelayConfig, _ *InternalRelayDeps) {
		cfg.Pool = workerpool.Config{CoreWorkers: core, MaxWorkers: max}
	}
}

func withHighestOnly() envOption {
	return func(cfg *InternalRelayConfig, _ *InternalRelayDeps) {
		cfg.HighestPriorityOnly = true
	}
}

func withProcessor(p StanzaProcessor) envOption {
	return func(_ *InternalRelayConfig, deps *InternalRelayDeps) {
		deps.Processor = p
	}
}

func withComponents(c ComponentLookup) envOption {
	return func(_ *InternalRelayConfig, deps *InternalRelayDeps) {
		deps.Components = c
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	logger := testutil.Logger(t)

	reg, err := registry.New(logger)
	require.NoError(t, err)
	store := accounts.NewMemoryStore()

	cfg := InternalRelayConfig{
		ServerDomain: testDomain,
		Pool:         workerpool.Config{CoreWorkers: 2, MaxWorkers: 4},
	}
	deps := InternalRelayDeps{
		Sessions:  reg,
		Accounts:  store,
		Processor: DirectProcessor{},
		Logger:    logger,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	relay, err := NewInternalRelay(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(relay.Stop)

	return &testEnv{registry: reg, accounts: store, relay: relay}
}

// connect binds a new authenticated session for addr with the given
// priority and returns it along with its full address.
func (e *testEnv) connect(t *testing.T, id, addr string, priority int) (*testSession, structs.Address) {
	t.Helper()
	bare := structs.MustParseAddress(addr)
	e.accounts.AddUser(bare)

	sess := &testSession{id: id, addr: bare, state: structs.SessionAuthenticated}
	token, err := e.registry.BindSession(sess)
	require.NoError(t, err)
	require.NoError(t, e.registry.SetResourcePriority(token, priority))
	return sess, bare.WithResource(token)
}

func waitResult(t *testing.T, ch <-chan *Result) *Result {
	t.Helper()
	select {
	case res, ok := <-ch:
		require.True(t, ok, "result channel closed without result")
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for delivery result")
		return nil
	}
}

func relayAndWait(t *testing.T, r Relay, to structs.Address, stanza *structs.Stanza, strategy FailureStrategy) *Result {
	t.Helper()
	ch, err := r.Relay(to, stanza, strategy)
	require.NoError(t, err)
	return waitResult(t, ch)
}

func ids(sessions ...*testSession) []string {
	var out []string
	for _, s := range sessions {
		if len(s.Received()) > 0 {
			out = append(out, s.id)
		}
	}
	return out
}

// countingStrategy records its invocations.
type countingStrategy struct {
	lock    sync.Mutex
	calls   int
	errs    [][]error
	outcome Outcome
	err     error
	panic   bool
}

func (s *countingStrategy) Process(_ *structs.Stanza, errs []error) (Outcome, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.calls++
	s.errs = append(s.errs, errs)
	if s.panic {
		panic("strategy exploded")
	}
	return s.outcome, s.err
}

func (s *countingStrategy) Calls() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.calls
}

var errBoom = errors.New("boom")
