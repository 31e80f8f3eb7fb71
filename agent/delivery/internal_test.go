// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package delivery

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xmppd/xmppd/agent/components"
	"github.com/xmppd/xmppd/agent/registry"
	"github.com/xmppd/xmppd/agent/structs"
)

var romeo = structs.MustParseAddress("romeo@example.net/orchard")

func chat(to structs.Address, id string) *structs.Stanza {
	return structs.NewMessage(romeo, to, structs.MessageChat, id, []byte("<body>hi</body>"))
}

func TestInternalRelay_SingleResourceDefaultPriority(t *testing.T) {
	env := newTestEnv(t)
	sess, _ := env.connect(t, "only", "juliet@example.org", 0)
	bare := structs.MustParseAddress("juliet@example.org")

	strategy := &countingStrategy{}
	res := relayAndWait(t, env.relay, bare, chat(bare, "m1"), strategy)

	require.True(t, res.Success())
	require.Equal(t, 1, res.Delivered)
	require.Equal(t, OutcomeDelivered, res.Outcome)
	require.NoError(t, res.Err())
	require.Equal(t, 0, strategy.Calls())
	require.Len(t, sess.Received(), 1)
	require.Equal(t, "m1", sess.Received()[0].ID)
}

func TestInternalRelay_PrioritySelection(t *testing.T) {
	setup := func(t *testing.T, opts ...envOption) (*testEnv, []*testSession) {
		env := newTestEnv(t, opts...)
		var sessions []*testSession
		for i, prio := range []int{3, 0, 3, -1} {
			s, _ := env.connect(t, fmt.Sprintf("s%d", i), "juliet@example.org", prio)
			sessions = append(sessions, s)
		}
		return env, sessions
	}
	bare := structs.MustParseAddress("juliet@example.org")

	t.Run("highest priority only", func(t *testing.T) {
		env, s := setup(t, withHighestOnly())
		res := relayAndWait(t, env.relay, bare, chat(bare, "m1"), Ignore{})
		require.Equal(t, 2, res.Delivered)
		require.Equal(t, []string{"s0", "s2"}, ids(s...))
	})

	t.Run("all non-negative", func(t *testing.T) {
		env, s := setup(t)
		res := relayAndWait(t, env.relay, bare, chat(bare, "m1"), Ignore{})
		require.Equal(t, 3, res.Delivered)
		require.Equal(t, []string{"s0", "s1", "s2"}, ids(s...))
	})

	t.Run("mode switch at runtime", func(t *testing.T) {
		env, s := setup(t)
		env.relay.SetHighestPriorityOnly(true)
		require.True(t, env.relay.HighestPriorityOnly())
		res := relayAndWait(t, env.relay, bare, chat(bare, "m1"), Ignore{})
		require.Equal(t, 2, res.Delivered)
		require.Equal(t, []string{"s0", "s2"}, ids(s...))
	})

	t.Run("presence goes to everybody", func(t *testing.T) {
		env, s := setup(t)
		p := structs.NewPresence(romeo, bare, structs.PresenceAvailable, "")
		res := relayAndWait(t, env.relay, bare, p, Ignore{})
		require.Equal(t, 4, res.Delivered)
		require.Equal(t, []string{"s0", "s1", "s2", "s3"}, ids(s...))
	})

	t.Run("headline goes to everybody", func(t *testing.T) {
		env, s := setup(t, withHighestOnly())
		m := structs.NewMessage(romeo, bare, structs.MessageHeadline, "h1", nil)
		res := relayAndWait(t, env.relay, bare, m, Ignore{})
		require.Equal(t, 4, res.Delivered)
		require.Len(t, ids(s...), 4)
	})

	t.Run("iq goes to the highest priority", func(t *testing.T) {
		env, s := setup(t)
		iq := structs.NewIQ(romeo, bare, structs.IQGet, "q1", nil)
		res := relayAndWait(t, env.relay, bare, iq, Ignore{})
		require.Equal(t, 2, res.Delivered)
		require.Equal(t, []string{"s0", "s2"}, ids(s...))
	})
}

func TestInternalRelay_FullAddress(t *testing.T) {
	env := newTestEnv(t)
	high, _ := env.connect(t, "high", "juliet@example.org", 5)
	neg, negAddr := env.connect(t, "neg", "juliet@example.org", -1)

	t.Run("explicit resource wins over priority", func(t *testing.T) {
		res := relayAndWait(t, env.relay, negAddr, chat(negAddr, "m1"), Ignore{})
		require.Equal(t, 1, res.Delivered)
		require.Len(t, neg.Received(), 1)
		require.Empty(t, high.Received())
	})

	gone := structs.MustParseAddress("juliet@example.org/gone")

	t.Run("chat falls back to bare address", func(t *testing.T) {
		res := relayAndWait(t, env.relay, gone, chat(gone, "m2"), Ignore{})
		require.Equal(t, 1, res.Delivered)
		require.Len(t, high.Received(), 1)
	})

	t.Run("iq does not fall back", func(t *testing.T) {
		strategy := &countingStrategy{outcome: OutcomeBounced}
		iq := structs.NewIQ(romeo, gone, structs.IQGet, "q1", nil)
		res := relayAndWait(t, env.relay, gone, iq, strategy)
		require.False(t, res.Success())
		require.ErrorIs(t, res.Err(), ErrRecipientUnavailable)
		require.Equal(t, OutcomeBounced, res.Outcome)
		require.Equal(t, 1, strategy.Calls())
	})
}

func TestInternalRelay_UnknownAccount(t *testing.T) {
	env := newTestEnv(t)
	nobody := structs.MustParseAddress("nobody@example.org")

	strategy := &countingStrategy{outcome: OutcomeBounced}
	res := relayAndWait(t, env.relay, nobody, chat(nobody, "m1"), strategy)

	require.False(t, res.Success())
	require.Len(t, res.Errors, 1)
	require.ErrorIs(t, res.Errors[0], ErrUnknownAccount)
	require.Equal(t, 1, strategy.Calls())
	require.Equal(t, OutcomeBounced, res.Outcome)
}

func TestInternalRelay_ExistingAccountWithoutResources(t *testing.T) {
	env := newTestEnv(t)
	bare := structs.MustParseAddress("juliet@example.org")
	env.accounts.AddUser(bare)

	strategy := &countingStrategy{outcome: OutcomeStoredOffline}
	res := relayAndWait(t, env.relay, bare, chat(bare, "m1"), strategy)

	require.False(t, res.Success())
	require.ErrorIs(t, res.Err(), ErrRecipientUnavailable)
	require.Equal(t, OutcomeStoredOffline, res.Outcome)
	require.Equal(t, 1, strategy.Calls())
}

func TestInternalRelay_NegativePrioritiesOnly(t *testing.T) {
	env := newTestEnv(t)
	sess, _ := env.connect(t, "neg", "juliet@example.org", -1)
	bare := structs.MustParseAddress("juliet@example.org")

	res := relayAndWait(t, env.relay, bare, chat(bare, "m1"), Ignore{})
	require.ErrorIs(t, res.Err(), ErrRecipientUnavailable)
	require.Equal(t, OutcomeDropped, res.Outcome)
	require.Empty(t, sess.Received())
}

func TestInternalRelay_MessageTypes(t *testing.T) {
	env := newTestEnv(t)
	sess, _ := env.connect(t, "s", "juliet@example.org", 0)
	bare := structs.MustParseAddress("juliet@example.org")

	t.Run("error message is dropped silently", func(t *testing.T) {
		strategy := &countingStrategy{}
		m := structs.NewMessage(romeo, bare, structs.MessageError, "e1", nil)
		res := relayAndWait(t, env.relay, bare, m, strategy)
		require.Equal(t, OutcomeDropped, res.Outcome)
		require.NoError(t, res.Err())
		require.Equal(t, 0, strategy.Calls())
		require.Empty(t, sess.Received())
	})

	t.Run("groupchat is not served", func(t *testing.T) {
		strategy := &countingStrategy{outcome: OutcomeBounced}
		m := structs.NewMessage(romeo, bare, structs.MessageGroupchat, "g1", nil)
		res := relayAndWait(t, env.relay, bare, m, strategy)
		require.ErrorIs(t, res.Err(), ErrServiceUnavailable)
		require.Equal(t, 1, strategy.Calls())
		require.Empty(t, sess.Received())
	})

	t.Run("non core stanza is not served", func(t *testing.T) {
		res := relayAndWait(t, env.relay, bare, &structs.Stanza{Name: "stream:features", To: bare}, Ignore{})
		require.ErrorIs(t, res.Err(), ErrServiceUnavailable)
	})
}

func TestInternalRelay_TargetFailures(t *testing.T) {
	env := newTestEnv(t)
	ok, _ := env.connect(t, "ok", "juliet@example.org", 0)
	failing, _ := env.connect(t, "failing", "juliet@example.org", 0)
	failing.err = errBoom
	unauth, _ := env.connect(t, "unauth", "juliet@example.org", 0)
	unauth.state = structs.SessionEncrypted
	bare := structs.MustParseAddress("juliet@example.org")

	strategy := &countingStrategy{}
	res := relayAndWait(t, env.relay, bare, chat(bare, "m1"), strategy)

	// one success means no strategy even with partial failures
	require.True(t, res.Success())
	require.Equal(t, 1, res.Delivered)
	require.Equal(t, 0, strategy.Calls())
	require.Len(t, res.Errors, 2)
	require.Len(t, ok.Received(), 1)

	var te *TargetError
	require.ErrorAs(t, res.Errors[0], &te)
	require.Equal(t, "failing", te.SessionID)
	require.ErrorIs(t, res.Errors[0], ErrSessionProcessing)
	require.ErrorIs(t, res.Errors[0], errBoom)
	require.ErrorAs(t, res.Errors[1], &te)
	require.Equal(t, "unauth", te.SessionID)
	require.ErrorIs(t, res.Errors[1], ErrSessionNotAuthenticated)
}

func TestInternalRelay_TotalFailureRunsStrategyOnce(t *testing.T) {
	env := newTestEnv(t, withProcessor(ProcessorFunc(func(registry.Session, *structs.Stanza) error {
		return errBoom
	})))
	env.connect(t, "a", "juliet@example.org", 0)
	env.connect(t, "b", "juliet@example.org", 0)
	bare := structs.MustParseAddress("juliet@example.org")

	strategy := &countingStrategy{outcome: OutcomeBounced}
	res := relayAndWait(t, env.relay, bare, chat(bare, "m1"), strategy)

	require.False(t, res.Success())
	require.Equal(t, 1, strategy.Calls())
	require.Len(t, strategy.errs[0], 2)
	require.Equal(t, OutcomeBounced, res.Outcome)
}

func TestInternalRelay_ProcessorPanic(t *testing.T) {
	env := newTestEnv(t, withProcessor(ProcessorFunc(func(registry.Session, *structs.Stanza) error {
		panic("pipeline exploded")
	})))
	env.connect(t, "a", "juliet@example.org", 0)
	bare := structs.MustParseAddress("juliet@example.org")

	res := relayAndWait(t, env.relay, bare, chat(bare, "m1"), Ignore{})
	require.ErrorIs(t, res.Err(), ErrSessionProcessing)
	require.ErrorContains(t, res.Err(), "pipeline exploded")
}

func TestInternalRelay_StrategyFailure(t *testing.T) {
	env := newTestEnv(t)
	nobody := structs.MustParseAddress("nobody@example.org")

	t.Run("error", func(t *testing.T) {
		res := relayAndWait(t, env.relay, nobody, chat(nobody, "m1"), &countingStrategy{err: errBoom})
		require.Equal(t, OutcomeFailed, res.Outcome)
		require.ErrorIs(t, res.StrategyErr, errBoom)
		require.ErrorIs(t, res.Err(), errBoom)
		require.ErrorIs(t, res.Err(), ErrUnknownAccount)
	})

	t.Run("panic", func(t *testing.T) {
		res := relayAndWait(t, env.relay, nobody, chat(nobody, "m1"), &countingStrategy{panic: true})
		require.Equal(t, OutcomeFailed, res.Outcome)
		require.ErrorContains(t, res.StrategyErr, "strategy exploded")
	})

	t.Run("no strategy", func(t *testing.T) {
		res := relayAndWait(t, env.relay, nobody, chat(nobody, "m1"), nil)
		require.Equal(t, OutcomeDropped, res.Outcome)
	})
}

func TestInternalRelay_Components(t *testing.T) {
	comps := components.NewRegistry(testDomain, nil)
	var (
		lock sync.Mutex
		got  []*structs.Stanza
	)
	require.NoError(t, comps.Register("conference", components.ProcessorFunc(func(s *structs.Stanza) error {
		lock.Lock()
		defer lock.Unlock()
		got = append(got, s)
		return nil
	})))
	require.NoError(t, comps.Register("broken", components.ProcessorFunc(func(*structs.Stanza) error {
		return errBoom
	})))
	env := newTestEnv(t, withComponents(comps))

	room := structs.MustParseAddress("room@conference.example.org/nick")
	res := relayAndWait(t, env.relay, room, chat(room, "m1"), Ignore{})
	require.True(t, res.Success())
	require.Len(t, got, 1)

	broken := structs.MustParseAddress("broken.example.org")
	res = relayAndWait(t, env.relay, broken, chat(broken, "m2"), Ignore{})
	require.ErrorIs(t, res.Err(), ErrSessionProcessing)

	unknown := structs.MustParseAddress("pubsub.example.org")
	res = relayAndWait(t, env.relay, unknown, chat(unknown, "m3"), Ignore{})
	require.ErrorIs(t, res.Err(), ErrServiceUnavailable)

	foreign := structs.MustParseAddress("user@example.net")
	res = relayAndWait(t, env.relay, foreign, chat(foreign, "m4"), Ignore{})
	require.ErrorIs(t, res.Err(), ErrServiceUnavailable)
}

func TestInternalRelay_SingleWorkerKeepsOrder(t *testing.T) {
	env := newTestEnv(t, withPool(1, 1))
	sess, _ := env.connect(t, "s", "juliet@example.org", 0)
	bare := structs.MustParseAddress("juliet@example.org")

	const n = 1000
	results := make([]<-chan *Result, 0, n)
	for i := 0; i < n; i++ {
		ch, err := env.relay.Relay(bare, chat(bare, fmt.Sprintf("m%d", i)), Ignore{})
		require.NoError(t, err)
		results = append(results, ch)
	}
	for i, ch := range results {
		res := waitResult(t, ch)
		require.True(t, res.Success())
		require.Equal(t, uint64(i+1), res.Seq)
	}

	received := sess.Received()
	require.Len(t, received, n)
	for i, s := range received {
		require.Equal(t, fmt.Sprintf("m%d", i), s.ID)
	}
}

func TestInternalRelay_ManyWorkersDeliverEverything(t *testing.T) {
	env := newTestEnv(t, withPool(10, 10))
	sess, _ := env.connect(t, "s", "juliet@example.org", 0)
	bare := structs.MustParseAddress("juliet@example.org")

	const n = 1000
	results := make([]<-chan *Result, 0, n)
	for i := 0; i < n; i++ {
		ch, err := env.relay.Relay(bare, chat(bare, fmt.Sprintf("m%d", i)), Ignore{})
		require.NoError(t, err)
		results = append(results, ch)
	}
	for _, ch := range results {
		require.True(t, waitResult(t, ch).Success())
	}

	received := sess.Received()
	require.Len(t, received, n)

	inOrder := true
	for i, s := range received {
		if s.ID != fmt.Sprintf("m%d", i) {
			inOrder = false
			break
		}
	}
	t.Logf("delivered in submission order: %v", inOrder)
}

func TestInternalRelay_Stop(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t, "s", "juliet@example.org", 0)
	bare := structs.MustParseAddress("juliet@example.org")

	require.True(t, env.relay.IsRelaying())
	env.relay.Stop()
	require.False(t, env.relay.IsRelaying())
	require.True(t, env.relay.pool.IsShutdown())

	ch, err := env.relay.Relay(bare, chat(bare, "m1"), Ignore{})
	require.ErrorIs(t, err, ErrServiceUnavailable)
	require.Nil(t, ch)

	// stopping again is a no-op
	env.relay.Stop()
	require.False(t, env.relay.IsRelaying())
}

func TestNewInternalRelay_Validation(t *testing.T) {
	env := newTestEnv(t)

	_, err := NewInternalRelay(InternalRelayConfig{}, InternalRelayDeps{})
	require.ErrorIs(t, err, ErrConfiguration)

	_, err = NewInternalRelay(InternalRelayConfig{ServerDomain: testDomain}, InternalRelayDeps{Sessions: env.registry})
	require.ErrorIs(t, err, ErrConfiguration)
}
