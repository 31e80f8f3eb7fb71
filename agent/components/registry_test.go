// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package components

import (
	"testing"

	"github.com/hashicorp/consul/sdk/testutil"
	"github.com/stretchr/testify/require"

	"github.com/xmppd/xmppd/agent/structs"
)

func TestRegistry_RegisterLookup(t *testing.T) {
	r := NewRegistry("example.org", testutil.Logger(t))

	var got []*structs.Stanza
	muc := ProcessorFunc(func(s *structs.Stanza) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, r.Register("conference", muc))
	require.NoError(t, r.Register("pubsub.example.org", ProcessorFunc(func(*structs.Stanza) error { return nil })))

	require.ErrorIs(t, r.Register("conference.example.org", muc), ErrAlreadyRegistered)
	require.ErrorContains(t, r.Register("conference.other.net", muc), "not a sub-domain")

	require.ElementsMatch(t, []string{"conference.example.org", "pubsub.example.org"}, r.Domains())

	p, ok := r.Lookup(structs.MustParseAddress("room@conference.example.org/nick"))
	require.True(t, ok)
	stanza := structs.NewPresence(structs.Address{}, structs.MustParseAddress("room@conference.example.org/nick"), "", "")
	require.NoError(t, p.ProcessStanza(stanza))
	require.Equal(t, []*structs.Stanza{stanza}, got)

	_, ok = r.Lookup(structs.MustParseAddress("deep.conference.example.org"))
	require.True(t, ok)

	for _, addr := range []string{
		"user@example.org",
		"xconference.example.org",
		"unknown.example.org",
		"conference.example.net",
	} {
		_, ok := r.Lookup(structs.MustParseAddress(addr))
		require.False(t, ok, addr)
	}

	r.Unregister("conference")
	_, ok = r.Lookup(structs.MustParseAddress("room@conference.example.org"))
	require.False(t, ok)
}
