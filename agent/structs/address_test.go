// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package structs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	cases := map[string]struct {
		in      string
		want    Address
		wantErr error
	}{
		"full": {
			in:   "juliet@Example.COM/balcony",
			want: Address{Local: "juliet", Domain: "example.com", Resource: "balcony"},
		},
		"bare": {
			in:   "romeo@example.net",
			want: Address{Local: "romeo", Domain: "example.net"},
		},
		"domain only": {
			in:   "example.org",
			want: Address{Domain: "example.org"},
		},
		"domain with resource": {
			in:   "example.org/admin",
			want: Address{Domain: "example.org", Resource: "admin"},
		},
		"resource may contain slash and at": {
			in:   "a@b/c/d@e",
			want: Address{Local: "a", Domain: "b", Resource: "c/d@e"},
		},
		"empty":             {in: "", wantErr: ErrEmptyAddress},
		"empty local":       {in: "@example.org", wantErr: ErrInvalidAddress},
		"empty domain":      {in: "user@", wantErr: ErrInvalidAddress},
		"empty resource":    {in: "user@example.org/", wantErr: ErrInvalidAddress},
		"double at":         {in: "a@b@c", wantErr: ErrInvalidAddress},
		"space in domain":   {in: "a@exa mple.org", wantErr: ErrInvalidAddress},
		"only resource sep": {in: "/res", wantErr: ErrInvalidAddress},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			got, err := ParseAddress(tc.in)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestAddress_BareAndString(t *testing.T) {
	a := MustParseAddress("juliet@example.com/balcony")

	require.True(t, a.HasResource())
	require.True(t, a.HasLocal())
	require.False(t, a.IsBare())
	require.Equal(t, "juliet@example.com/balcony", a.String())

	bare := a.Bare()
	require.True(t, bare.IsBare())
	require.Equal(t, "juliet@example.com", bare.String())
	require.Equal(t, bare, MustParseAddress("juliet@example.com"))

	require.Equal(t, a, bare.WithResource("balcony"))
	require.Equal(t, "example.com", a.DomainAddress().String())
	require.True(t, Address{}.IsZero())
	require.False(t, a.IsZero())
}

func TestAddress_IsSubdomainOf(t *testing.T) {
	require.True(t, MustParseAddress("room@conference.example.org").IsSubdomainOf("example.org"))
	require.True(t, MustParseAddress("a.b.example.org").IsSubdomainOf("EXAMPLE.org"))
	require.False(t, MustParseAddress("user@example.org").IsSubdomainOf("example.org"))
	require.False(t, MustParseAddress("user@badexample.org").IsSubdomainOf("example.org"))
	require.False(t, MustParseAddress("user@example.org").IsSubdomainOf(""))
}

func TestAddress_TextMarshaling(t *testing.T) {
	type wrapper struct {
		To Address
	}
	in := wrapper{To: MustParseAddress("user@example.org/phone")}

	buf, err := json.Marshal(in)
	require.NoError(t, err)
	require.JSONEq(t, `{"To":"user@example.org/phone"}`, string(buf))

	var out wrapper
	require.NoError(t, json.Unmarshal(buf, &out))
	require.Equal(t, in, out)

	require.NoError(t, json.Unmarshal([]byte(`{"To":""}`), &out))
	require.True(t, out.To.IsZero())
}
