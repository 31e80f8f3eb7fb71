// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_HCLAndJSON(t *testing.T) {
	hcl := `
		server_name = "example.org"
		delivery {
			highest_priority_only = true
			internal {
				core_workers = 2
				idle_timeout = "1s"
			}
		}
		federation {
			resolvers = ["127.0.0.1:53", "10.0.0.1:53"]
		}
		accounts {
			users = ["juliet@example.org"]
		}
	`
	json := `{
		"server_name": "example.org",
		"delivery": {
			"highest_priority_only": true,
			"internal": {"core_workers": 2, "idle_timeout": "1s"}
		},
		"federation": {"resolvers": ["127.0.0.1:53", "10.0.0.1:53"]},
		"accounts": {"users": ["juliet@example.org"]}
	}`

	for format, data := range map[string]string{"hcl": hcl, "json": json} {
		t.Run(format, func(t *testing.T) {
			c, md, err := Parse(data, format)
			require.NoError(t, err)
			require.Empty(t, md.Unused)

			require.Equal(t, "example.org", *c.ServerName)
			require.True(t, *c.Delivery.HighestPriorityOnly)
			require.Equal(t, 2, *c.Delivery.Internal.CoreWorkers)
			require.Equal(t, "1s", *c.Delivery.Internal.IdleTimeout)
			require.Nil(t, c.Delivery.Internal.MaxWorkers)
			require.Nil(t, c.Delivery.External.CoreWorkers)
			require.Equal(t, []string{"127.0.0.1:53", "10.0.0.1:53"}, c.Federation.Resolvers)
			require.Equal(t, []string{"juliet@example.org"}, c.Accounts.Users)
		})
	}
}

func TestParse_UnknownKeys(t *testing.T) {
	_, md, err := Parse(`bogus = 1
		delivery { nope = true }`, "hcl")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"bogus", "delivery.nope"}, md.Unused)
}

func TestParse_Errors(t *testing.T) {
	_, _, err := Parse(`server_name = "a"`, "yaml")
	require.ErrorContains(t, err, "invalid format: yaml")

	_, _, err = Parse(`server_name = "unterminated`, "hcl")
	require.Error(t, err)

	_, _, err = Parse(`delivery { } delivery { }`, "hcl")
	require.ErrorContains(t, err, "expected a single block")
}

func TestMerge(t *testing.T) {
	a := "a.org"
	b := "b.org"
	yes := true
	one := 1

	got := Merge(
		Config{ServerName: &a, Accounts: Accounts{Users: []string{"x@a.org"}, CacheSize: &one}},
		Config{ServerName: &b, Accounts: Accounts{Users: []string{"y@b.org"}}},
		Config{Delivery: Delivery{HighestPriorityOnly: &yes}},
	)

	require.Equal(t, "b.org", *got.ServerName)
	require.Equal(t, []string{"x@a.org", "y@b.org"}, got.Accounts.Users)
	require.Equal(t, 1, *got.Accounts.CacheSize)
	require.True(t, *got.Delivery.HighestPriorityOnly)
	require.Nil(t, got.LogLevel)
}
