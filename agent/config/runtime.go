// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"time"

	"github.com/xmppd/xmppd/agent/structs"
	"github.com/xmppd/xmppd/lib/telemetry"
	"github.com/xmppd/xmppd/lib/workerpool"
	"github.com/xmppd/xmppd/logging"
)

// RuntimeConfig specifies the configuration the agent uses at runtime. It
// is built once from all sources by Load and must be treated as read-only.
type RuntimeConfig struct {
	// ServerName is the domain served by this agent. Local users are
	// addressed as user@ServerName.
	//
	// hcl: server_name = string
	ServerName string

	// DataDir is the base directory for persistent state. The offline store
	// defaults to a file below it.
	//
	// hcl: data_dir = string
	DataDir string

	Logging logging.Config

	// HighestPriorityOnly delivers stanzas addressed to a bare address only
	// to the resources with the highest priority. Reloadable.
	//
	// hcl: delivery { highest_priority_only = (true|false) }
	HighestPriorityOnly bool

	// BounceRate and BounceBurst limit the error replies sent back to a
	// single sender. A rate of 0 disables limiting.
	//
	// hcl: delivery { bounce_rate = float bounce_burst = int }
	BounceRate  float64
	BounceBurst int

	InternalPool workerpool.Config
	ExternalPool workerpool.Config

	// FederationEnabled routes stanzas for foreign domains to remote
	// servers. When disabled such stanzas fail with a configuration error.
	//
	// hcl: federation { enabled = (true|false) }
	FederationEnabled        bool
	FederationResolvers      []string
	FederationDialTimeout    time.Duration
	FederationResolveTimeout time.Duration
	FederationConnectorTTL   time.Duration

	// OfflineEnabled stores undeliverable messages in OfflinePath instead of
	// bouncing them.
	//
	// hcl: offline { enabled = (true|false) path = string }
	OfflineEnabled bool
	OfflinePath    string

	// AccountUsers are the bare addresses of the provisioned local accounts.
	// Reloadable.
	//
	// hcl: accounts { users = []string }
	AccountUsers     []structs.Address
	AccountCacheSize int

	Telemetry telemetry.Config
}

// ReloadableConfig is the subset of the runtime configuration that can be
// applied without restarting the agent.
type ReloadableConfig struct {
	LogLevel            string
	HighestPriorityOnly bool
	AccountUsers        []structs.Address
}

// Reloadable returns the reloadable subset of c.
func (c *RuntimeConfig) Reloadable() ReloadableConfig {
	return ReloadableConfig{
		LogLevel:            c.Logging.LogLevel,
		HighestPriorityOnly: c.HighestPriorityOnly,
		AccountUsers:        c.AccountUsers,
	}
}
