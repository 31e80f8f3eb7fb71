// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"github.com/armon/go-metrics/prometheus"
)

// Gauges, Counters and Summaries are registered with the Prometheus sink so
// they are exported with help text before their first update.
var Gauges = []prometheus.GaugeDefinition{
	{
		Name: []string{"xmppd", "pool", "queued"},
		Help: "Number of delivery tasks waiting for a worker, by pool.",
	},
	{
		Name: []string{"xmppd", "pool", "workers"},
		Help: "Number of running delivery workers, by pool.",
	},
}

var Counters = []prometheus.CounterDefinition{
	{
		Name: []string{"xmppd", "delivery", "internal", "queued"},
		Help: "Stanzas accepted by the internal relay.",
	},
	{
		Name: []string{"xmppd", "delivery", "external", "queued"},
		Help: "Stanzas accepted by the external relay.",
	},
	{
		Name: []string{"xmppd", "delivery", "result"},
		Help: "Completed deliveries, by relay and outcome.",
	},
	{
		Name: []string{"xmppd", "delivery", "bounce"},
		Help: "Error stanzas returned to senders.",
	},
	{
		Name: []string{"xmppd", "delivery", "bounce", "limited"},
		Help: "Error stanzas suppressed by the per sender bounce limit.",
	},
	{
		Name: []string{"xmppd", "registry", "bind"},
		Help: "Resources bound.",
	},
	{
		Name: []string{"xmppd", "registry", "unbind"},
		Help: "Resources unbound.",
	},
	{
		Name: []string{"xmppd", "accounts", "cache", "hit"},
		Help: "Account verifications answered from the cache.",
	},
	{
		Name: []string{"xmppd", "accounts", "cache", "miss"},
		Help: "Account verifications passed to the account store.",
	},
	{
		Name: []string{"xmppd", "offline", "stored"},
		Help: "Messages stored for offline recipients.",
	},
	{
		Name: []string{"xmppd", "offline", "retrieved"},
		Help: "Offline messages handed back to recipients.",
	},
	{
		Name: []string{"xmppd", "federation", "connect", "failed"},
		Help: "Failed attempts to reach a remote server.",
	},
}

var Summaries = []prometheus.SummaryDefinition{
	{
		Name: []string{"xmppd", "delivery", "internal", "relay"},
		Help: "Time spent delivering a stanza to local sessions.",
	},
	{
		Name: []string{"xmppd", "delivery", "external", "relay"},
		Help: "Time spent handing a stanza to a remote server.",
	},
	{
		Name: []string{"xmppd", "federation", "connect"},
		Help: "Time spent resolving and connecting to a remote server.",
	},
}

// PrometheusOpts returns the metric definitions of the agent.
func PrometheusOpts() prometheus.PrometheusOpts {
	return prometheus.PrometheusOpts{
		GaugeDefinitions:   Gauges,
		CounterDefinitions: Counters,
		SummaryDefinitions: Summaries,
	}
}
