// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package telemetry

import (
	"testing"
	"time"

	"github.com/armon/go-metrics"
	"github.com/stretchr/testify/require"
)

func TestInit_Disabled(t *testing.T) {
	h, err := Init(Config{Disable: true})
	require.NoError(t, err)
	require.Nil(t, h)
	require.Nil(t, h.InmemSink())
	h.Shutdown()
}

func TestInit_InmemOnly(t *testing.T) {
	h, err := Init(Config{MetricsPrefix: "xmppd"})
	require.NoError(t, err)
	t.Cleanup(h.Shutdown)

	metrics.IncrCounter([]string{"test", "counter"}, 1)

	data := h.InmemSink().Data()
	require.NotEmpty(t, data)
	_, ok := data[len(data)-1].Counters["xmppd.test.counter"]
	require.True(t, ok)
}

func TestInit_PrefixFilters(t *testing.T) {
	deny := false
	h, err := Init(Config{
		MetricsPrefix:   "xmppd",
		FilterDefault:   &deny,
		AllowedPrefixes: []string{"xmppd.delivery"},
	})
	require.NoError(t, err)
	t.Cleanup(h.Shutdown)

	metrics.IncrCounter([]string{"delivery", "internal", "delivered"}, 1)
	metrics.IncrCounter([]string{"registry", "bind"}, 1)

	data := h.InmemSink().Data()
	require.NotEmpty(t, data)
	counters := data[len(data)-1].Counters
	require.Contains(t, counters, "xmppd.delivery.internal.delivered")
	require.NotContains(t, counters, "xmppd.registry.bind")
}

func TestInitSinks(t *testing.T) {
	sinks, err := initSinks(Config{
		StatsdAddr:              "127.0.0.1:0",
		PrometheusRetentionTime: time.Minute,
	})
	require.NoError(t, err)
	require.Len(t, sinks, 2)

	sinks, err = initSinks(Config{})
	require.NoError(t, err)
	require.Empty(t, sinks)
}
