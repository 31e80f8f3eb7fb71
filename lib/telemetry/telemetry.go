// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package telemetry

import (
	"fmt"
	"time"

	"github.com/armon/go-metrics"
	"github.com/armon/go-metrics/prometheus"
	"github.com/hashicorp/go-multierror"
)

// Config is embedded in config.RuntimeConfig and holds the configuration
// variables for go-metrics.
type Config struct {
	// Disable may be set to true to have Init to skip initialization
	// and return a nil MetricsSink.
	Disable bool

	// DisableHostname will disable hostname prefixing for all metrics.
	//
	// hcl: telemetry { disable_hostname = (true|false)
	DisableHostname bool

	// MetricsPrefix is the prefix used to write stats values to.
	//
	// hcl: telemetry { metrics_prefix = string }
	MetricsPrefix string

	// StatsdAddr is the address of a statsd instance. If provided, metrics
	// will be sent to that instance.
	//
	// hcl: telemetry { statsd_address = string }
	StatsdAddr string

	// PrometheusRetentionTime is the retention time for prometheus metrics
	// if greater than 0. A value of 0 disable Prometheus support.
	//
	// hcl: telemetry { prometheus_retention_time = "duration" }
	PrometheusRetentionTime time.Duration

	// PrometheusOpts carries the metric definitions registered with the
	// Prometheus sink so that they are exported before their first update.
	// Expiration is always taken from PrometheusRetentionTime.
	PrometheusOpts prometheus.PrometheusOpts

	// FilterDefault is whether metrics matching no prefix filter are
	// emitted. Nil means true.
	//
	// hcl: telemetry { filter_default = (true|false) }
	FilterDefault *bool

	// AllowedPrefixes and BlockedPrefixes are built from the "+" and "-"
	// rules of telemetry.prefix_filter.
	AllowedPrefixes []string
	BlockedPrefixes []string
}

// MetricsHandler exposes the in-memory sink so that the agent can dump it
// on demand.
type MetricsHandler struct {
	client    *metrics.Metrics
	inmemSink *metrics.InmemSink
	signal    *metrics.InmemSignal
}

func (h *MetricsHandler) InmemSink() *metrics.InmemSink {
	if h == nil {
		return nil
	}
	return h.inmemSink
}

// Shutdown stops the signal handler dumping the in-memory sink.
func (h *MetricsHandler) Shutdown() {
	if h == nil {
		return
	}
	if h.signal != nil {
		h.signal.Stop()
	}
	h.client.Shutdown()
}

// sinkFn takes Config and builds a sink to be composed in the FanOutSink
type sinkFn func(Config) (metrics.MetricSink, error)

func statsdSink(cfg Config) (metrics.MetricSink, error) {
	addr := cfg.StatsdAddr
	if addr == "" {
		return nil, nil
	}
	return metrics.NewStatsdSink(addr)
}

func prometheusSink(cfg Config) (metrics.MetricSink, error) {
	if cfg.PrometheusRetentionTime.Nanoseconds() < 1 {
		return nil, nil
	}
	opts := cfg.PrometheusOpts
	opts.Expiration = cfg.PrometheusRetentionTime
	sink, err := prometheus.NewPrometheusSinkFrom(opts)
	if err != nil {
		return nil, err
	}
	return sink, nil
}

// initSinks composes all of our sink options into a FanoutSink. All sink
// inits must succeed, every failure is reported.
func initSinks(cfg Config) (metrics.FanoutSink, error) {
	var sinks metrics.FanoutSink
	var errs error
	for name, fn := range map[string]sinkFn{
		"statsd":     statsdSink,
		"prometheus": prometheusSink,
	} {
		s, err := fn(cfg)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to set up %s sink: %w", name, err))
			continue
		}
		if s != nil {
			sinks = append(sinks, s)
		}
	}
	return sinks, errs
}

// Init configures go-metrics based on the configuration, registers the
// global metrics client and returns a handler for the in-memory sink.
func Init(cfg Config) (*MetricsHandler, error) {
	if cfg.Disable {
		return nil, nil
	}
	// Aggregate on 10 second intervals for 1 minute. The sink is dumped to
	// stderr when the process receives SIGUSR1.
	memSink := metrics.NewInmemSink(10*time.Second, time.Minute)

	mCfg := metrics.DefaultConfig(cfg.MetricsPrefix)
	mCfg.EnableHostname = !cfg.DisableHostname
	mCfg.FilterDefault = cfg.FilterDefault == nil || *cfg.FilterDefault
	mCfg.AllowedPrefixes = cfg.AllowedPrefixes
	mCfg.BlockedPrefixes = cfg.BlockedPrefixes

	sinks, err := initSinks(cfg)
	if err != nil {
		return nil, err
	}

	var client *metrics.Metrics
	if len(sinks) == 0 {
		// Hostname is irrelevant for on-host telemetry
		mCfg.EnableHostname = false
		client, err = metrics.NewGlobal(mCfg, memSink)
	} else {
		sinks = append(sinks, memSink)
		client, err = metrics.NewGlobal(mCfg, sinks)
	}
	if err != nil {
		return nil, err
	}
	return &MetricsHandler{
		client:    client,
		inmemSink: memSink,
		signal:    metrics.DefaultInmemSignal(memSink),
	}, nil
}
