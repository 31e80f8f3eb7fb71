// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/xmppd/xmppd/agent/structs"
	"github.com/xmppd/xmppd/lib/telemetry"
	"github.com/xmppd/xmppd/lib/workerpool"
	"github.com/xmppd/xmppd/logging"
)

// LoadOpts used by Load to construct and validate a RuntimeConfig.
type LoadOpts struct {
	// FlagValues contains the command line arguments that can also be set
	// in a config file.
	FlagValues FlagValuesTarget

	// ConfigFiles is a slice of paths to config files and directories that
	// will be loaded.
	ConfigFiles []string

	// ConfigFormat forces all config files to be interpreted as this format
	// independent of their extension. Value may be `hcl` or `json`.
	ConfigFormat string

	// DefaultConfig is an optional source that is applied after other
	// defaults but before ConfigFiles and all other user specified config.
	DefaultConfig Source

	// Overrides are optional config sources that are applied as the very
	// last config source so they can override any previous values.
	Overrides []Source
}

// LoadResult is the result returned from Load. The caller is responsible for
// handling any warnings.
type LoadResult struct {
	RuntimeConfig *RuntimeConfig
	Warnings      []string
}

// Load will build the configuration including the config source injected
// after all other defaults but before any user supplied configuration and
// the overrides source injected as the final source in the configuration
// parsing chain.
//
// The precedence is DefaultSource, opts.DefaultConfig, config files in the
// order given, command line flags, opts.Overrides.
func Load(opts LoadOpts) (LoadResult, error) {
	r := LoadResult{}
	b, err := newBuilder(opts)
	if err != nil {
		return r, err
	}
	cfg, err := b.build()
	if err != nil {
		return r, err
	}
	if err := b.validate(cfg); err != nil {
		return r, err
	}
	return LoadResult{RuntimeConfig: &cfg, Warnings: b.Warnings}, nil
}

// builder constructs and validates a runtime configuration from multiple
// configuration sources.
type builder struct {
	Sources  []Source
	Warnings []string

	// err contains the first error that occurred during building the
	// runtime configuration.
	err error
}

func newBuilder(opts LoadOpts) (*builder, error) {
	configFormat := opts.ConfigFormat
	if configFormat != "" && configFormat != "json" && configFormat != "hcl" {
		return nil, fmt.Errorf("config: -config-format must be either 'hcl' or 'json'")
	}

	b := &builder{
		Sources: []Source{DefaultSource()},
	}
	if opts.DefaultConfig != nil {
		b.Sources = append(b.Sources, opts.DefaultConfig)
	}

	for _, path := range opts.ConfigFiles {
		sources, err := sourcesFromPath(path, configFormat)
		if err != nil {
			return nil, err
		}
		b.Sources = append(b.Sources, sources...)
	}
	b.Sources = append(b.Sources, LiteralSource{Name: "flags", Config: opts.FlagValues.Config})
	b.Sources = append(b.Sources, opts.Overrides...)
	return b, nil
}

func (b *builder) build() (rt RuntimeConfig, err error) {
	var cfgs []Config
	for _, s := range b.Sources {
		c, md, err := s.Parse()
		switch {
		case errors.Is(err, ErrNoData):
			continue
		case err != nil:
			return RuntimeConfig{}, err
		}

		var unusedErr error
		for _, k := range md.Unused {
			unusedErr = multierror.Append(unusedErr, fmt.Errorf("invalid config key %s", k))
		}
		if unusedErr != nil {
			return RuntimeConfig{}, fmt.Errorf("failed to parse %v: %s", s.Source(), unusedErr)
		}
		cfgs = append(cfgs, c)
	}
	c := Merge(cfgs...)

	serverName := strings.ToLower(strings.TrimSpace(b.stringVal(c.ServerName)))
	dataDir := b.stringVal(c.DataDir)

	offlinePath := b.stringVal(c.Offline.Path)
	if offlinePath == "" && dataDir != "" {
		offlinePath = filepath.Join(dataDir, "offline.db")
	}

	var users []structs.Address
	for _, u := range c.Accounts.Users {
		addr, err := structs.ParseAddress(u)
		if err != nil {
			b.err = multierror.Append(b.err, fmt.Errorf("accounts.users: invalid address %q: %w", u, err))
			continue
		}
		if !addr.HasLocal() || addr.HasResource() {
			b.err = multierror.Append(b.err, fmt.Errorf("accounts.users: %q is not a bare user address", u))
			continue
		}
		if addr.Domain != serverName {
			b.warn("accounts.users: %q is not hosted on %q and will never be resolved", u, serverName)
		}
		users = append(users, addr)
	}

	allowed, blocked := b.prefixFilters(c.Telemetry.PrefixFilter)

	rt = RuntimeConfig{
		ServerName: serverName,
		DataDir:    dataDir,

		Logging: logging.Config{
			Name:              "xmppd",
			LogLevel:          strings.ToUpper(b.stringVal(c.LogLevel)),
			LogJSON:           b.boolVal(c.LogJSON),
			LogFilePath:       b.stringVal(c.LogFile),
			LogRotateDuration: b.durationVal("log_rotate_duration", c.LogRotateDuration),
			LogRotateBytes:    b.intVal(c.LogRotateBytes),
			LogRotateMaxFiles: b.intVal(c.LogRotateMaxFiles),
			EnableSyslog:      b.boolVal(c.EnableSyslog),
			SyslogFacility:    b.stringVal(c.SyslogFacility),
		},

		HighestPriorityOnly: b.boolVal(c.Delivery.HighestPriorityOnly),
		BounceRate:          b.float64Val(c.Delivery.BounceRate),
		BounceBurst:         b.intVal(c.Delivery.BounceBurst),
		InternalPool:        b.poolVal("delivery.internal", "internal", c.Delivery.Internal),
		ExternalPool:        b.poolVal("delivery.external", "external", c.Delivery.External),

		FederationEnabled:        b.boolVal(c.Federation.Enabled),
		FederationResolvers:      c.Federation.Resolvers,
		FederationDialTimeout:    b.durationVal("federation.dial_timeout", c.Federation.DialTimeout),
		FederationResolveTimeout: b.durationVal("federation.resolve_timeout", c.Federation.ResolveTimeout),
		FederationConnectorTTL:   b.durationVal("federation.connector_ttl", c.Federation.ConnectorTTL),

		OfflineEnabled: b.boolVal(c.Offline.Enabled),
		OfflinePath:    offlinePath,

		AccountUsers:     users,
		AccountCacheSize: b.intVal(c.Accounts.CacheSize),

		Telemetry: telemetry.Config{
			FilterDefault:           c.Telemetry.FilterDefault,
			AllowedPrefixes:         allowed,
			BlockedPrefixes:         blocked,
			DisableHostname:         b.boolVal(c.Telemetry.DisableHostname),
			MetricsPrefix:           b.stringVal(c.Telemetry.MetricsPrefix),
			StatsdAddr:              b.stringVal(c.Telemetry.StatsdAddr),
			PrometheusRetentionTime: b.durationVal("telemetry.prometheus_retention_time", c.Telemetry.PrometheusRetentionTime),
		},
	}
	if b.err != nil {
		return RuntimeConfig{}, b.err
	}
	return rt, nil
}

// validate performs semantic validation of the runtime configuration.
func (b *builder) validate(rt RuntimeConfig) error {
	var errs error

	if rt.ServerName == "" {
		errs = multierror.Append(errs, fmt.Errorf("server_name cannot be empty"))
	} else if addr, err := structs.ParseAddress(rt.ServerName); err != nil || addr.HasLocal() || addr.HasResource() {
		errs = multierror.Append(errs, fmt.Errorf("server_name %q is not a valid domain", rt.ServerName))
	}

	if !logging.ValidateLogLevel(rt.Logging.LogLevel) {
		errs = multierror.Append(errs, fmt.Errorf("log_level %q is invalid, must be one of %s",
			rt.Logging.LogLevel, strings.Join(logging.AllowedLogLevels(), ", ")))
	}

	for _, p := range []workerpool.Config{rt.InternalPool, rt.ExternalPool} {
		if err := p.Validate(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("delivery.%s: %w", p.Name, err))
		}
	}

	if rt.BounceRate < 0 {
		errs = multierror.Append(errs, fmt.Errorf("delivery.bounce_rate cannot be negative"))
	}
	if rt.BounceRate > 0 && rt.BounceBurst < 1 {
		errs = multierror.Append(errs, fmt.Errorf("delivery.bounce_burst must be at least 1 when bounce_rate is set"))
	}

	if rt.FederationEnabled {
		if rt.FederationDialTimeout <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("federation.dial_timeout must be positive"))
		}
		if rt.FederationResolveTimeout <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("federation.resolve_timeout must be positive"))
		}
	}

	if rt.OfflineEnabled && rt.OfflinePath == "" {
		errs = multierror.Append(errs, fmt.Errorf("offline.path or data_dir must be set when offline storage is enabled"))
	}

	if rt.AccountCacheSize < 0 {
		errs = multierror.Append(errs, fmt.Errorf("accounts.cache_size cannot be negative"))
	}
	return errs
}

func (b *builder) warn(msg string, args ...interface{}) {
	b.Warnings = append(b.Warnings, fmt.Sprintf(msg, args...))
}

// prefixFilters splits telemetry.prefix_filter rules into allowed ("+")
// and blocked ("-") metric prefixes.
func (b *builder) prefixFilters(rules []string) (allowed, blocked []string) {
	for _, rule := range rules {
		if rule == "" {
			b.warn("Cannot have empty filter rule in prefix_filter")
			continue
		}
		switch rule[0] {
		case '+':
			allowed = append(allowed, rule[1:])
		case '-':
			blocked = append(blocked, rule[1:])
		default:
			b.warn("Filter rule must begin with either '+' or '-': %q", rule)
		}
	}
	return allowed, blocked
}

func (b *builder) boolVal(v *bool) bool {
	if v == nil {
		return false
	}
	return *v
}

func (b *builder) intVal(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func (b *builder) float64Val(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func (b *builder) stringVal(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func (b *builder) durationVal(name string, v *string) time.Duration {
	if v == nil {
		return 0
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		b.err = multierror.Append(b.err, fmt.Errorf("%s: invalid duration: %q: %s", name, *v, err))
	}
	return d
}

func (b *builder) poolVal(prefix, name string, p Pool) workerpool.Config {
	return workerpool.Config{
		Name:        name,
		CoreWorkers: b.intVal(p.CoreWorkers),
		MaxWorkers:  b.intVal(p.MaxWorkers),
		IdleTimeout: b.durationVal(prefix+".idle_timeout", p.IdleTimeout),
	}
}
