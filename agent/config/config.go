// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/hashicorp/hcl"
	"github.com/mitchellh/mapstructure"
)

// Config is the raw configuration as read from one source. All values are
// pointers or slices so that unset values can be told apart from zero
// values when merging sources. Durations are strings and are parsed by the
// builder.
type Config struct {
	ServerName *string `mapstructure:"server_name"`
	DataDir    *string `mapstructure:"data_dir"`

	LogLevel          *string `mapstructure:"log_level"`
	LogJSON           *bool   `mapstructure:"log_json"`
	LogFile           *string `mapstructure:"log_file"`
	LogRotateDuration *string `mapstructure:"log_rotate_duration"`
	LogRotateBytes    *int    `mapstructure:"log_rotate_bytes"`
	LogRotateMaxFiles *int    `mapstructure:"log_rotate_max_files"`
	EnableSyslog      *bool   `mapstructure:"enable_syslog"`
	SyslogFacility    *string `mapstructure:"syslog_facility"`

	Delivery   Delivery   `mapstructure:"delivery"`
	Federation Federation `mapstructure:"federation"`
	Offline    Offline    `mapstructure:"offline"`
	Accounts   Accounts   `mapstructure:"accounts"`
	Telemetry  Telemetry  `mapstructure:"telemetry"`
}

type Delivery struct {
	HighestPriorityOnly *bool    `mapstructure:"highest_priority_only"`
	BounceRate          *float64 `mapstructure:"bounce_rate"`
	BounceBurst         *int     `mapstructure:"bounce_burst"`

	Internal Pool `mapstructure:"internal"`
	External Pool `mapstructure:"external"`
}

type Pool struct {
	CoreWorkers *int    `mapstructure:"core_workers"`
	MaxWorkers  *int    `mapstructure:"max_workers"`
	IdleTimeout *string `mapstructure:"idle_timeout"`
}

type Federation struct {
	Enabled        *bool    `mapstructure:"enabled"`
	Resolvers      []string `mapstructure:"resolvers"`
	DialTimeout    *string  `mapstructure:"dial_timeout"`
	ResolveTimeout *string  `mapstructure:"resolve_timeout"`
	ConnectorTTL   *string  `mapstructure:"connector_ttl"`
}

type Offline struct {
	Enabled *bool   `mapstructure:"enabled"`
	Path    *string `mapstructure:"path"`
}

type Accounts struct {
	Users     []string `mapstructure:"users"`
	CacheSize *int     `mapstructure:"cache_size"`
}

type Telemetry struct {
	DisableHostname         *bool    `mapstructure:"disable_hostname"`
	MetricsPrefix           *string  `mapstructure:"metrics_prefix"`
	StatsdAddr              *string  `mapstructure:"statsd_address"`
	PrometheusRetentionTime *string  `mapstructure:"prometheus_retention_time"`
	FilterDefault           *bool    `mapstructure:"filter_default"`
	PrefixFilter            []string `mapstructure:"prefix_filter"`
}

// Parse decodes data in the given format ("hcl" or "json") into a Config.
// Unknown keys are returned in the metadata.
func Parse(data string, format string) (c Config, md mapstructure.Metadata, err error) {
	var raw map[string]interface{}
	switch format {
	case "json":
		err = json.Unmarshal([]byte(data), &raw)
	case "hcl":
		err = hcl.Decode(&raw, data)
	default:
		err = fmt.Errorf("invalid format: %s", format)
	}
	if err != nil {
		return Config{}, md, err
	}

	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			weakDecodeFromSlice,
			mapstructure.StringToSliceHookFunc(","),
		),
		Metadata:         &md,
		Result:           &c,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Config{}, md, err
	}
	if err := d.Decode(raw); err != nil {
		return Config{}, md, err
	}
	return c, md, nil
}

// weakDecodeFromSlice unwraps the single element lists HCL produces for
// blocks like delivery { ... } when the target is not a slice.
func weakDecodeFromSlice(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.Slice || to.Kind() == reflect.Slice || to.Kind() == reflect.Array {
		return data, nil
	}
	v := reflect.ValueOf(data)
	switch v.Len() {
	case 0:
		return nil, nil
	case 1:
		return v.Index(0).Interface(), nil
	default:
		return nil, fmt.Errorf("expected a single block, got %d", v.Len())
	}
}
