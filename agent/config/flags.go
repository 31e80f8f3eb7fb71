// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
)

// FlagValuesTarget holds the values of the command line flags that map to
// config keys.
type FlagValuesTarget struct {
	Config Config
}

// AddFlags adds the command line flags for the agent.
func AddFlags(fs *flag.FlagSet, f *LoadOpts) {
	add := func(p interface{}, name, help string) {
		switch x := p.(type) {
		case **bool:
			fs.Var(newBoolPtrValue(x), name, help)
		case **int:
			fs.Var(newIntPtrValue(x), name, help)
		case **string:
			fs.Var(newStringPtrValue(x), name, help)
		case *[]string:
			fs.Var(newStringSliceValue(x), name, help)
		default:
			panic(fmt.Sprintf("invalid type: %T", p))
		}
	}

	c := &f.FlagValues.Config
	add(&c.ServerName, "server-name", "Domain served by this agent.")
	add(&c.DataDir, "data-dir", "Path to a data directory to store agent state.")
	add(&c.LogLevel, "log-level", "Log level of the agent.")
	add(&c.LogJSON, "log-json", "Output logs in JSON format.")
	add(&c.LogFile, "log-file", "Path to the file the logs get written to.")
	add(&c.LogRotateBytes, "log-rotate-bytes", "Maximum number of bytes that should be written to a log file.")
	add(&c.LogRotateDuration, "log-rotate-duration", "Time after which log rotation needs to be performed.")
	add(&c.LogRotateMaxFiles, "log-rotate-max-files", "Maximum number of log file archives to keep.")
	add(&c.EnableSyslog, "syslog", "Enables logging to syslog.")
	add(&c.Delivery.HighestPriorityOnly, "highest-priority-only", "Deliver stanzas for a bare address only to the highest priority resources.")
	add(&c.Federation.Enabled, "federation", "Route stanzas for foreign domains to remote servers.")
	add(&c.Federation.Resolvers, "federation-resolver", "DNS resolver used to locate remote servers. Can be specified multiple times.")
	add(&c.Offline.Enabled, "offline", "Store undeliverable messages for later retrieval.")
	add(&c.Accounts.Users, "user", "Bare address of a local account. Can be specified multiple times.")

	fs.Var(newStringSliceValue(&f.ConfigFiles), "config-file", "Path to a config file to load. Can be specified multiple times.")
	fs.Var(newStringSliceValue(&f.ConfigFiles), "config-dir", "Path to a directory of config files to load. Can be specified multiple times.")
	fs.StringVar(&f.ConfigFormat, "config-format", "", "Config files are in this format irrespective of their extension. Must be 'hcl' or 'json'")
}

// boolPtrValue is a flag.Value which stores the value in a *bool if it
// can be parsed with strconv.ParseBool. If the value was not set the
// pointer is nil.
type boolPtrValue struct {
	v **bool
	b bool
}

func newBoolPtrValue(p **bool) *boolPtrValue {
	return &boolPtrValue{v: p}
}

func (s *boolPtrValue) IsBoolFlag() bool { return true }

func (s *boolPtrValue) Set(val string) error {
	b, err := strconv.ParseBool(val)
	if err != nil {
		return err
	}
	*s.v, s.b = &b, true
	return nil
}

func (s *boolPtrValue) String() string {
	if s.b {
		return strconv.FormatBool(**s.v)
	}
	return ""
}

type intPtrValue struct {
	v **int
	b bool
}

func newIntPtrValue(p **int) *intPtrValue {
	return &intPtrValue{v: p}
}

func (s *intPtrValue) Set(val string) error {
	n, err := strconv.Atoi(val)
	if err != nil {
		return err
	}
	*s.v, s.b = &n, true
	return nil
}

func (s *intPtrValue) String() string {
	if s.b {
		return strconv.Itoa(**s.v)
	}
	return ""
}

type stringPtrValue struct {
	v **string
	b bool
}

func newStringPtrValue(p **string) *stringPtrValue {
	return &stringPtrValue{v: p}
}

func (s *stringPtrValue) Set(val string) error {
	*s.v, s.b = &val, true
	return nil
}

func (s *stringPtrValue) String() string {
	if s.b {
		return **s.v
	}
	return ""
}

// stringSliceValue appends every occurrence of the flag.
type stringSliceValue struct {
	v *[]string
}

func newStringSliceValue(p *[]string) *stringSliceValue {
	return &stringSliceValue{v: p}
}

func (s *stringSliceValue) Set(val string) error {
	*s.v = append(*s.v, val)
	return nil
}

func (s *stringSliceValue) String() string {
	if s.v == nil {
		return ""
	}
	return strings.Join(*s.v, ",")
}
