// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"strings"

	"github.com/hashicorp/go-hclog"
)

// levels maps every accepted level name to its hclog level. ERR is kept
// for configs written against older releases.
var levels = map[string]hclog.Level{
	"TRACE": hclog.Trace,
	"DEBUG": hclog.Debug,
	"INFO":  hclog.Info,
	"WARN":  hclog.Warn,
	"ERR":   hclog.Error,
	"ERROR": hclog.Error,
}

// AllowedLogLevels returns the accepted level names, most verbose first.
func AllowedLogLevels() []string {
	return []string{"TRACE", "DEBUG", "INFO", "WARN", "ERR", "ERROR"}
}

// ValidateLogLevel reports whether level names a known log level. The
// comparison is case insensitive.
func ValidateLogLevel(level string) bool {
	_, ok := levels[strings.ToUpper(level)]
	return ok
}

// LevelFromString returns the hclog level for name, or hclog.NoLevel if the
// name is unknown.
func LevelFromString(name string) hclog.Level {
	if l, ok := levels[strings.ToUpper(name)]; ok {
		return l
	}
	return hclog.NoLevel
}
