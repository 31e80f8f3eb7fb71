// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"bytes"

	gsyslog "github.com/hashicorp/go-syslog"
)

// levelPriority maps the level prefix hclog writes to a syslog priority.
var levelPriority = []struct {
	prefix   []byte
	priority gsyslog.Priority
}{
	{[]byte("[TRACE]"), gsyslog.LOG_DEBUG},
	{[]byte("[DEBUG]"), gsyslog.LOG_INFO},
	{[]byte("[INFO]"), gsyslog.LOG_NOTICE},
	{[]byte("[WARN]"), gsyslog.LOG_WARNING},
	{[]byte("[ERROR]"), gsyslog.LOG_ERR},
}

// SyslogWrapper is an io.Writer that forwards hclog lines to syslog at the
// priority matching their level.
type SyslogWrapper struct {
	l gsyslog.Syslogger
}

// Write writes p at the priority of the first level prefix found in it.
// Lines without a known level are written at LOG_NOTICE.
func (s *SyslogWrapper) Write(p []byte) (int, error) {
	priority := gsyslog.LOG_NOTICE
	for _, lp := range levelPriority {
		if bytes.Contains(p, lp.prefix) {
			priority = lp.priority
			break
		}
	}

	// hclog prefixes every line with a timestamp which syslog adds itself
	if idx := bytes.IndexByte(p, '['); idx > 0 {
		p = p[idx:]
	}
	err := s.l.WriteLevel(priority, p)
	return len(p), err
}
