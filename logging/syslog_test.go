// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"testing"

	gsyslog "github.com/hashicorp/go-syslog"
	"github.com/stretchr/testify/require"
)

type fakeSyslog struct {
	priorities []gsyslog.Priority
	lines      []string
}

func (f *fakeSyslog) WriteLevel(p gsyslog.Priority, b []byte) error {
	f.priorities = append(f.priorities, p)
	f.lines = append(f.lines, string(b))
	return nil
}

func (f *fakeSyslog) Write(b []byte) (int, error) {
	return len(b), f.WriteLevel(gsyslog.LOG_NOTICE, b)
}

func (f *fakeSyslog) Close() error { return nil }

func TestSyslogWrapper_Priorities(t *testing.T) {
	fake := &fakeSyslog{}
	w := &SyslogWrapper{l: fake}

	lines := []string{
		"2024-03-01T12:00:00.000Z [ERROR] xmppd.delivery: bounce failed",
		"2024-03-01T12:00:00.000Z [WARN]  xmppd.registry: unknown token",
		"2024-03-01T12:00:00.000Z [INFO]  xmppd.agent: agent started",
		"2024-03-01T12:00:00.000Z [DEBUG] xmppd.federation: closing idle connector",
		"2024-03-01T12:00:00.000Z [TRACE] xmppd.federation: resolved",
		"no level at all",
	}
	for _, line := range lines {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}

	require.Equal(t, []gsyslog.Priority{
		gsyslog.LOG_ERR,
		gsyslog.LOG_WARNING,
		gsyslog.LOG_NOTICE,
		gsyslog.LOG_INFO,
		gsyslog.LOG_DEBUG,
		gsyslog.LOG_NOTICE,
	}, fake.priorities)
	require.Equal(t, "[ERROR] xmppd.delivery: bounce failed", fake.lines[0])
	require.Equal(t, "no level at all", fake.lines[5])
}
