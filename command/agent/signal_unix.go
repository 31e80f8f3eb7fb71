// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package agent

import (
	"os"
	"syscall"
)

// statsSignals trigger a dump of the relay statistics.
var statsSignals = []os.Signal{syscall.SIGUSR1}

func isStatsSignal(sig os.Signal) bool {
	return sig == syscall.SIGUSR1
}
