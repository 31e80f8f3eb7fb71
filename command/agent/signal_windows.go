// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

//go:build windows

package agent

import "os"

var statsSignals []os.Signal

func isStatsSignal(os.Signal) bool {
	return false
}
