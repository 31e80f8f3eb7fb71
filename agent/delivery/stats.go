// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package delivery

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ryanuber/columnize"

	"github.com/xmppd/xmppd/lib/workerpool"
)

// throughput remembers the previous stats dump of a relay.
type throughput struct {
	lock          sync.Mutex
	lastDump      time.Time
	lastCompleted uint64
}

// since returns the tasks completed since the previous call and the time
// elapsed. ok is false on the first call.
func (t *throughput) since(completed uint64, now time.Time) (n uint64, elapsed time.Duration, ok bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if !t.lastDump.IsZero() {
		n, elapsed, ok = completed-t.lastCompleted, now.Sub(t.lastDump), true
	}
	t.lastDump = now
	t.lastCompleted = completed
	return n, elapsed, ok
}

func writePoolStats(w io.Writer, title string, s workerpool.Stats, t *throughput) error {
	lines := []string{
		fmt.Sprintf("Workers|%d", s.Workers),
		fmt.Sprintf("Idle|%d", s.Idle),
		fmt.Sprintf("Core|%d", s.Core),
		fmt.Sprintf("Max|%d", s.Max),
		fmt.Sprintf("Queued|%d", s.Queued),
		fmt.Sprintf("Submitted|%d", s.Submitted),
		fmt.Sprintf("Completed|%d", s.Completed),
	}
	if n, elapsed, ok := t.since(s.Completed, time.Now()); ok {
		lines = append(lines, fmt.Sprintf("Throughput|%d per %s", n, elapsed.Round(time.Millisecond)))
	}

	_, err := fmt.Fprintf(w, "==== %s\n%s\n", title, columnize.SimpleFormat(lines))
	return err
}
