// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flags

import (
	"flag"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUsage(t *testing.T) {
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.String("zeta", "", "The last `name` in the list.")
	fs.Bool("alpha", false, strings.Repeat("word ", 30))

	out := Usage(`
Usage: xmppd test [options]

  Does testing.
`, fs)

	require.True(t, strings.HasPrefix(out, "Usage: xmppd test [options]"))
	require.Contains(t, out, "Command Options")
	require.Contains(t, out, "  -zeta=<name>\n")
	require.Less(t, strings.Index(out, "-alpha"), strings.Index(out, "-zeta"))
	for _, line := range strings.Split(out, "\n") {
		require.LessOrEqual(t, len(line), maxLineLength)
	}

	require.Equal(t, "Usage: nothing", Usage("Usage: nothing\n", nil))
}
