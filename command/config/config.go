// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"github.com/mitchellh/cli"

	"github.com/xmppd/xmppd/command/flags"
)

func New() *cmd {
	return &cmd{}
}

type cmd struct{}

func (c *cmd) Run(args []string) int {
	return cli.RunResultHelp
}

func (c *cmd) Synopsis() string {
	return synopsis
}

func (c *cmd) Help() string {
	return flags.Usage(help, nil)
}

const synopsis = "Interact with the agent configuration"
const help = `
Usage: xmppd config <subcommand> [options] [args]

  This command has subcommands for working with agent configuration files.

  Validate a config directory:

    $ xmppd config validate /etc/xmppd.d

  For more examples, ask for subcommand help or view the documentation.
`
