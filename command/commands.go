// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"github.com/mitchellh/cli"

	"github.com/xmppd/xmppd/command/agent"
	"github.com/xmppd/xmppd/command/config"
	"github.com/xmppd/xmppd/command/config/validate"
	"github.com/xmppd/xmppd/command/version"
)

// RegisteredCommands returns a realized mapping of available CLI commands in a format that
// the CLI class can consume.
func RegisteredCommands(ui cli.Ui) map[string]cli.CommandFactory {
	registry := []Entry{
		{"agent", func(ui cli.Ui) (cli.Command, error) { return agent.New(ui), nil }},
		{"config", func(cli.Ui) (cli.Command, error) { return config.New(), nil }},
		{"config validate", func(ui cli.Ui) (cli.Command, error) { return validate.New(ui), nil }},
		{"version", func(ui cli.Ui) (cli.Command, error) { return version.New(ui), nil }},
	}
	return createCommands(ui, registry...)
}
