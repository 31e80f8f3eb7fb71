// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"fmt"

	"github.com/mitchellh/cli"
)

// Factory is a function that returns a new instance of a CLI-sub command.
type Factory func(cli.Ui) (cli.Command, error)

// Entry is a struct that contains a command's name and a factory for that command.
type Entry struct {
	Name string
	Fn   Factory
}

func createCommands(ui cli.Ui, cmdEntries ...Entry) map[string]cli.CommandFactory {
	m := make(map[string]cli.CommandFactory)
	for _, ent := range cmdEntries {
		thisFn := ent.Fn
		if _, ok := m[ent.Name]; ok {
			panic(fmt.Sprintf("duplicate command: %q", ent.Name))
		}
		m[ent.Name] = func() (cli.Command, error) {
			return thisFn(ui)
		}
	}
	return m
}
