// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/mitchellh/cli"

	"github.com/xmppd/xmppd/command"
	"github.com/xmppd/xmppd/version"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	log.SetOutput(io.Discard)

	ui := &cli.BasicUi{Writer: os.Stdout, ErrorWriter: os.Stderr}
	cmds := command.RegisteredCommands(ui)
	var names []string
	for c := range cmds {
		names = append(names, c)
	}

	cli := &cli.CLI{
		Args:         os.Args[1:],
		Commands:     cmds,
		Autocomplete: true,
		Name:         "xmppd",
		HelpFunc:     cli.FilteredHelpFunc(names, cli.BasicHelpFunc("xmppd")),
		HelpWriter:   os.Stdout,
		ErrorWriter:  os.Stderr,
		Version:      version.GetHumanVersion(),
	}

	exitCode, err := cli.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing CLI: %v\n", err)
		return 1
	}
	return exitCode
}
