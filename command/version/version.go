// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package version

import (
	"encoding/json"
	"flag"
	"fmt"
	"runtime"
	"strings"

	"github.com/mitchellh/cli"

	"github.com/xmppd/xmppd/command/flags"
	"github.com/xmppd/xmppd/version"
)

func New(ui cli.Ui) *cmd {
	c := &cmd{UI: ui}
	c.init()
	return c
}

type cmd struct {
	UI     cli.Ui
	flags  *flag.FlagSet
	format string
	help   string
}

func (c *cmd) init() {
	c.flags = flag.NewFlagSet("", flag.ContinueOnError)
	c.flags.StringVar(&c.format, "format", PrettyFormat,
		fmt.Sprintf("Output format {%s}", strings.Join(GetSupportedFormats(), "|")))
	c.help = flags.Usage(help, c.flags)
}

type VersionInfo struct {
	Version    string
	Revision   string
	Prerelease string
	BuildDate  string
	GoVersion  string
}

func (c *cmd) Run(args []string) int {
	if err := c.flags.Parse(args); err != nil {
		return 1
	}

	formatter, err := NewFormatter(c.format)
	if err != nil {
		c.UI.Error(err.Error())
		return 1
	}

	out, err := formatter.Format(&VersionInfo{
		Version:    version.Version,
		Revision:   version.GitCommit,
		Prerelease: version.VersionPrerelease,
		BuildDate:  version.BuildDate,
		GoVersion:  runtime.Version(),
	})
	if err != nil {
		c.UI.Error(err.Error())
		return 1
	}
	c.UI.Output(out)
	return 0
}

const (
	PrettyFormat string = "pretty"
	JSONFormat   string = "json"
)

// Formatter renders version information.
type Formatter interface {
	Format(info *VersionInfo) (string, error)
}

func GetSupportedFormats() []string {
	return []string{PrettyFormat, JSONFormat}
}

func NewFormatter(format string) (Formatter, error) {
	switch format {
	case PrettyFormat:
		return &prettyFormatter{}, nil
	case JSONFormat:
		return &jsonFormatter{}, nil
	default:
		return nil, fmt.Errorf("Unknown format: %s", format)
	}
}

type prettyFormatter struct{}

func (_ *prettyFormatter) Format(info *VersionInfo) (string, error) {
	var buffer strings.Builder
	buffer.WriteString(fmt.Sprintf("xmppd %s\n", version.GetHumanVersion()))
	if info.Revision != "" {
		buffer.WriteString(fmt.Sprintf("Revision %s\n", info.Revision))
	}
	buffer.WriteString(fmt.Sprintf("Build Date %s\n", info.BuildDate))
	buffer.WriteString(fmt.Sprintf("Go %s", info.GoVersion))
	return buffer.String(), nil
}

type jsonFormatter struct{}

func (_ *jsonFormatter) Format(info *VersionInfo) (string, error) {
	b, err := json.MarshalIndent(info, "", "    ")
	if err != nil {
		return "", fmt.Errorf("Failed to marshal version info: %v", err)
	}
	return string(b), nil
}

func (c *cmd) Synopsis() string {
	return "Prints the xmppd version"
}

func (c *cmd) Help() string {
	return c.help
}

const help = `
Usage: xmppd version [options]

  Prints the version of this xmppd binary.
`
