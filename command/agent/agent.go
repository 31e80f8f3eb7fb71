// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/xmppd/xmppd/agent"
	"github.com/xmppd/xmppd/agent/config"
	"github.com/xmppd/xmppd/command/flags"
	"github.com/xmppd/xmppd/lib/telemetry"
	"github.com/xmppd/xmppd/logging"
	"github.com/xmppd/xmppd/version"
)

// gracefulTimeout controls how long we wait before forcefully terminating
const gracefulTimeout = 15 * time.Second

// errFederationTransport is returned when federation is enabled. Remote
// servers are reached through a stream transport that is plugged in by
// embedders via agent.BaseDeps.Dialer.
var errFederationTransport = errors.New("federation is enabled but this build has no server-to-server transport")

func New(ui cli.Ui) *cmd {
	c := &cmd{
		ui:         ui,
		shutdownCh: make(chan struct{}),
	}
	c.init()
	return c
}

// cmd is a Command implementation that runs an xmppd agent.
// The command will not end unless a shutdown message is sent on the
// shutdownCh or the process is signalled.
type cmd struct {
	ui         cli.Ui
	flags      *flag.FlagSet
	opts       config.LoadOpts
	help       string
	shutdownCh chan struct{}
}

func (c *cmd) init() {
	c.flags = flag.NewFlagSet("", flag.ContinueOnError)
	config.AddFlags(c.flags, &c.opts)
	c.help = flags.Usage(help, c.flags)
}

func (c *cmd) Run(args []string) int {
	code := c.run(args)
	if c.ui != nil {
		c.ui.Info(fmt.Sprintf("Exit code: %d", code))
	}
	return code
}

func (c *cmd) run(args []string) int {
	ui := &cli.PrefixedUi{
		OutputPrefix: "==> ",
		InfoPrefix:   "    ",
		ErrorPrefix:  "==> ",
		Ui:           c.ui,
	}
	if err := c.flags.Parse(args); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			ui.Error(fmt.Sprintf("Error parsing flags: %v", err))
		}
		return 1
	}

	result, err := config.Load(c.opts)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	rc := result.RuntimeConfig
	for _, w := range result.Warnings {
		ui.Warn(w)
	}
	if rc.FederationEnabled {
		ui.Error(errFederationTransport.Error())
		return 1
	}

	logGate := &logging.GatedWriter{Writer: &cli.UiWriter{Ui: c.ui}}
	logger, err := logging.Setup(rc.Logging, logGate)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}

	rc.Telemetry.PrometheusOpts = agent.PrometheusOpts()
	metricsHandler, err := telemetry.Init(rc.Telemetry)
	if err != nil {
		ui.Error(fmt.Sprintf("Failed to initialize telemetry: %v", err))
		return 1
	}
	defer metricsHandler.Shutdown()

	a, err := agent.New(agent.BaseDeps{
		Logger:        logger,
		RuntimeConfig: rc,
	})
	if err != nil {
		ui.Error(fmt.Sprintf("Error starting agent: %s", err))
		return 1
	}
	defer a.Shutdown()

	var watchCh <-chan *config.FileWatcherEvent
	if len(c.opts.ConfigFiles) > 0 {
		w, err := config.NewFileWatcher(c.opts.ConfigFiles, logger)
		if err != nil {
			// reloading on SIGHUP still works
			logger.Warn("not watching config files for changes", "error", err)
		} else {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			w.Start(ctx)
			defer w.Stop()
			watchCh = w.EventsCh
		}
	}

	ui.Output("xmppd agent running!")
	ui.Info(fmt.Sprintf("        Version: '%s'", version.GetHumanVersion()))
	ui.Info(fmt.Sprintf("    Server name: '%s'", rc.ServerName))
	ui.Info(fmt.Sprintf("       Accounts: %d", len(rc.AccountUsers)))
	ui.Info(fmt.Sprintf("Offline storage: %v", rc.OfflineEnabled))
	ui.Info("")
	ui.Output("Log data will now stream in as it occurs:\n")
	logGate.Flush()

	return c.handleSignals(ui, a, logger, watchCh)
}

// handleSignals blocks until we get an exit-causing signal
func (c *cmd) handleSignals(ui cli.Ui, a *agent.Agent, logger hclog.Logger, watchCh <-chan *config.FileWatcherEvent) int {
	signalCh := make(chan os.Signal, 10)
	signal.Notify(signalCh, append([]os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}, statsSignals...)...)
	defer signal.Stop(signalCh)

	for {
		var sig os.Signal
		select {
		case s := <-signalCh:
			sig = s
		case ev := <-watchCh:
			logger.Info("config file changed, reloading", "file", ev.Filename)
			if err := reloadConfig(a, c.opts, logger); err != nil {
				logger.Error("failed to reload config", "error", err)
			}
			continue
		case <-c.shutdownCh:
			sig = os.Interrupt
		case <-a.ShutdownCh():
			// agent is already down
			return 0
		}

		switch {
		case sig == syscall.SIGHUP:
			ui.Output("Caught signal: hangup, reloading configuration")
			if err := reloadConfig(a, c.opts, logger); err != nil {
				ui.Error(fmt.Sprintf("Failed to reload configs: %v", err))
			}
			continue
		case isStatsSignal(sig):
			var buf bytes.Buffer
			if err := a.WriteRelayStats(&buf); err != nil {
				logger.Error("failed to write relay statistics", "error", err)
			}
			ui.Output(buf.String())
			continue
		}

		ui.Output(fmt.Sprintf("Caught signal: %v", sig))
		ui.Output("Gracefully shutting down agent...")
		gracefulCh := make(chan error, 1)
		go func() {
			gracefulCh <- a.Shutdown()
		}()

		select {
		case <-signalCh:
			ui.Output("Caught second signal, exiting")
			return 1
		case <-time.After(gracefulTimeout):
			ui.Output("Timeout on graceful shutdown, exiting")
			return 1
		case err := <-gracefulCh:
			if err != nil {
				ui.Error(fmt.Sprintf("Error on shutdown: %v", err))
				return 1
			}
			ui.Output("Graceful shutdown complete")
			return 0
		}
	}
}

// reloadConfig reads all config sources again and applies the reloadable
// subset to a.
func reloadConfig(a *agent.Agent, opts config.LoadOpts, logger hclog.Logger) error {
	result, err := config.Load(opts)
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		logger.Named(logging.ConfigLoader).Warn(w)
	}
	return a.ReloadConfig(result.RuntimeConfig.Reloadable())
}

func (c *cmd) Synopsis() string {
	return synopsis
}

func (c *cmd) Help() string {
	return c.help
}

const synopsis = "Runs an xmppd agent"
const help = `
Usage: xmppd agent [options]

  Starts the xmppd agent and runs until an interrupt is received. The agent
  binds client resources for its server domain and delivers stanzas to
  them.

  The configuration is reloaded on SIGHUP and whenever a config file or
  directory changes. SIGUSR1 writes the relay statistics to the output.
`
