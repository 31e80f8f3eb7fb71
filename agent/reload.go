// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/xmppd/xmppd/agent/config"
	"github.com/xmppd/xmppd/logging"
)

// ConfigReloader is a function type which may be implemented to support reloading
// of configuration.
type ConfigReloader func(cfg config.ReloadableConfig) error

// ReloadConfig applies the reloadable subset of newCfg. Every reloader runs
// even if an earlier one failed.
func (a *Agent) ReloadConfig(newCfg config.ReloadableConfig) error {
	a.reloadLock.Lock()
	defer a.reloadLock.Unlock()

	var merr error
	for _, r := range a.configReloaders {
		if err := r(newCfg); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr
}

func reloadLogLevel(logger hclog.InterceptLogger) ConfigReloader {
	return func(cfg config.ReloadableConfig) error {
		if cfg.LogLevel == "" {
			return nil
		}
		if !logging.ValidateLogLevel(cfg.LogLevel) {
			return fmt.Errorf("invalid log level %q", cfg.LogLevel)
		}
		logger.SetLevel(logging.LevelFromString(cfg.LogLevel))
		return nil
	}
}
