// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package logging

// Names of the sub-loggers handed to components with Named.
const (
	Accounts     string = "accounts"
	Agent        string = "agent"
	Broker       string = "broker"
	Components   string = "components"
	ConfigLoader string = "config"
	Delivery     string = "delivery"
	External     string = "external"
	Federation   string = "federation"
	Internal     string = "internal"
	Offline      string = "offline"
	Pool         string = "pool"
	Registry     string = "registry"
	Telemetry    string = "telemetry"
	Watcher      string = "watcher"
)
