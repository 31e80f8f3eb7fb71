// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

// DefaultSource is the default agent configuration. It is the first source
// merged so every other source overrides it.
func DefaultSource() Source {
	return FileSource{
		Name:   "default",
		Format: "hcl",
		Data: `
		server_name = "localhost"
		data_dir = ""

		log_level = "INFO"
		log_json = false
		log_rotate_duration = "24h"
		log_rotate_bytes = 0
		log_rotate_max_files = 0
		enable_syslog = false
		syslog_facility = "LOCAL0"

		delivery = {
			highest_priority_only = false
			bounce_rate = 0
			bounce_burst = 1
			internal = {
				core_workers = 10
				max_workers = 20
				idle_timeout = "120s"
			}
			external = {
				core_workers = 10
				max_workers = 20
				idle_timeout = "120s"
			}
		}

		federation = {
			enabled = false
			dial_timeout = "10s"
			resolve_timeout = "5s"
			connector_ttl = "5m"
		}

		offline = {
			enabled = false
		}

		accounts = {
			cache_size = 4096
		}

		telemetry = {
			disable_hostname = false
			metrics_prefix = "xmppd"
			prometheus_retention_time = "0s"
			filter_default = true
		}
	`,
	}
}
