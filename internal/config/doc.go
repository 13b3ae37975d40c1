// Package config handles configuration loading for parley.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Every tunable has a default (see Default); Validate rejects anything the
// server cannot run with.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from PARLEY_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/parley/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	models:
//	  providers:
//	    - name: gpt
//	      api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	streaming:
//	  keepalive_interval: "15s"
//	  cancel_poll_interval: "2s"
//	  fake_chunk_delay: "15ms"
//
// The keep-alive interval and the cancellation poll interval are independent.
package config
