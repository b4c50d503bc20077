// Package config handles configuration loading for openhands-slack.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	slack:
//	  app_token: "${SLACK_APP_TOKEN}"
//	  bot_token: "${SLACK_BOT_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Timing values use Go's time.ParseDuration syntax:
//
//	bridge:
//	  connect_timeout: "5s"
//	  ready_timeout: "2m"
//	  settle_delay: "5s"
//	  fallback_delay: "1s"
//
// # Configuration Sections
//
// Slack credentials and channel filtering:
//
//	slack:
//	  app_token: "${SLACK_APP_TOKEN}"   # xapp-... socket mode token
//	  bot_token: "${SLACK_BOT_TOKEN}"   # xoxb-... bot token
//	  allowed_channels: []              # empty means all channels
//
// OpenHands backend and conversation settings:
//
//	openhands:
//	  base_url: "http://localhost:3000"
//	  model: "lm_studio/devstral-small-2505"
//	  model_base_url: "http://host.docker.internal:1234/v1/"
//	  api_key: "dummy-api-key"
//	  agent: "CodeActAgent"
//	  github_token: "${GITHUB_TOKEN}"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("/etc/openhands-slack/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
