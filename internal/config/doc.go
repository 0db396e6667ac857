// Package config handles configuration loading for gatewaykit.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Files ending in .toml are decoded as TOML; anything else is
// YAML. Missing values take the defaults of the packages they configure.
//
// # Configuration File
//
// Locations, in order:
//
//  1. The --config flag
//  2. Path from GATEWAYKIT_CONFIG
//  3. $XDG_CONFIG_HOME/gatewaykit/config.yaml (~/.config when unset)
//
// # Environment Variable Expansion
//
//	gateway:
//	  token: "${GATEWAYKIT_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Durations use time.ParseDuration syntax:
//
//	gateway:
//	  handshake_timeout: "10s"
//	resume:
//	  min_backoff: "1s"
//	  max_backoff: "30s"
//
// # Configuration Sections
//
//	gateway:
//	  url: "wss://gateway.discord.gg/?v=10&encoding=json"  # empty: ask the REST API
//	  token: "${GATEWAYKIT_TOKEN}"
//	  intents: ["guilds", "guild_messages", "message_content"]
//	  shard: {id: 0, count: 1}
//	  large_threshold: 50
//	  handshake_timeout: "10s"
//	  close_timeout: "5s"
//
//	feed:
//	  policy: "block"   # block, drop_oldest, unbounded
//	  size: 256
//
//	resume:
//	  enabled: true
//	  database: "~/.local/state/gatewaykit/resume.db"
//	  dedupe_ttl: "5m"
//
//	rest:
//	  base_url: "https://discord.com/api/v10"
//	  max_retries: 3
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  addr: "127.0.0.1:9464"
//	  path: "/metrics"
//
// # Usage
//
//	cfg, err := config.Load(config.ResolvePath(flagValue))
//	if err != nil {
//	    return err
//	}
//	sessCfg, err := cfg.SessionConfig()
package config
