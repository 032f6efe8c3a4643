// Package config provides configuration management for the acond tools.
//
// This package manages a YAML configuration file shared by acondctl and
// acond-server: how to reach the controller, the polling cadence, the API
// server, the optional MQTT bridge and history store, discovery settings and
// the controllers found by earlier scans.
//
// # Configuration File Location
//
//   - Linux: $XDG_CONFIG_HOME/acond/config.yaml or $HOME/.config/acond/config.yaml
//   - macOS: $HOME/.config/acond/config.yaml
//   - Windows: %LOCALAPPDATA%\acond\config.yaml
//
// ACOND_CONFIG or the --config flag point at another file.
//
// # Security
//
// IMPORTANT: This package NEVER stores passwords. The file may name a
// password_file; otherwise the password comes from a flag or environment
// variable. An inline "password" key is rejected by the parser.
//
// # Usage Example
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.ApplyEnv()
//	if err := cfg.ValidateDevice(); err != nil {
//	    log.Fatal(err)
//	}
//	password, err := cfg.ResolvePassword(flagPassword)
//
// Save writes atomically (temporary file plus rename) with 0600 permissions.
package config
