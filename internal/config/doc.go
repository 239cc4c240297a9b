// Package config resolves the gateway's startup configuration.
//
// Resolution order, later sources winning:
//
//  1. Built-in defaults (GetDefaultConfig)
//  2. config.yaml in the configuration directory
//  3. TOOLGATE_* environment variables
//
// The resolved configuration is validated once and then treated as
// immutable for the process lifetime.
package config
