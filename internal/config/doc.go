// Package config defines the alarmd settings and provides helpers to load,
// validate and save them in YAML format.
//
// Validate fills defaults, so a zero Config describes a working daemon.
package config
