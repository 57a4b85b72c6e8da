// Package version exposes build metadata for alarmd and alarmctl.
//
// Variables Version, Commit, and BuildTime are injected at build time via
// Go ldflags. Short and Full render them for CLI output, KV for logs.
package version
