// Package common holds helpers shared by several services.
//
// It provides a gRPC client for the alarmd admin service with call timeouts,
// and detects the current system actor (username@hostname) sent with every
// call for the daemon's audit log.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
