// Package client implements the one-shot alarmctl commands.
//
// Each command connects to the daemon's admin service, performs one call
// and prints the result: counters and tables as JSON, acknowledgements as a
// single line.
package client
