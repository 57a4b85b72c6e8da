// Package checker implements "alarmctl watch": it polls the daemon stats on
// an interval and logs them until canceled or the daemon shuts down.
package checker
