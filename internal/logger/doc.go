// Package logger wraps a global zap sugared logger with a console encoder.
//
// Components log through the context they are given: WithName and WithKV
// scope the logger stored in a context, and the package-level functions
// (InfoKV, ErrorKV and friends) resolve it with FromContext. The scheduler,
// the worker pool and the lock manager rely on this so every line carries
// the component name.
package logger
