// Package logger wraps zap to give the updater binaries:
//   - a global sugared logger with a console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level configuration and parsing,
//   - convenience functions (Infof, WarnKV, ErrorKV, etc.).
//
// Components receive a context and log through the logger stored in it, so
// per-cycle and per-artifact fields follow the work without extra plumbing.
package logger
