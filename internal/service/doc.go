// Package service is the application context: it owns the profile store,
// engine, runtime state, writer, history, notifier and metrics, and exposes
// the operations the CLI and the daemon call.
package service
