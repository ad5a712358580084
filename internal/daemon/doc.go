// Package daemon keeps the runtime configuration current while the watch
// command runs. Input changes are picked up with fsnotify and debounced, an
// optional gocron job regenerates on a fixed interval, and an optional HTTP
// listener serves Prometheus metrics and a health document.
package daemon
