// Package metrics provides the observability hooks for enhancement runs.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so call sites never check for nil:
//
//	engine := enhance.New(enhance.Options{Metrics: metrics.NoopRecorder{}})
//
// When the daemon exposes a metrics endpoint it swaps in a PrometheusRecorder
// registered on its own registry and serves it with HTTPHandler.
package metrics
