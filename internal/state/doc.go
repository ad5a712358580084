// Package state holds the runtime state: the most recent successful
// enhancement result.
//
// The Store is owned by the application service and injected wherever the
// latest result is needed; there is no package-level instance. Every run takes
// a sequence number from Begin before it starts and hands it back to Publish.
// A result carrying an older sequence than the one already published is
// dropped, so a slow run can never overwrite the output of a newer one.
package state
