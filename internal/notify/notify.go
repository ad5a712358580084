// Package notify announces finished runs to other processes over NATS.
package notify

import (
	"context"
	"time"

	"git.home.luguber.info/inful/clashchain/internal/enhance"
)

// Event is the JSON payload published for each run.
type Event struct {
	RunID       string    `json:"run_id"`
	Trigger     string    `json:"trigger"`
	StartedAt   time.Time `json:"started_at"`
	DurationMS  float64   `json:"duration_ms"`
	Fingerprint string    `json:"fingerprint"`
	TouchedKeys []string  `json:"touched_keys"`
	FailedUnits []string  `json:"failed_units,omitempty"`
	Degraded    bool      `json:"degraded"`
	Path        string    `json:"path,omitempty"`
}

// NewEvent summarizes res. path is the file the result was written to, if any.
func NewEvent(res *enhance.Result, trigger, path string) Event {
	failed := res.FailedUnits()
	return Event{
		RunID:       res.RunID,
		Trigger:     trigger,
		StartedAt:   res.StartedAt,
		DurationMS:  float64(res.Duration) / float64(time.Millisecond),
		Fingerprint: res.Fingerprint,
		TouchedKeys: res.TouchedKeys,
		FailedUnits: failed,
		Degraded:    len(failed) > 0,
		Path:        path,
	}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close()
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close()                               {}
