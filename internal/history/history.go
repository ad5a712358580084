// Package history records enhancement runs in SQLite so their chain logs can
// be inspected after the fact.
package history

import (
	"context"
	"time"

	"git.home.luguber.info/inful/clashchain/internal/chain"
	"git.home.luguber.info/inful/clashchain/internal/enhance"
)

// Run is one recorded enhancement run.
type Run struct {
	ID          string        `json:"id"`
	Trigger     string        `json:"trigger"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Fingerprint string        `json:"fingerprint"`
	TouchedKeys []string      `json:"touched_keys"`
	FailedUnits []string      `json:"failed_units,omitempty"`
	Logs        []chain.Log   `json:"logs"`
}

// FromResult converts an engine result into a history row.
func FromResult(res *enhance.Result, trigger string) Run {
	return Run{
		ID:          res.RunID,
		Trigger:     trigger,
		StartedAt:   res.StartedAt,
		Duration:    res.Duration,
		Fingerprint: res.Fingerprint,
		TouchedKeys: res.TouchedKeys,
		FailedUnits: res.FailedUnits(),
		Logs:        res.Logs,
	}
}

// Store persists runs.
type Store interface {
	Record(ctx context.Context, run Run) error
	Get(ctx context.Context, id string) (Run, error)
	Latest(ctx context.Context) (Run, error)
	List(ctx context.Context, limit int) ([]Run, error)
	Prune(ctx context.Context, keep int) (int64, error)
	Close() error
}
