package state

import (
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/clashchain/internal/document"
	"git.home.luguber.info/inful/clashchain/internal/enhance"
	"git.home.luguber.info/inful/clashchain/internal/metrics"
)

// Snapshot is one published result.
type Snapshot struct {
	Sequence    uint64
	Result      *enhance.Result
	PublishedAt time.Time
}

// Store publishes results by atomic pointer swap. Readers always see either
// the previous snapshot or the next one, never a partial update.
type Store struct {
	seq     atomic.Uint64
	current atomic.Pointer[Snapshot]
	metrics metrics.Recorder
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics records discarded publishes.
func WithMetrics(r metrics.Recorder) Option {
	return func(s *Store) {
		if r != nil {
			s.metrics = r
		}
	}
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{metrics: metrics.NoopRecorder{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin reserves the sequence number for a run about to start.
func (s *Store) Begin() uint64 {
	return s.seq.Add(1)
}

// Publish installs res under seq unless a run that began later has already
// published. It reports whether res became the latest snapshot.
func (s *Store) Publish(seq uint64, res *enhance.Result) bool {
	if res == nil {
		return false
	}
	next := &Snapshot{Sequence: seq, Result: res, PublishedAt: time.Now()}
	for {
		cur := s.current.Load()
		if cur != nil && cur.Sequence >= seq {
			s.metrics.IncPublishSkipped()
			return false
		}
		if s.current.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// Latest returns the current snapshot, if any run has published.
func (s *Store) Latest() (*Snapshot, bool) {
	snap := s.current.Load()
	return snap, snap != nil
}

// Document returns a private copy of the latest runtime document.
func (s *Store) Document() (*document.Document, bool) {
	snap := s.current.Load()
	if snap == nil {
		return nil, false
	}
	return snap.Result.Document.Clone(), true
}
