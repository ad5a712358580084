package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"git.home.luguber.info/inful/clashchain/internal/document"
)

// Kind tags a unit's transformation type.
type Kind string

const (
	KindMerge   Kind = "merge"
	KindScript  Kind = "script"
	KindBuiltin Kind = "builtin"
)

// ParseKind maps a profile type string onto a Kind.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindMerge, KindScript:
		return Kind(s), true
	default:
		return "", false
	}
}

// Unit is a single named transformation step.
//
// Apply receives a document the unit owns outright and returns the document to
// hand to the next unit. A non-nil error marks the unit as failed; the engine
// then discards the returned document and continues with the unit's input.
type Unit interface {
	Name() string
	Kind() Kind
	Apply(ctx context.Context, doc *document.Document, rec *Recorder) (*document.Document, error)
}

// Flags are the externally configured toggles consumed by the built-in units.
type Flags struct {
	TunEnabled bool
}

// Level is the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Outcome is the result of applying one unit.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Entry is one diagnostic message.
type Entry struct {
	Level   Level  `json:"level" yaml:"level"`
	Message string `json:"message" yaml:"message"`
}

// Log is the diagnostic trail of one unit within one run.
type Log struct {
	Unit     string        `json:"unit" yaml:"unit"`
	Kind     Kind          `json:"kind" yaml:"kind"`
	Outcome  Outcome       `json:"outcome" yaml:"outcome"`
	Changed  []string      `json:"changed,omitempty" yaml:"changed,omitempty"`
	Entries  []Entry       `json:"entries,omitempty" yaml:"entries,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Failed reports whether the unit failed.
func (l Log) Failed() bool { return l.Outcome == OutcomeFailed }

// Recorder collects entries for one unit. It is safe for concurrent use; once
// closed it silently drops further entries, so a script that outlives its time
// bound cannot write into a finished log.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
	closed  bool
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(level Level, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.entries = append(r.entries, Entry{Level: level, Message: msg})
}

func (r *Recorder) Info(format string, args ...any)  { r.add(LevelInfo, format, args...) }
func (r *Recorder) Warn(format string, args ...any)  { r.add(LevelWarn, format, args...) }
func (r *Recorder) Error(format string, args ...any) { r.add(LevelError, format, args...) }

// Close stops accepting entries and returns what was collected.
func (r *Recorder) Close() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
