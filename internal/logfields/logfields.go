// Package logfields holds the canonical slog attribute names used by clashchain.
package logfields

import (
	"log/slog"
	"strings"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyUnit       = "unit"
	KeyUnitKind   = "unit_kind"
	KeyOutcome    = "outcome"
	KeyProfile    = "profile"
	KeyDurationMS = "duration_ms"
	KeyTouched    = "touched"
	KeyPath       = "path"
	KeyTrigger    = "trigger"
	KeySequence   = "sequence"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func Unit(name string) slog.Attr      { return slog.String(KeyUnit, name) }
func UnitKind(kind string) slog.Attr  { return slog.String(KeyUnitKind, kind) }
func Outcome(o string) slog.Attr      { return slog.String(KeyOutcome, o) }
func Profile(uid string) slog.Attr    { return slog.String(KeyProfile, uid) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Trigger(t string) slog.Attr      { return slog.String(KeyTrigger, t) }
func Sequence(seq uint64) slog.Attr   { return slog.Uint64(KeySequence, seq) }
func Touched(keys []string) slog.Attr { return slog.String(KeyTouched, strings.Join(keys, ",")) }

// Duration reports d in fractional milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d)/float64(time.Millisecond))
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
