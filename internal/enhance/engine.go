package enhance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/clashchain/internal/chain"
	"git.home.luguber.info/inful/clashchain/internal/document"
	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
	"git.home.luguber.info/inful/clashchain/internal/logfields"
	"git.home.luguber.info/inful/clashchain/internal/metrics"
	"git.home.luguber.info/inful/clashchain/internal/observability"
)

// Result is the immutable outcome of one run. Document is shared with the
// runtime state; callers that want to modify it must Clone it first.
type Result struct {
	RunID       string             `json:"run_id"`
	Document    *document.Document `json:"-"`
	TouchedKeys []string           `json:"touched_keys"`
	Logs        []chain.Log        `json:"logs"`
	StartedAt   time.Time          `json:"started_at"`
	Duration    time.Duration      `json:"duration"`
	Fingerprint string             `json:"fingerprint"`
}

// FailedUnits returns the names of units that failed, in run order.
func (r *Result) FailedUnits() []string {
	var failed []string
	for _, l := range r.Logs {
		if l.Failed() {
			failed = append(failed, l.Unit)
		}
	}
	return failed
}

// Degraded reports whether at least one unit failed.
func (r *Result) Degraded() bool {
	return len(r.FailedUnits()) > 0
}

// Touched reports whether key was modified by any successful unit.
func (r *Result) Touched(key string) bool {
	i := sort.SearchStrings(r.TouchedKeys, key)
	return i < len(r.TouchedKeys) && r.TouchedKeys[i] == key
}

// Options configures an Engine.
type Options struct {
	// Defaults are the structural defaults applied by the defaults unit.
	Defaults *document.Document
	Logger   *slog.Logger
	Metrics  metrics.Recorder
}

// Engine runs chains. It holds no per-run state, so one Engine may serve
// concurrent runs.
type Engine struct {
	defaults *document.Document
	log      observability.Logger
	metrics  metrics.Recorder
}

// New creates an Engine.
func New(opts Options) *Engine {
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	defaults := opts.Defaults
	if defaults != nil {
		defaults = defaults.Clone()
	}
	return &Engine{
		defaults: defaults,
		log:      observability.NewLogger(opts.Logger),
		metrics:  rec,
	}
}

// Run parses base and folds the effective chain over it.
func (e *Engine) Run(ctx context.Context, base []byte, reg *chain.Registry, flags chain.Flags) (*Result, error) {
	doc, err := document.Parse(base)
	if err != nil {
		e.metrics.IncRunOutcome(metrics.RunFatal)
		return nil, ferrors.WrapError(err, ferrors.CategoryDocument, "base configuration cannot be loaded").
			Fatal().
			UserAction().
			Build()
	}
	return e.RunDocument(ctx, doc, reg, flags)
}

// RunDocument folds the effective chain over a copy of base. base itself is
// never modified.
func (e *Engine) RunDocument(ctx context.Context, base *document.Document, reg *chain.Registry, flags chain.Flags) (*Result, error) {
	if base == nil {
		e.metrics.IncRunOutcome(metrics.RunFatal)
		return nil, ferrors.DocumentError("base configuration is missing").Build()
	}
	if err := base.Validate(); err != nil {
		e.metrics.IncRunOutcome(metrics.RunFatal)
		return nil, ferrors.WrapError(err, ferrors.CategoryDocument, "base configuration is invalid").
			Fatal().
			UserAction().
			Build()
	}

	startedAt := time.Now()
	runID := uuid.NewString()
	ctx = observability.WithRunID(ctx, runID)

	units := reg.Effective(e.defaults, flags)
	current := base.Clone()
	touched := make(map[string]struct{})
	logs := make([]chain.Log, 0, len(units))

	e.log.DebugContext(ctx, "Run started", slog.Int("units", len(units)), slog.Bool("tun", flags.TunEnabled))

	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return nil, e.abandon(ctx, runID, u.Name(), err)
		}
		log, next := e.apply(ctx, u, current)
		logs = append(logs, log)
		current = next
		for _, k := range log.Changed {
			touched[k] = struct{}{}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, e.abandon(ctx, runID, "", err)
	}

	fingerprint, err := current.Fingerprint()
	if err != nil {
		e.metrics.IncRunOutcome(metrics.RunFatal)
		return nil, ferrors.WrapError(err, ferrors.CategoryInternal, "failed to fingerprint run result").
			WithContext("run_id", runID).
			Build()
	}

	keys := make([]string, 0, len(touched))
	for k := range touched {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	res := &Result{
		RunID:       runID,
		Document:    current,
		TouchedKeys: keys,
		Logs:        logs,
		StartedAt:   startedAt,
		Duration:    time.Since(startedAt),
		Fingerprint: fingerprint,
	}

	outcome := metrics.RunSuccess
	if res.Degraded() {
		outcome = metrics.RunDegraded
	}
	e.metrics.ObserveRunDuration(res.Duration)
	e.metrics.IncRunOutcome(outcome)
	e.metrics.SetTouchedKeys(len(keys))
	e.log.InfoContext(ctx, "Run completed",
		logfields.Outcome(string(outcome)),
		logfields.Touched(keys),
		logfields.Duration(res.Duration))
	return res, nil
}

// apply runs one unit on a clone of input. On failure the returned document is
// input itself, so the next unit sees exactly what this one was given.
func (e *Engine) apply(ctx context.Context, u chain.Unit, input *document.Document) (chain.Log, *document.Document) {
	ctx = observability.WithUnit(ctx, u.Name())
	rec := chain.NewRecorder()
	start := time.Now()

	out, err := safeApply(ctx, u, input.Clone(), rec)
	if err == nil {
		err = checkOutput(out)
	}

	log := chain.Log{Unit: u.Name(), Kind: u.Kind(), Duration: time.Since(start)}
	kind := string(u.Kind())
	e.metrics.ObserveUnitDuration(kind, log.Duration)

	if err != nil {
		rec.Error("%s", err.Error())
		log.Outcome = chain.OutcomeFailed
		log.Entries = rec.Close()
		e.metrics.IncUnitResult(kind, metrics.ResultFailed)
		e.log.WarnContext(ctx, "Unit failed, continuing with its input",
			logfields.UnitKind(kind),
			logfields.Duration(log.Duration),
			logfields.Error(err))
		return log, input
	}

	log.Outcome = chain.OutcomeSuccess
	log.Changed = document.ChangedKeys(input, out)
	log.Entries = rec.Close()
	e.metrics.IncUnitResult(kind, metrics.ResultSuccess)
	e.log.DebugContext(ctx, "Unit applied",
		logfields.UnitKind(kind),
		logfields.Touched(log.Changed),
		logfields.Duration(log.Duration))
	return log, out
}

func (e *Engine) abandon(ctx context.Context, runID, next string, cause error) error {
	e.metrics.IncRunOutcome(metrics.RunCanceled)
	e.log.WarnContext(ctx, "Run abandoned", logfields.Error(cause))
	b := ferrors.WrapError(cause, ferrors.CategoryRuntime, "run abandoned").WithContext("run_id", runID)
	if next != "" {
		b = b.WithContext("next_unit", next)
	}
	return b.Build()
}

// safeApply turns a panicking unit into a unit failure.
func safeApply(ctx context.Context, u chain.Unit, doc *document.Document, rec *chain.Recorder) (out *document.Document, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = ferrors.ChainError("unit panicked").
				WithContext("unit", u.Name()).
				WithCause(fmt.Errorf("%v", p)).
				Build()
		}
	}()
	return u.Apply(ctx, doc, rec)
}

func checkOutput(out *document.Document) error {
	if out == nil {
		return ferrors.ChainError("unit returned no document").Build()
	}
	if err := out.Validate(); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryChain, "unit produced an invalid document").Build()
	}
	return nil
}
