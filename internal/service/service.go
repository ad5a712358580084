package service

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"git.home.luguber.info/inful/clashchain/internal/config"
	"git.home.luguber.info/inful/clashchain/internal/document"
	"git.home.luguber.info/inful/clashchain/internal/enhance"
	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
	"git.home.luguber.info/inful/clashchain/internal/history"
	"git.home.luguber.info/inful/clashchain/internal/logfields"
	"git.home.luguber.info/inful/clashchain/internal/metrics"
	"git.home.luguber.info/inful/clashchain/internal/notify"
	"git.home.luguber.info/inful/clashchain/internal/observability"
	"git.home.luguber.info/inful/clashchain/internal/output"
	"git.home.luguber.info/inful/clashchain/internal/profile"
	"git.home.luguber.info/inful/clashchain/internal/state"
)

// Triggers name what started a run.
const (
	TriggerCLI      = "cli"
	TriggerInit     = "init"
	TriggerWatch    = "watch"
	TriggerSchedule = "schedule"
)

// Options configures a Service. Zero-value collaborators fall back to no-ops.
type Options struct {
	Config    *config.Config
	Logger    *slog.Logger
	Metrics   metrics.Recorder
	History   history.Store
	Publisher notify.Publisher
}

// Service is the application context.
type Service struct {
	cfg       *config.Config
	profiles  *profile.Store
	engine    *enhance.Engine
	state     *state.Store
	writer    *output.Writer
	history   history.Store
	publisher notify.Publisher
	log       observability.Logger
}

// Report describes one generate call.
type Report struct {
	Result *enhance.Result
	// LoadErrors lists profile items excluded from the chain.
	LoadErrors []error
	// Published is false when a newer run had already published.
	Published bool
	// Path is the file written, if any.
	Path string
}

// New wires a service from explicit collaborators.
func New(opts Options) (*Service, error) {
	if opts.Config == nil {
		return nil, ferrors.ConfigError("configuration is required").Build()
	}
	cfg := opts.Config
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	pub := opts.Publisher
	if pub == nil {
		pub = notify.Noop{}
	}
	defaults, err := cfg.DefaultsDocument()
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:       cfg,
		profiles:  profile.Open(cfg.ProfilesIndexPath(), cfg.ProfilesDir(), profile.WithLogger(opts.Logger)),
		engine:    enhance.New(enhance.Options{Defaults: defaults, Logger: opts.Logger, Metrics: rec}),
		state:     state.NewStore(state.WithMetrics(rec)),
		writer:    output.NewWriter(cfg.RunFilePath(), cfg.CheckFilePath()),
		history:   opts.History,
		publisher: pub,
		log:       observability.NewLogger(opts.Logger),
	}, nil
}

// Open builds a service with the history database and NATS publisher the
// configuration asks for. A NATS connection failure is logged and the service
// runs without notifications.
func Open(cfg *config.Config, logger *slog.Logger, rec metrics.Recorder) (*Service, error) {
	opts := Options{Config: cfg, Logger: logger, Metrics: rec}
	if cfg.HistoryEnabled() {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create data directory").
				WithContext("path", cfg.DataDir).
				Build()
		}
		h, err := history.NewSQLiteStore(cfg.HistoryPath())
		if err != nil {
			return nil, err
		}
		opts.History = h
	}
	if cfg.Notify.URL != "" {
		pub, err := notify.NewNATSPublisher(cfg.Notify.URL, cfg.Notify.Subject, cfg.NotifyRetryPolicy())
		if err != nil {
			observability.NewLogger(logger).WarnContext(context.Background(), "Notifications disabled", logfields.Error(err))
		} else {
			opts.Publisher = pub
		}
	}
	svc, err := New(opts)
	if err != nil {
		if opts.History != nil {
			_ = opts.History.Close()
		}
		return nil, err
	}
	return svc, nil
}

// Close releases the history database and the NATS connection.
func (s *Service) Close() error {
	s.publisher.Close()
	if s.history != nil {
		return s.history.Close()
	}
	return nil
}

func (s *Service) Config() *config.Config   { return s.cfg }
func (s *Service) Profiles() *profile.Store { return s.profiles }
func (s *Service) State() *state.Store      { return s.state }
func (s *Service) Writer() *output.Writer   { return s.writer }
func (s *Service) History() history.Store   { return s.history }

// readBase returns the base configuration. A missing file is an empty base.
func (s *Service) readBase(ctx context.Context) ([]byte, error) {
	path := s.cfg.BaseConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.WarnContext(ctx, "Base configuration missing, starting from an empty document", logfields.Path(path))
			return nil, nil
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to read base configuration").
			WithContext("path", path).
			Build()
	}
	return data, nil
}

// run loads the chain and executes it without publishing.
func (s *Service) run(ctx context.Context) (*enhance.Result, []error, error) {
	base, err := s.readBase(ctx)
	if err != nil {
		return nil, nil, err
	}
	loaded, err := s.profiles.Load(s.cfg.ScriptOptions())
	if err != nil {
		return nil, nil, err
	}
	for _, lerr := range loaded.Errors {
		s.log.WarnContext(ctx, "Profile excluded from chain", logfields.Error(lerr))
	}
	res, err := s.engine.Run(ctx, base, loaded.Registry, s.cfg.Flags())
	if err != nil {
		return nil, loaded.Errors, err
	}
	return res, loaded.Errors, nil
}

// Generate runs the pipeline and publishes the result to the runtime state.
// The run is recorded in history when a history store is configured.
func (s *Service) Generate(ctx context.Context, trigger string) (*Report, error) {
	ctx = observability.WithTrigger(ctx, trigger)
	seq := s.state.Begin()

	res, loadErrs, err := s.run(ctx)
	if err != nil {
		return &Report{LoadErrors: loadErrs}, err
	}
	ctx = observability.WithRunID(ctx, res.RunID)
	if err := ctx.Err(); err != nil {
		s.log.WarnContext(ctx, "Run abandoned before publishing", logfields.Error(err))
		return &Report{LoadErrors: loadErrs}, ferrors.WrapError(err, ferrors.CategoryRuntime, "run abandoned").
			WithContext("run_id", res.RunID).
			Build()
	}

	published := s.state.Publish(seq, res)
	if !published {
		s.log.InfoContext(ctx, "Newer run already published, result discarded", logfields.Sequence(seq))
	}
	s.record(ctx, res, trigger)

	return &Report{Result: res, LoadErrors: loadErrs, Published: published}, nil
}

// GenerateFile writes the latest runtime document to the run or check path.
func (s *Service) GenerateFile(kind output.Kind) (string, error) {
	doc, ok := s.state.Document()
	if !ok {
		return "", ferrors.RuntimeError("no runtime configuration has been generated").
			WithContext("kind", string(kind)).
			Build()
	}
	return s.writer.Write(kind, doc)
}

// Apply generates, writes the run file and announces the run.
func (s *Service) Apply(ctx context.Context, trigger string) (*Report, error) {
	report, err := s.Generate(ctx, trigger)
	if err != nil {
		return report, err
	}
	if !report.Published {
		return report, nil
	}
	path, err := s.writer.Write(output.KindRun, report.Result.Document)
	if err != nil {
		return report, err
	}
	report.Path = path

	ctx = observability.WithRunID(observability.WithTrigger(ctx, trigger), report.Result.RunID)
	s.log.InfoContext(ctx, "Runtime configuration written", logfields.Path(path))
	if err := s.publisher.Publish(ctx, notify.NewEvent(report.Result, trigger, path)); err != nil {
		s.log.WarnContext(ctx, "Failed to publish run event", logfields.Error(err))
	}
	return report, nil
}

// Check runs the pipeline and writes the result to the check path. The
// runtime state, the run file and the history are left alone.
func (s *Service) Check(ctx context.Context) (*Report, error) {
	ctx = observability.WithTrigger(ctx, TriggerCLI)
	res, loadErrs, err := s.run(ctx)
	if err != nil {
		return &Report{LoadErrors: loadErrs}, err
	}
	path, err := s.writer.Write(output.KindCheck, res.Document)
	if err != nil {
		return &Report{Result: res, LoadErrors: loadErrs}, err
	}
	return &Report{Result: res, LoadErrors: loadErrs, Path: path}, nil
}

// Init provisions the implicit profiles and produces the run file. If that
// fails and no run file exists yet, the base configuration is written as-is
// so the proxy core still has something to start with.
func (s *Service) Init(ctx context.Context) (*Report, error) {
	ctx = observability.WithTrigger(ctx, TriggerInit)
	if _, err := s.profiles.Provision(); err != nil {
		return nil, err
	}
	report, err := s.Apply(ctx, TriggerInit)
	if err == nil {
		return report, nil
	}
	s.log.ErrorContext(ctx, "Initial generation failed", logfields.Error(err))
	if s.writer.Exists(output.KindRun) {
		return report, err
	}
	path, ferr := s.writeFallback(ctx)
	if ferr != nil {
		return report, errors.Join(err, ferr)
	}
	s.log.WarnContext(ctx, "Wrote base configuration as runtime fallback", logfields.Path(path))
	if report == nil {
		report = &Report{}
	}
	report.Path = path
	return report, nil
}

// writeFallback copies the base configuration to the run path under the
// fallback header. Unparseable bases are copied byte for byte.
func (s *Service) writeFallback(ctx context.Context) (string, error) {
	base, err := s.readBase(ctx)
	if err != nil {
		return "", err
	}
	if doc, perr := document.Parse(base); perr == nil {
		return s.writer.WriteWithHeader(output.KindRun, doc, output.FallbackHeader)
	}
	data := append([]byte("# "+output.FallbackHeader+"\n"), base...)
	return s.writer.WriteRaw(output.KindRun, data)
}

func (s *Service) record(ctx context.Context, res *enhance.Result, trigger string) {
	if s.history == nil {
		return
	}
	if err := s.history.Record(ctx, history.FromResult(res, trigger)); err != nil {
		s.log.WarnContext(ctx, "Failed to record run history", logfields.Error(err))
		return
	}
	if keep := s.cfg.History.Keep; keep > 0 {
		if _, err := s.history.Prune(ctx, keep); err != nil {
			s.log.WarnContext(ctx, "Failed to prune run history", logfields.Error(err))
		}
	}
}
