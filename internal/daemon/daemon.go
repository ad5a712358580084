package daemon

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/clashchain/internal/config"
	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
	"git.home.luguber.info/inful/clashchain/internal/logfields"
	"git.home.luguber.info/inful/clashchain/internal/observability"
	"git.home.luguber.info/inful/clashchain/internal/service"
)

// Opener builds a service for a configuration. The daemon calls it at start
// and again after every successful configuration reload.
type Opener func(cfg *config.Config) (*service.Service, error)

// Options configures a Daemon.
type Options struct {
	// ConfigPath is watched for changes. Empty disables configuration reloads.
	ConfigPath string
	Config     *config.Config
	Open       Opener
	// Registry is served on /metrics when metrics are enabled in the config.
	Registry *prom.Registry
	Logger   *slog.Logger
}

// Daemon regenerates the runtime configuration whenever its inputs change.
type Daemon struct {
	configPath string
	open       Opener
	registry   *prom.Registry
	log        observability.Logger
	started    time.Time

	// mu guards svc and cfg. Runs hold the read lock so a reload never
	// closes a service that is still generating.
	mu  sync.RWMutex
	svc *service.Service
	cfg *config.Config

	runs     atomic.Int64
	failures atomic.Int64
	last     atomic.Pointer[RunStatus]
}

// RunStatus describes the most recent regeneration.
type RunStatus struct {
	RunID       string    `json:"run_id,omitempty"`
	Trigger     string    `json:"trigger"`
	At          time.Time `json:"at"`
	Degraded    bool      `json:"degraded"`
	FailedUnits []string  `json:"failed_units,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// New validates opts and returns an idle daemon.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil {
		return nil, ferrors.ConfigError("configuration is required").Build()
	}
	if opts.Open == nil {
		return nil, ferrors.InternalError("service opener is required").Build()
	}
	configPath := opts.ConfigPath
	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to resolve config path").Build()
		}
		configPath = abs
	}
	return &Daemon{
		configPath: configPath,
		open:       opts.Open,
		registry:   opts.Registry,
		log:        observability.NewLogger(opts.Logger),
		cfg:        opts.Config,
	}, nil
}

// Run opens the service, generates once and then keeps the runtime file
// current until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	svc, err := d.open(d.cfg)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.svc = svc
	d.mu.Unlock()
	d.started = time.Now()
	defer d.closeService()

	cfg := d.config()
	if err := os.MkdirAll(cfg.ProfilesDir(), 0o755); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create profiles directory").
			WithContext("path", cfg.ProfilesDir()).
			Build()
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	watcher, err := NewWatcher(d.watchDirs(cfg), cfg.WatchDebounce(), d.matcher(cfg), d.onChange)
	if err != nil {
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		watcher.Run(ctx)
	}()

	d.regenerate(ctx, service.TriggerWatch)

	if interval := cfg.WatchInterval(); interval > 0 {
		sched, err := NewScheduler()
		if err != nil {
			return err
		}
		defer func() {
			if err := sched.Stop(); err != nil {
				slog.Warn("Scheduler shutdown failed", logfields.Error(err))
			}
		}()
		if _, err := sched.ScheduleEvery("regenerate", interval, func() { d.regenerate(ctx, service.TriggerSchedule) }); err != nil {
			return err
		}
		sched.Start()
		d.log.InfoContext(ctx, "Periodic regeneration enabled", slog.String("interval", interval.String()))
	}

	if cfg.Metrics.Enabled && d.registry != nil {
		srv, err := startHTTPServer(cfg.Metrics.ListenAddr, d.handler())
		if err != nil {
			return err
		}
		defer srv.Shutdown()
		d.log.InfoContext(ctx, "Metrics listener started", slog.String("addr", srv.Addr()))
	}

	d.log.InfoContext(ctx, "Watching for changes", logfields.Path(cfg.DataDir))
	<-ctx.Done()
	slog.Info("Watch stopped")
	return nil
}

// Status returns the most recent run, or nil before the first one.
func (d *Daemon) Status() *RunStatus { return d.last.Load() }

// Runs returns the number of regenerations attempted and failed.
func (d *Daemon) Runs() (total, failed int64) { return d.runs.Load(), d.failures.Load() }

func (d *Daemon) config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

func (d *Daemon) watchDirs(cfg *config.Config) []string {
	dirs := []string{cfg.DataDir, cfg.ProfilesDir(), filepath.Dir(cfg.BaseConfigPath())}
	if d.configPath != "" {
		dirs = append(dirs, filepath.Dir(d.configPath))
	}
	return dirs
}

// matcher accepts the base configuration, the profile index, profile sources
// and the app config file. Hidden files are temporaries of atomic writes.
func (d *Daemon) matcher(cfg *config.Config) func(string) bool {
	base, _ := filepath.Abs(cfg.BaseConfigPath())
	index, _ := filepath.Abs(cfg.ProfilesIndexPath())
	profiles, _ := filepath.Abs(cfg.ProfilesDir())
	return func(path string) bool {
		if strings.HasPrefix(filepath.Base(path), ".") {
			return false
		}
		switch {
		case path == base, path == index, path == d.configPath:
			return true
		case filepath.Dir(path) == profiles:
			return true
		}
		return false
	}
}

func (d *Daemon) onChange(ctx context.Context, paths []string) {
	d.log.InfoContext(ctx, "Inputs changed", slog.Int("files", len(paths)), slog.String("paths", strings.Join(paths, ",")))
	if d.configPath != "" && slices.Contains(paths, d.configPath) {
		if err := d.reload(ctx); err != nil {
			d.log.ErrorContext(ctx, "Configuration reload failed, keeping previous configuration", logfields.Error(err))
		}
	}
	d.regenerate(ctx, service.TriggerWatch)
}

// reload loads the configuration file and swaps in a service built from it.
// Watched directories are fixed at start; a changed data_dir needs a restart.
func (d *Daemon) reload(ctx context.Context) error {
	cfg, err := config.Load(d.configPath)
	if err != nil {
		return err
	}
	svc, err := d.open(cfg)
	if err != nil {
		return err
	}

	d.mu.Lock()
	old, oldCfg := d.svc, d.cfg
	d.svc, d.cfg = svc, cfg
	d.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			d.log.WarnContext(ctx, "Failed to close previous service", logfields.Error(err))
		}
	}
	if oldCfg.DataDir != cfg.DataDir {
		d.log.WarnContext(ctx, "data_dir changed, restart to watch the new location", logfields.Path(cfg.DataDir))
	}
	d.log.InfoContext(ctx, "Configuration reloaded", logfields.Path(d.configPath))
	return nil
}

// regenerate applies the chain once and records the outcome.
func (d *Daemon) regenerate(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.svc == nil {
		return
	}

	d.runs.Add(1)
	status := &RunStatus{Trigger: trigger, At: time.Now()}
	report, err := d.svc.Apply(ctx, trigger)
	if report != nil && report.Result != nil {
		status.RunID = report.Result.RunID
		status.Degraded = report.Result.Degraded()
		status.FailedUnits = report.Result.FailedUnits()
	}
	if err != nil {
		d.failures.Add(1)
		status.Error = err.Error()
		d.log.ErrorContext(observability.WithTrigger(ctx, trigger), "Regeneration failed", logfields.Error(err))
	}
	d.last.Store(status)
}

func (d *Daemon) closeService() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.svc == nil {
		return
	}
	if err := d.svc.Close(); err != nil {
		slog.Warn("Failed to close service", logfields.Error(err))
	}
	d.svc = nil
}
