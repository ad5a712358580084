package commands

import (
	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/clashchain/internal/config"
	"git.home.luguber.info/inful/clashchain/internal/daemon"
	"git.home.luguber.info/inful/clashchain/internal/metrics"
	"git.home.luguber.info/inful/clashchain/internal/service"
)

// WatchCmd implements the 'watch' command.
type WatchCmd struct {
	Metrics string `help:"Serve /metrics and /healthz on this address (overrides config)" placeholder:"ADDR"`
}

func (w *WatchCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g)
	if err != nil {
		return err
	}
	if w.Metrics != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddr = w.Metrics
	}

	var (
		reg *prom.Registry
		rec metrics.Recorder = metrics.NoopRecorder{}
	)
	if cfg.Metrics.Enabled {
		reg = prom.NewRegistry()
		reg.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
		rec = metrics.NewPrometheusRecorder(reg)
	}

	d, err := daemon.New(daemon.Options{
		ConfigPath: root.Config,
		Config:     cfg,
		Open: func(c *config.Config) (*service.Service, error) {
			return service.Open(c, g.Logger, rec)
		},
		Registry: reg,
		Logger:   g.Logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	g.Logger.Info("Starting watch mode", "config", root.Config, "data_dir", cfg.DataDir)
	return d.Run(ctx)
}
