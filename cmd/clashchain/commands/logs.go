package commands

import (
	"time"

	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
	"git.home.luguber.info/inful/clashchain/internal/history"
)

// LogsCmd implements the 'logs' command.
type LogsCmd struct {
	RunID string `name:"run" help:"Run ID to show (default: latest)"`
	List  int    `name:"list" help:"List the N most recent runs instead of showing logs"`
}

func (c *LogsCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g)
	if err != nil {
		return err
	}
	if !cfg.HistoryEnabled() {
		return ferrors.ConfigError("run history is disabled").
			WithContext("hint", "set history.enabled: true").
			Build()
	}
	store, err := history.NewSQLiteStore(cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signalContext()
	defer stop()

	if c.List > 0 {
		runs, err := store.List(ctx, c.List)
		if err != nil {
			return err
		}
		for _, r := range runs {
			printf(g, "%s  %s  %-8s  %s  touched=%d failed=%d\n",
				r.ID, r.StartedAt.Local().Format(time.RFC3339), r.Trigger,
				r.Duration.Round(time.Microsecond), len(r.TouchedKeys), len(r.FailedUnits))
		}
		return nil
	}

	var run history.Run
	if c.RunID != "" {
		run, err = store.Get(ctx, c.RunID)
	} else {
		run, err = store.Latest(ctx)
	}
	if err != nil {
		return err
	}
	printf(g, "run %s (%s) at %s fingerprint %s\n", run.ID, run.Trigger, run.StartedAt.Local().Format(time.RFC3339), run.Fingerprint)
	printLogs(g, run.Logs)
	return nil
}
