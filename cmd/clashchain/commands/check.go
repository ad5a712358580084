package commands

import (
	"strings"

	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
)

// CheckCmd implements the 'check' command.
type CheckCmd struct {
	Strict bool `help:"Fail when any unit failed or a profile was excluded"`
}

func (c *CheckCmd) Run(g *Global, root *CLI) error {
	svc, err := root.openService(g)
	if err != nil {
		return err
	}
	defer closeService(svc)

	ctx, stop := signalContext()
	defer stop()
	report, err := svc.Check(ctx)
	if report != nil && report.Result != nil {
		printLogs(g, report.Result.Logs)
	}
	if report != nil {
		printReport(g, report)
	}
	if err != nil {
		return err
	}
	if c.Strict && (report.Result.Degraded() || len(report.LoadErrors) > 0) {
		return ferrors.ChainError("check found failing units").
			WithContext("failed", strings.Join(report.Result.FailedUnits(), ",")).
			WithContext("excluded", len(report.LoadErrors)).
			Build()
	}
	return nil
}
