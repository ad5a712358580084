package commands

import (
	"git.home.luguber.info/inful/clashchain/internal/service"
)

// GenerateCmd implements the 'generate' command.
type GenerateCmd struct{}

func (c *GenerateCmd) Run(g *Global, root *CLI) error {
	svc, err := root.openService(g)
	if err != nil {
		return err
	}
	defer closeService(svc)

	ctx, stop := signalContext()
	defer stop()
	report, err := svc.Apply(ctx, service.TriggerCLI)
	if report != nil {
		printReport(g, report)
	}
	return err
}
