package commands

import (
	"os"

	"git.home.luguber.info/inful/clashchain/internal/config"
	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force bool `help:"Overwrite existing configuration file"`
}

func (i *InitCmd) Run(g *Global, root *CLI) error {
	printf(g, "Writing configuration to %s\n", root.Config)
	err := config.Init(root.Config, i.Force)
	switch {
	case ferrors.HasCategory(err, ferrors.CategoryAlreadyExists):
		printf(g, "Configuration exists, keeping it (use --force to overwrite)\n")
	case err != nil:
		return err
	}

	svc, err := root.openService(g)
	if err != nil {
		return err
	}
	defer closeService(svc)
	if err := os.MkdirAll(svc.Config().DataDir, 0o755); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create data directory").
			WithContext("path", svc.Config().DataDir).
			Build()
	}

	ctx, stop := signalContext()
	defer stop()
	report, err := svc.Init(ctx)
	if report != nil {
		printReport(g, report)
	}
	if err != nil {
		return err
	}
	printf(g, "initialized successfully\n")
	return nil
}
