package main

import (
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/clashchain/cmd/clashchain/commands"
	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
	"git.home.luguber.info/inful/clashchain/internal/version"
)

func main() {
	cli := &commands.CLI{}
	globals := &commands.Global{Out: os.Stdout}
	parser := kong.Parse(cli,
		kong.Name("clashchain"),
		kong.Description("Build the proxy runtime configuration from a base config and a chain of enhancement profiles."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
		kong.Bind(globals),
	)
	err := parser.Run(globals, cli)
	ferrors.NewCLIErrorAdapter(cli.Verbose, globals.Logger).HandleError(err)
}
