// Package commands implements the clashchain command line.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/clashchain/internal/chain"
	"git.home.luguber.info/inful/clashchain/internal/config"
	"git.home.luguber.info/inful/clashchain/internal/logfields"
	"git.home.luguber.info/inful/clashchain/internal/service"
)

// Global carries state shared by all subcommands.
type Global struct {
	Logger *slog.Logger
	Out    io.Writer
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"clashchain.yaml" env:"CLASHCHAIN_CONFIG"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Init     InitCmd     `cmd:"" help:"Write an example configuration and produce the first runtime file"`
	Generate GenerateCmd `cmd:"" help:"Run the chain and write the runtime configuration"`
	Check    CheckCmd    `cmd:"" help:"Run the chain into the check file and print per-unit logs"`
	Logs     LogsCmd     `cmd:"" help:"Show chain logs of a recorded run"`
	Profiles ProfilesCmd `cmd:"" help:"Manage the enhancement chain"`
	Watch    WatchCmd    `cmd:"" help:"Regenerate the runtime configuration whenever inputs change"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply(g *Global) error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	g.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(g.Logger)
	if g.Out == nil {
		g.Out = os.Stdout
	}
	return nil
}

// loadConfig reads the configuration file and switches logging to the
// handler it asks for.
func (c *CLI) loadConfig(g *Global) (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	g.Logger = cfg.Logging.NewLogger(os.Stderr, c.Verbose)
	slog.SetDefault(g.Logger)
	return cfg, nil
}

// openService loads the configuration and opens the application service.
func (c *CLI) openService(g *Global) (*service.Service, error) {
	cfg, err := c.loadConfig(g)
	if err != nil {
		return nil, err
	}
	return service.Open(cfg, g.Logger, nil)
}

func printf(g *Global, format string, args ...any) {
	_, _ = fmt.Fprintf(g.Out, format, args...)
}

// printReport writes the one-paragraph summary shared by init, generate and check.
func printReport(g *Global, report *service.Report) {
	for _, err := range report.LoadErrors {
		printf(g, "excluded: %v\n", err)
	}
	if report.Result == nil {
		return
	}
	res := report.Result
	printf(g, "run %s in %s\n", res.RunID, res.Duration.Round(time.Microsecond))
	if len(res.TouchedKeys) > 0 {
		printf(g, "touched: %s\n", strings.Join(res.TouchedKeys, ", "))
	}
	if failed := res.FailedUnits(); len(failed) > 0 {
		printf(g, "failed units: %s\n", strings.Join(failed, ", "))
	}
	if report.Path != "" {
		printf(g, "wrote %s\n", report.Path)
	}
}

// printLogs writes the per-unit log trail of a run.
func printLogs(g *Global, logs []chain.Log) {
	for _, l := range logs {
		printf(g, "[%s] %s (%s, %s)\n", l.Outcome, l.Unit, l.Kind, l.Duration.Round(time.Microsecond))
		if len(l.Changed) > 0 {
			printf(g, "  changed: %s\n", strings.Join(l.Changed, ", "))
		}
		for _, e := range l.Entries {
			printf(g, "  %-5s %s\n", e.Level, e.Message)
		}
	}
}

func closeService(svc *service.Service) {
	if err := svc.Close(); err != nil {
		slog.Warn("Failed to close service", logfields.Error(err))
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
