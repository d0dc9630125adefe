// Reconciler CLI - compares two revenue spreadsheets keyed by transaction id.
//
// Usage:
//
//	reconciler reconcile --file-a network.xlsx --file-b platform.csv [options]
//	reconciler headers --file network.xlsx
//	reconciler serve
//	reconciler history [--prune]
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"revenue-reconciler/internal/config"
	"revenue-reconciler/internal/logger"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	app := &cli.App{
		Name:    "reconciler",
		Usage:   "Reconcile transaction revenue between two spreadsheets",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				EnvVars: []string{"RECON_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-env",
				Usage: "Log format: development for console output, anything else for JSON",
			},
		},

		Commands: []*cli.Command{
			reconcileCommand(),
			headersCommand(),
			serveCommand(),
			historyCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration and applies the global flag overrides.
func setup(c *cli.Context) (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-env") {
		cfg.Log.Env = c.String("log-env")
	}
	log := logger.NewWithWriter(os.Stderr, cfg.Log.Level, cfg.Log.Env)
	return cfg, log, nil
}
