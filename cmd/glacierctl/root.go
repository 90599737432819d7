package main

import (
	"context"
	"fmt"

	"github.com/lk2023060901/glacier-archiver/internal/conf"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/injector"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"github.com/urfave/cli/v3"
)

// Commands:
// store <file>...           stores local files under --node
// retrieve <url>...         copies stored files into --dest
// delete <url>...           deletes stored files
// flush                     uploads closed and expired archives
// clean                     removes expired cache entries
// availability <url>...     reports restore status
// check-pending <url>...    reports whether pending files reached cold storage

func Execute(ctx context.Context, args []string) error {
	app := &cli.Command{
		Name:  "glacierctl",
		Usage: "operate a glacier archive workspace",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "config file path",
				Sources: cli.EnvVars("GLACIER_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "write archiver logs to the configured log output",
			},
		},
		Commands: []*cli.Command{
			storeCommand(),
			retrieveCommand(),
			deleteCommand(),
			flushCommand(),
			cleanCommand(),
			availabilityCommand(),
			checkPendingCommand(),
		},
	}

	return app.Run(ctx, args)
}

func isVerbose(cmd *cli.Command) bool {
	if cmd == nil {
		return false
	}
	if cmd.Bool("verbose") {
		return true
	}
	root := cmd.Root()
	return root != nil && root.Bool("verbose")
}

// withApp loads the configuration named by --config and runs fn against a fully wired archiver.
func withApp(ctx context.Context, cmd *cli.Command, fn func(ctx context.Context, app *injector.App) error) error {
	config, err := conf.LoadConfig(cmd.Root().String("config"))
	if err != nil {
		return err
	}

	log := logger.NewNop()
	if isVerbose(cmd) {
		if log, err = logger.New(&config.Log); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer log.Sync()
	}

	app, cleanup, err := injector.InitializeApp(config, log)
	if err != nil {
		return err
	}
	defer cleanup()

	return fn(ctx, app)
}

func requireArgs(cmd *cli.Command, what string) ([]string, error) {
	args := cmd.Args().Slice()
	if len(args) == 0 {
		return nil, fmt.Errorf("%s requires at least one %s argument", cmd.Name, what)
	}
	return args, nil
}
