// pumpwatchd indexes a launchpad deployment: bonding-curve token factory,
// DEX pairs, token transfers and staking tiers, fanned out to Postgres,
// Redis and websocket subscribers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/pumpwatch/pumpwatch/internal/config"
	"github.com/pumpwatch/pumpwatch/internal/logging"
	"github.com/pumpwatch/pumpwatch/internal/service"
	"github.com/pumpwatch/pumpwatch/internal/store"
)

// version is stamped by the build; the default marks a source build.
var version = "dev"

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "path to the YAML config file",
	EnvVars: []string{"PUMPWATCH_CONFIG"},
}

func main() {
	app := &cli.App{
		Name:    "pumpwatchd",
		Usage:   "launchpad and DEX event indexer",
		Version: version,
		Flags:   []cli.Flag{configFlag},
		Action:  run,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "start the indexer (default)",
				Flags:  []cli.Flag{configFlag},
				Action: run,
			},
			{
				Name:   "migrate",
				Usage:  "apply the database schema and exit",
				Flags:  []cli.Flag{configFlag},
				Action: migrate,
			},
			{
				Name:  "version",
				Usage: "print version information",
				Action: func(c *cli.Context) error {
					fmt.Printf("pumpwatchd %s %s/%s %s\n",
						version, runtime.GOOS, runtime.GOARCH, runtime.Version())
					return nil
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "pumpwatchd:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	log, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	log.Info("pumpwatchd starting",
		zap.String("version", version),
		zap.String("network", cfg.Network),
		zap.String("store", cfg.RedactedDSN()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("pumpwatchd stopped")
	return nil
}

func migrate(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	log, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}
	log.Info("schema up to date")
	return nil
}
