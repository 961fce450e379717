package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/johndauphine/mysql-bq-replicate/internal/config"
	"github.com/johndauphine/mysql-bq-replicate/internal/logging"
	"github.com/johndauphine/mysql-bq-replicate/internal/orchestrator"
	"github.com/johndauphine/mysql-bq-replicate/internal/util"
	"github.com/johndauphine/mysql-bq-replicate/internal/version"
)

func main() {
	app := &cli.App{
		Name:    version.Name,
		Usage:   version.Description,
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override log level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Replicate all registered tables",
				Action: runReplication,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "lookback-days",
						Usage: "Incremental window in days",
					},
					&cli.BoolFlag{
						Name:  "full-refresh",
						Usage: "Replace every table instead of reconciling windows",
					},
					&cli.StringFlag{
						Name:  "tables",
						Usage: "Comma-separated table names to replicate",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of concurrent table pipelines",
					},
					&cli.BoolFlag{
						Name:  "abort-on-failure",
						Usage: "Stop the run at the first table failure",
					},
					&cli.BoolFlag{
						Name:  "quiet",
						Usage: "Suppress the progress bar",
					},
				},
			},
			{
				Name:   "validate",
				Usage:  "Compare row counts between source and target tables",
				Action: validateReplication,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "tables",
						Usage: "Comma-separated table names to validate",
					},
				},
			},
			{
				Name:   "schema",
				Usage:  "Show source schemas and their target type mappings",
				Action: showSchema,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "tables",
						Usage: "Comma-separated table names to show",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	if level != "" {
		l, err := logging.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		logging.SetLevel(l)
	}
	if cfg.Logging.Format != "" {
		logging.SetFormat(cfg.Logging.Format)
	}

	return cfg, nil
}

func runReplication(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	if c.IsSet("lookback-days") {
		cfg.Replication.LookbackDays = c.Int("lookback-days")
	}
	if c.IsSet("workers") {
		cfg.Replication.Workers = c.Int("workers")
	}
	if c.IsSet("abort-on-failure") {
		cfg.Replication.AbortOnFirstFailure = c.Bool("abort-on-failure")
	}

	ctx, cancel := signalContext()
	defer cancel()

	orch, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orch.Close()

	result, err := orch.Run(ctx, orchestrator.RunOptions{
		Tables:    util.SplitCSV(c.String("tables")),
		ForceFull: c.Bool("full-refresh"),
		Quiet:     c.Bool("quiet"),
	})
	if err != nil {
		return err
	}

	result.Log()
	if result.HasFailures() {
		return fmt.Errorf("%d tables failed", len(result.Failures()))
	}
	return nil
}

func validateReplication(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	orch, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orch.Close()

	return orch.Validate(ctx, util.SplitCSV(c.String("tables")))
}

func showSchema(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	orch, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orch.Close()

	return orch.ShowSchema(ctx, util.SplitCSV(c.String("tables")))
}

// signalContext returns a context cancelled on SIGINT or SIGTERM, so
// in-flight chunks finish and workers drain before exit.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nInterrupted. Draining workers...")
		cancel()
	}()

	return ctx, cancel
}
