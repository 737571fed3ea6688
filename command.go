package loom

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/loomci/loom/config"
	"github.com/loomci/loom/engine"
	"github.com/loomci/loom/log"
	"github.com/loomci/loom/queue"
	"github.com/urfave/cli/v3"
)

func Command() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "execute a workflow file to completion",
		ArgsUsage: "<workflow.yaml>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "concurrency",
				Aliases: []string{"j"},
				Usage:   "maximum simultaneously running job instances (0 = host parallelism)",
			},
			&cli.StringFlag{
				Name:  "runner",
				Usage: "execution runner: docker or local",
			},
			&cli.BoolFlag{
				Name:  "skipped-satisfies",
				Usage: "treat skipped dependencies as satisfied instead of cascading the skip",
			},
		},
		Action: run,
		Description: `
Environment variables:
	LOOM_ENGINE_DB_PATH       (default: loom.db)
	LOOM_ENGINE_RUNNER        (default: docker)
	LOOM_ENGINE_CONCURRENCY   (default: 0, host parallelism)
	LOOM_ENGINE_JOB_TIMEOUT   (default: 30m)
	LOOM_ENGINE_WORKSPACE     (default: /var/lib/loom/workspaces)
	LOOM_CACHE_BACKEND        (default: fs)
	LOOM_CACHE_DIR            (default: /var/cache/loom)
	LOOM_CACHE_S3_ENDPOINT
	LOOM_CACHE_S3_BUCKET      (default: loom-cache)
	LOOM_CACHE_S3_ACCESS_KEY
	LOOM_CACHE_S3_SECRET_KEY
	LOOM_CACHE_S3_USE_SSL     (default: true)
`,
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("usage: loom run <workflow.yaml> [more.yaml ...]")
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.IsSet("runner") {
		cfg.Engine.Runner = cmd.String("runner")
	}

	opts := engine.Options{
		Concurrency: int(cmd.Int("concurrency")),
	}
	if cmd.Bool("skipped-satisfies") {
		opts.SkipPolicy = engine.SkipSatisfies
	}

	// first signal aborts the run gracefully, a second one kills us
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// multiple files execute serially, one run at a time
	q := queue.NewQueue(len(paths))
	var runErr error
	for _, path := range paths {
		q.Enqueue(queue.Job{
			Run: func() error {
				report, err := RunFile(ctx, cfg, path, opts)
				if report != nil {
					printSummary(report)
				}
				return err
			},
			OnFail: func(err error) {
				runErr = err
			},
		})
	}
	q.Start()
	q.Stop()

	if ctx.Err() != nil {
		log.FromContext(ctx).Warn("run aborted by signal")
	}
	return runErr
}

func printSummary(report *engine.Report) {
	for _, res := range report.Results {
		line := fmt.Sprintf("%-9s  %s", res.State, res.ID)
		if res.Cause != "" {
			line += fmt.Sprintf("  (%s)", res.Cause)
		}
		fmt.Println(line)
	}

	counts := report.Counts()
	fmt.Printf("%d succeeded, %d failed, %d skipped\n",
		counts[engine.StateSucceeded], counts[engine.StateFailed], counts[engine.StateSkipped])
}
