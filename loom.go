package loom

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/loomci/loom/cache"
	"github.com/loomci/loom/config"
	"github.com/loomci/loom/db"
	"github.com/loomci/loom/engine"
	"github.com/loomci/loom/engine/engines/docker"
	"github.com/loomci/loom/engine/engines/local"
	"github.com/loomci/loom/graph"
	"github.com/loomci/loom/log"
	"github.com/loomci/loom/notifier"
	"github.com/loomci/loom/workflow"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// RunFile loads, validates and executes the workflow definition at
// path, recording the run in the configured database. The returned
// report holds one terminal result per job instance; err carries the
// aggregate outcome (engine.ErrRunFailed, engine.ErrAborted or a setup
// error).
func RunFile(ctx context.Context, cfg *config.Config, path string, opts engine.Options) (*engine.Report, error) {
	l := log.FromContext(ctx)

	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow: %w", err)
	}

	def, err := workflow.FromFile(filepath.Base(path), contents)
	if err != nil {
		return nil, fmt.Errorf("failed to parse workflow: %w", err)
	}

	diag := workflow.Validate(&def)
	for _, w := range diag.Warnings {
		l.Warn(w.String())
	}
	if err := diag.Err(); err != nil {
		return nil, err
	}

	instances, err := workflow.ExpandAll(&def)
	if err != nil {
		return nil, err
	}

	g, err := graph.Build(instances)
	if err != nil {
		return nil, err
	}

	runner, err := buildRunner(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	if opts.Concurrency == 0 {
		opts.Concurrency = cfg.Engine.Concurrency
	}
	if opts.DefaultTimeout == 0 {
		timeout, err := time.ParseDuration(cfg.Engine.JobTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid LOOM_ENGINE_JOB_TIMEOUT: %w", err)
		}
		opts.DefaultTimeout = timeout
	}

	d, err := db.Make(cfg.Engine.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to setup db: %w", err)
	}
	defer d.Close()

	n := notifier.New()

	runID := uuid.NewString()
	if err := d.CreateRun(runID, def.Name, &n); err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	sched := engine.New(g, instances, runner, store, &n, opts)

	if err := d.MarkRunRunning(runID, &n); err != nil {
		l.Error("failed to mark run running", "run", runID, "err", err)
	}
	l.Info("starting run", "run", runID, "workflow", def.Name, "instances", len(instances))

	report, runErr := sched.Run(ctx)

	if err := d.RecordReport(runID, report); err != nil {
		l.Error("failed to record results", "run", runID, "err", err)
	}

	status := db.RunSuccess
	switch {
	case runErr == engine.ErrAborted:
		status = db.RunAborted
	case report.Failed():
		status = db.RunFailed
	}
	if err := d.FinishRun(runID, status, &n); err != nil {
		l.Error("failed to finish run", "run", runID, "err", err)
	}

	l.Info("run finished", "run", runID, "status", status)
	return report, runErr
}

func buildRunner(ctx context.Context, cfg *config.Config) (engine.Runner, error) {
	switch cfg.Engine.Runner {
	case "docker":
		r, err := docker.New(ctx, cfg.Engine.Workspace)
		if err != nil {
			return nil, fmt.Errorf("failed to setup docker runner: %w", err)
		}
		return r, nil
	case "local":
		r, err := local.New(cfg.Engine.Workspace)
		if err != nil {
			return nil, fmt.Errorf("failed to setup local runner: %w", err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown runner %q (want docker or local)", cfg.Engine.Runner)
	}
}

func buildStore(cfg *config.Config) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "fs":
		fs, err := cache.NewFS(cfg.Cache.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to setup fs cache: %w", err)
		}
		return fs, nil
	case "s3":
		client, err := minio.New(cfg.Cache.S3.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.Cache.S3.AccessKey, cfg.Cache.S3.SecretKey, ""),
			Secure: cfg.Cache.S3.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to setup s3 cache: %w", err)
		}
		return cache.NewS3(client, cfg.Cache.S3.Bucket), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q (want fs or s3)", cfg.Cache.Backend)
	}
}
