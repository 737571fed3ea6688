// Package local runs steps as host processes under a scratch workspace
// directory per job instance. It exists for development runs and tests;
// production runs use the docker engine.
package local

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/loomci/loom/engine"
	"github.com/loomci/loom/log"
)

type Runner struct {
	root string
}

func New(root string) (*Runner, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Runner{root: root}, nil
}

func (r *Runner) Workspace(instanceID string) string {
	return filepath.Join(r.root, engine.Sanitize(instanceID))
}

func (r *Runner) Setup(ctx context.Context, instanceID, image string) error {
	if image != "" {
		log.FromContext(ctx).Debug("ignoring image for local execution", "job", instanceID, "image", image)
	}
	return os.MkdirAll(r.Workspace(instanceID), 0o755)
}

func (r *Runner) Exec(ctx context.Context, req engine.StepRequest) (engine.StepResult, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", req.Command)
	cmd.Dir = req.WorkDir
	cmd.Env = append(os.Environ(), req.Env.Slice()...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if ctx.Err() != nil {
		return engine.StepResult{}, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return engine.StepResult{ExitCode: exitErr.ExitCode(), Output: out.String()}, nil
	}
	if err != nil {
		return engine.StepResult{}, err
	}

	return engine.StepResult{Output: out.String()}, nil
}

func (r *Runner) Teardown(ctx context.Context, instanceID string) error {
	return os.RemoveAll(r.Workspace(instanceID))
}
