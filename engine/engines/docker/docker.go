// Package docker executes job steps in containers, one isolated
// execution context per job instance: a private bridge network and a
// bind-mounted workspace, both destroyed at teardown.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"golang.org/x/sync/errgroup"

	"github.com/loomci/loom/engine"
	"github.com/loomci/loom/log"
)

const workspaceDir = "/loom/workspace"

type Engine struct {
	docker client.APIClient
	l      *slog.Logger
	root   string
}

func New(ctx context.Context, root string) (*Engine, error) {
	dcli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}

	l := log.FromContext(ctx).With("component", "docker")

	return &Engine{docker: dcli, l: l, root: root}, nil
}

func (e *Engine) Workspace(instanceID string) string {
	return filepath.Join(e.root, engine.Sanitize(instanceID))
}

// Setup provisions the instance's network and workspace and pulls the
// job image so that step containers start without a pull delay.
func (e *Engine) Setup(ctx context.Context, instanceID, img string) error {
	e.l.Info("setting up execution context", "job", instanceID, "image", img)

	if err := os.MkdirAll(e.Workspace(instanceID), 0o755); err != nil {
		return err
	}

	// the pull dominates setup time, so run it alongside network
	// creation
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := e.docker.NetworkCreate(ctx, networkName(instanceID), network.CreateOptions{
			Driver: "bridge",
		})
		return err
	})
	g.Go(func() error {
		reader, err := e.docker.ImagePull(ctx, img, image.PullOptions{})
		if err != nil {
			return fmt.Errorf("pulling image: %w", err)
		}
		defer reader.Close()
		_, _ = io.Copy(io.Discard, reader)
		return nil
	})

	return g.Wait()
}

// Exec runs one step in a fresh container sharing the instance's
// workspace and network. The container is removed before returning;
// only its exit code and captured output survive.
func (e *Engine) Exec(ctx context.Context, req engine.StepRequest) (engine.StepResult, error) {
	resp, err := e.docker.ContainerCreate(ctx, &container.Config{
		Image:      req.Image,
		Cmd:        []string{"sh", "-c", req.Command},
		WorkingDir: workspaceDir,
		Tty:        false,
		Hostname:   "loom",
		Env:        append(req.Env.Slice(), "HOME="+workspaceDir),
	}, hostConfig(req.WorkDir), nil, nil, "")
	if err != nil {
		return engine.StepResult{}, fmt.Errorf("creating container: %w", err)
	}

	defer func() {
		removeCtx := context.WithoutCancel(ctx)
		if err := e.docker.ContainerRemove(removeCtx, resp.ID, container.RemoveOptions{Force: true}); err != nil {
			e.l.Error("failed to remove container", "container", resp.ID, "error", err)
		}
	}()

	err = e.docker.NetworkConnect(ctx, networkName(req.InstanceID), resp.ID, nil)
	if err != nil {
		return engine.StepResult{}, fmt.Errorf("connecting network: %w", err)
	}

	if err := e.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return engine.StepResult{}, err
	}
	e.l.Info("started container", "container", resp.ID, "step", req.Name)

	output, err := e.tail(ctx, resp.ID)
	if err != nil {
		e.l.Error("failed to tail container", "container", resp.ID, "error", err)
	}

	state, err := e.wait(ctx, resp.ID)
	if err != nil {
		return engine.StepResult{}, err
	}

	return engine.StepResult{ExitCode: state.ExitCode, Output: output}, nil
}

// Teardown tolerates partially-created contexts: a failed setup may
// have left no network behind.
func (e *Engine) Teardown(ctx context.Context, instanceID string) error {
	e.l.Info("tearing down execution context", "job", instanceID)

	if err := e.docker.NetworkRemove(ctx, networkName(instanceID)); err != nil && !errdefs.IsNotFound(err) {
		e.l.Error("failed to remove network", "job", instanceID, "error", err)
	}

	return os.RemoveAll(e.Workspace(instanceID))
}

func (e *Engine) wait(ctx context.Context, containerID string) (*container.State, error) {
	wait, errCh := e.docker.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return nil, err
		}
	case <-wait:
	}

	info, err := e.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, err
	}

	return info.State, nil
}

// tail blocks until the container's log stream closes and returns the
// combined stdout/stderr output.
func (e *Engine) tail(ctx context.Context, containerID string) (string, error) {
	logs, err := e.docker.ContainerLogs(ctx, containerID, container.LogsOptions{
		Follow:     true,
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", err
	}
	defer logs.Close()

	var buf bytes.Buffer
	_, err = stdcopy.StdCopy(&buf, &buf, logs)
	return buf.String(), err
}

func networkName(instanceID string) string {
	return "loom-" + engine.Sanitize(instanceID)
}

func hostConfig(workdir string) *container.HostConfig {
	return &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: workdir,
				Target: workspaceDir,
			},
		},
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
	}
}
