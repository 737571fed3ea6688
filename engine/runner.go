package engine

import (
	"context"
	"time"
)

// Runner is the external execution collaborator: it provisions one
// isolated execution context per job instance, executes commands inside
// it, and tears it down. Contexts are never shared across instances.
type Runner interface {
	// Setup provisions the instance's execution context, including its
	// workspace directory.
	Setup(ctx context.Context, instanceID, image string) error

	// Workspace returns the host path of the instance's working
	// directory. Cache payloads are materialized here.
	Workspace(instanceID string) string

	// Exec runs a single command to completion and reports its exit
	// code and captured output. A non-zero exit is not an error; an
	// error means the command could not be run or was interrupted.
	Exec(ctx context.Context, req StepRequest) (StepResult, error)

	// Teardown destroys the instance's execution context. It is called
	// exactly once for every successful or failed Setup, on all exit
	// paths.
	Teardown(ctx context.Context, instanceID string) error
}

type StepRequest struct {
	InstanceID string
	Name       string
	Command    string
	Image      string
	Env        EnvVars
	WorkDir    string
}

type StepResult struct {
	ExitCode int
	Output   string
}

// InstanceResult is the terminal record of one job instance.
type InstanceResult struct {
	ID    string
	State State

	// Cause attributes a skip to the failure that produced it.
	Cause string
	Err   error

	StartedAt  time.Time
	FinishedAt time.Time

	Steps []StepOutcome
}

type StepOutcome struct {
	Name     string
	ExitCode int
	Output   string
	Skipped  bool
	CacheHit bool
	Err      string
}

// Report is the run summary: one result per instance, in stable
// definition order.
type Report struct {
	Results []*InstanceResult
}

// Failed reports whether any instance ended in StateFailed. The run's
// aggregate status is a failure iff this is true, regardless of how
// many instances succeeded.
func (r *Report) Failed() bool {
	for _, res := range r.Results {
		if res.State == StateFailed {
			return true
		}
	}
	return false
}

// Counts tallies instances by terminal state.
func (r *Report) Counts() map[State]int {
	counts := make(map[State]int)
	for _, res := range r.Results {
		counts[res.State]++
	}
	return counts
}
