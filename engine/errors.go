package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrRunFailed = errors.New("run failed")
	ErrAborted   = errors.New("run aborted")
)

// StepError reports a step that exited non-zero without
// continue-on-error set.
type StepError struct {
	Step     string
	ExitCode int
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q exited with code %d", e.Step, e.ExitCode)
}

// TimeoutError reports a job instance that exceeded its wall-clock
// timeout. It fails the owning instance only; siblings keep running.
type TimeoutError struct {
	Instance string
	Limit    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %q timed out after %s", e.Instance, e.Limit)
}
