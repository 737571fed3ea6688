package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/loomci/loom/cache"
	"github.com/loomci/loom/graph"
	"github.com/loomci/loom/log"
	"github.com/loomci/loom/notifier"
	"github.com/loomci/loom/workflow"
)

// SkipPolicy decides what a skipped dependency means to its dependents.
type SkipPolicy int

const (
	// SkipPropagates cascades the skip: a dependent of a skipped
	// instance is skipped as well, attributed to the original failure.
	SkipPropagates SkipPolicy = iota
	// SkipSatisfies treats a skipped dependency as satisfied.
	SkipSatisfies
)

type Options struct {
	// Concurrency bounds simultaneously running instances; zero or
	// negative means host parallelism.
	Concurrency int
	SkipPolicy  SkipPolicy
	// DefaultTimeout applies to instances whose template declares no
	// timeout; zero means unlimited.
	DefaultTimeout time.Duration
}

// Scheduler owns the mutable state of a single run: it walks the
// resolved graph, dispatches runnable instances to bounded execution
// slots, applies cache restore/save around designated steps, and
// propagates failure to dependents. One Scheduler drives one run.
type Scheduler struct {
	graph     *graph.Graph
	instances map[string]*workflow.JobInstance
	runner    Runner
	store     cache.Store
	n         *notifier.Notifier
	opts      Options

	mu      sync.Mutex
	states  map[string]State
	results map[string]*InstanceResult
	cancel  context.CancelFunc
	aborted bool
}

func New(g *graph.Graph, instances []*workflow.JobInstance, runner Runner, store cache.Store, n *notifier.Notifier, opts Options) *Scheduler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.NumCPU()
	}

	byID := make(map[string]*workflow.JobInstance, len(instances))
	for _, inst := range instances {
		byID[inst.ID()] = inst
	}

	return &Scheduler{
		graph:     g,
		instances: byID,
		runner:    runner,
		store:     store,
		n:         n,
		opts:      opts,
		states:    make(map[string]State),
		results:   make(map[string]*InstanceResult),
	}
}

// Abort stops further dispatch and transitions every non-terminal
// instance to skipped. In-flight steps receive a best-effort
// cancellation through their context.
func (s *Scheduler) Abort() {
	s.mu.Lock()
	cancel := s.cancel
	s.aborted = true
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Run drives the graph to completion and returns the run report. The
// returned error is ErrRunFailed when any instance failed, ErrAborted
// when the run was aborted, and nil otherwise; the report is always
// populated.
func (s *Scheduler) Run(ctx context.Context) (*Report, error) {
	l := log.FromContext(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	for _, id := range s.graph.Instances() {
		if len(s.graph.Dependencies(id)) == 0 {
			s.states[id] = StateRunnable
			s.notify(id, StateRunnable)
		} else {
			s.states[id] = StateBlocked
		}
	}
	s.mu.Unlock()

	results := make(chan *InstanceResult)
	running := 0
	done := runCtx.Done()

	for {
		if runCtx.Err() == nil {
			for _, id := range s.dispatchable() {
				if running >= s.opts.Concurrency {
					break
				}
				s.setState(id, StateRunning)
				l.Info("dispatching job", "job", id)
				running++
				go s.runInstance(runCtx, id, results)
			}
		}

		if running == 0 {
			break
		}

		select {
		case res := <-results:
			running--
			s.complete(ctx, res)
		case <-done:
			// stop dispatch, skip everything not yet started, and
			// keep draining in-flight instances
			done = nil
			s.skipPending("run aborted")
		}
	}

	// anything still non-terminal at this point never became
	// runnable; skip it so the report is complete
	s.skipPending("never became runnable")

	report := s.report()

	s.mu.Lock()
	aborted := s.aborted || ctx.Err() != nil
	s.mu.Unlock()

	switch {
	case aborted:
		return report, ErrAborted
	case report.Failed():
		return report, ErrRunFailed
	}
	return report, nil
}

// dispatchable computes the runnable set via the resolver and returns
// it in stable definition order, which is the scheduling tie-break.
func (s *Scheduler) dispatchable() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	satisfied := make(map[string]struct{})
	started := make(map[string]struct{})
	for id, state := range s.states {
		switch state {
		case StateSucceeded:
			satisfied[id] = struct{}{}
		case StateSkipped:
			if s.opts.SkipPolicy == SkipSatisfies {
				satisfied[id] = struct{}{}
			}
		}
		if state == StateRunning || state.Terminal() {
			started[id] = struct{}{}
		}
	}

	runnable := s.graph.Runnable(satisfied, started)
	for _, id := range runnable {
		if s.states[id] == StateBlocked {
			s.states[id] = StateRunnable
			s.notify(id, StateRunnable)
		}
	}
	return runnable
}

// complete records a terminal result and cascades skips to dependents
// of failures.
func (s *Scheduler) complete(ctx context.Context, res *InstanceResult) {
	l := log.FromContext(ctx)

	s.mu.Lock()
	s.states[res.ID] = res.State
	s.results[res.ID] = res
	s.notify(res.ID, res.State)

	switch res.State {
	case StateSucceeded:
		l.Info("job succeeded", "job", res.ID)
	case StateFailed:
		l.Error("job failed", "job", res.ID, "error", res.Err)
		s.cascadeSkip(res.ID, fmt.Sprintf("dependency %q failed", res.ID))
	case StateSkipped:
		l.Warn("job skipped", "job", res.ID, "cause", res.Cause)
		if s.opts.SkipPolicy == SkipPropagates {
			s.cascadeSkip(res.ID, res.Cause)
		}
	}
	s.mu.Unlock()
}

// cascadeSkip transitions every not-yet-started transitive dependent to
// skipped, attributing each to the root cause. Callers hold s.mu.
func (s *Scheduler) cascadeSkip(id, cause string) {
	for _, dep := range s.graph.Dependents(id) {
		state := s.states[dep]
		if state == StateRunning || state.Terminal() {
			continue
		}
		s.states[dep] = StateSkipped
		s.results[dep] = &InstanceResult{ID: dep, State: StateSkipped, Cause: cause}
		s.notify(dep, StateSkipped)
		if s.opts.SkipPolicy == SkipPropagates {
			s.cascadeSkip(dep, cause)
		}
	}
}

// skipPending transitions all remaining non-terminal, non-running
// instances to skipped.
func (s *Scheduler) skipPending(cause string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.graph.Instances() {
		state := s.states[id]
		if state == StateRunning || state.Terminal() {
			continue
		}
		s.states[id] = StateSkipped
		s.results[id] = &InstanceResult{ID: id, State: StateSkipped, Cause: cause}
		s.notify(id, StateSkipped)
	}
}

func (s *Scheduler) setState(id string, state State) {
	s.mu.Lock()
	s.states[id] = state
	s.notify(id, state)
	s.mu.Unlock()
}

// notify publishes a state change; callers hold s.mu.
func (s *Scheduler) notify(id string, state State) {
	if s.n != nil {
		s.n.Publish(notifier.Event{Kind: "job", ID: id, Status: state.String()})
	}
}

func (s *Scheduler) report() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{}
	for _, id := range s.graph.Instances() {
		res, ok := s.results[id]
		if !ok {
			res = &InstanceResult{ID: id, State: s.states[id]}
		}
		report.Results = append(report.Results, res)
	}
	return report
}

// runInstance executes one job instance in its own execution context:
// setup, steps in declared order with cache consultation, teardown on
// every exit path.
func (s *Scheduler) runInstance(ctx context.Context, id string, results chan<- *InstanceResult) {
	inst := s.instances[id]
	l := log.FromContext(ctx).With("job", id)
	res := &InstanceResult{ID: id, StartedAt: time.Now()}

	defer func() {
		res.FinishedAt = time.Now()
		results <- res
	}()

	timeout, err := inst.Template.JobTimeout(s.opts.DefaultTimeout)
	if err != nil {
		// validation rejects bad timeouts before a run starts
		timeout = s.opts.DefaultTimeout
	}

	jobCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// teardown runs even when setup fails partway or the job context
	// is already cancelled or expired
	defer func() {
		teardownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		if err := s.runner.Teardown(teardownCtx, id); err != nil {
			l.Error("failed to tear down execution context", "error", err)
		}
	}()

	if err := s.runner.Setup(jobCtx, id, inst.Template.Image); err != nil {
		res.State = StateFailed
		res.Err = fmt.Errorf("setting up execution context: %w", err)
		return
	}

	workdir := s.runner.Workspace(id)
	failed := false

	for _, step := range inst.Template.Steps {
		outcome := StepOutcome{Name: stepName(step)}

		if !shouldRun(step.If, failed) {
			outcome.Skipped = true
			res.Steps = append(res.Steps, outcome)
			continue
		}

		key := s.restoreCache(jobCtx, step, workdir, &outcome)

		result, err := s.runner.Exec(jobCtx, StepRequest{
			InstanceID: id,
			Name:       outcome.Name,
			Command:    step.Command,
			Image:      inst.Template.Image,
			Env:        ConstructEnvs(inst.Template.Environment, inst.MatrixEnv(), step.Environment),
			WorkDir:    workdir,
		})
		if err != nil {
			outcome.Err = err.Error()
			res.Steps = append(res.Steps, outcome)

			switch {
			case ctx.Err() != nil:
				// external abort: not a failure of this instance
				res.State = StateSkipped
				res.Cause = "run aborted"
			case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
				res.State = StateFailed
				res.Err = &TimeoutError{Instance: id, Limit: timeout}
			default:
				res.State = StateFailed
				res.Err = fmt.Errorf("executing step %q: %w", outcome.Name, err)
			}
			return
		}

		outcome.ExitCode = result.ExitCode
		outcome.Output = result.Output
		res.Steps = append(res.Steps, outcome)

		if result.ExitCode != 0 {
			if step.ContinueOnError {
				l.Warn("step failed but continues", "step", outcome.Name, "exit_code", result.ExitCode)
				continue
			}
			failed = true
			res.Err = &StepError{Step: outcome.Name, ExitCode: result.ExitCode}
			continue
		}

		if key != "" && !outcome.CacheHit {
			s.saveCache(jobCtx, step, key, workdir)
		}
	}

	if failed {
		res.State = StateFailed
	} else {
		res.State = StateSucceeded
	}
}

// restoreCache resolves the step's cache key and restores a hit into
// the workspace. Every failure degrades to a miss: the step proceeds
// cold and the job never fails on cache trouble. The resolved key is
// returned for the save side, or "" when the step is uncached or no
// stable key exists.
func (s *Scheduler) restoreCache(ctx context.Context, step workflow.Step, workdir string, outcome *StepOutcome) string {
	if step.Cache == nil || s.store == nil {
		return ""
	}
	l := log.FromContext(ctx)

	key := step.Cache.Key
	if len(step.Cache.Files) > 0 {
		resolved, err := cache.KeyFiles(step.Cache.Key, workdir, step.Cache.Files)
		if err != nil {
			l.Warn("cannot resolve cache key, proceeding uncached", "key", step.Cache.Key, "error", err)
			return ""
		}
		key = resolved
	}

	entry, err := s.store.Lookup(ctx, key)
	if err != nil {
		l.Warn("cache lookup failed, treating as miss", "key", key, "error", err)
		return key
	}
	if entry == nil {
		return key
	}

	if err := s.store.Restore(ctx, key, workdir); err != nil {
		// a hit with a corrupt or missing payload falls back to a
		// cold run
		l.Warn("cache restore failed, treating as miss", "key", key, "error", err)
		return key
	}

	outcome.CacheHit = true
	return key
}

func (s *Scheduler) saveCache(ctx context.Context, step workflow.Step, key, workdir string) {
	if len(step.Cache.Paths) == 0 {
		return
	}
	if err := s.store.Save(ctx, key, workdir, step.Cache.Paths); err != nil {
		log.FromContext(ctx).Warn("cache save failed", "key", key, "error", err)
	}
}

func shouldRun(cond workflow.Condition, failed bool) bool {
	switch cond {
	case workflow.CondAlways:
		return true
	case workflow.CondOnFailure:
		return failed
	default:
		return !failed
	}
}

func stepName(step workflow.Step) string {
	if step.Name != "" {
		return step.Name
	}
	return step.Command
}
