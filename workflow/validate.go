package workflow

import (
	"fmt"
	"slices"
	"time"
)

type Diagnostics struct {
	Errors   []Error
	Warnings []Warning
}

func (d *Diagnostics) IsEmpty() bool {
	return len(d.Errors) == 0 && len(d.Warnings) == 0
}

func (d *Diagnostics) AddWarning(job string, kind WarningKind, reason string) {
	d.Warnings = append(d.Warnings, Warning{job, kind, reason})
}

func (d *Diagnostics) AddError(job string, err error) {
	d.Errors = append(d.Errors, Error{job, err})
}

func (d Diagnostics) IsErr() bool {
	return len(d.Errors) != 0
}

// Err collapses the collected errors into a single ConfigError, or nil
// when validation passed.
func (d Diagnostics) Err() error {
	if !d.IsErr() {
		return nil
	}

	reasons := make([]string, len(d.Errors))
	for i, e := range d.Errors {
		reasons[i] = e.String()
	}

	return Errorf("%d definition error(s): %v", len(d.Errors), reasons)
}

type Error struct {
	Job   string
	Error error
}

func (e Error) String() string {
	return fmt.Sprintf("error: %s: %s", e.Job, e.Error.Error())
}

type Warning struct {
	Job    string
	Type   WarningKind
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("warning: %s: %s: %s", w.Job, w.Type, w.Reason)
}

type WarningKind string

var (
	UnknownExcludeAxis   WarningKind = "unknown exclude axis"
	InvalidConfiguration WarningKind = "invalid configuration"
)

// Validate checks a definition for structural problems the expander and
// resolver depend on not seeing: duplicate or missing job names,
// unresolved needs references, empty matrix axes, steps without
// commands, bad timeouts and conditions. Warnings flag suspicious but
// runnable constructs.
func Validate(def *Definition) Diagnostics {
	var d Diagnostics

	if len(def.Jobs) == 0 {
		d.AddError(def.Name, Errorf("definition has no jobs"))
		return d
	}

	names := make([]string, 0, len(def.Jobs))
	for _, job := range def.Jobs {
		if job.Name == "" {
			d.AddError(def.Name, Errorf("job with no name"))
			continue
		}
		if slices.Contains(names, job.Name) {
			d.AddError(job.Name, Errorf("duplicate job name %q", job.Name))
		}
		names = append(names, job.Name)
	}

	for _, job := range def.Jobs {
		validateJob(&d, &job, names)
	}

	return d
}

func validateJob(d *Diagnostics, job *JobTemplate, names []string) {
	for _, need := range job.Needs {
		if need == job.Name {
			d.AddError(job.Name, Errorf("job depends on itself"))
		} else if !slices.Contains(names, need) {
			d.AddError(job.Name, Errorf("needs unknown job %q", need))
		}
	}

	if len(job.Steps) == 0 {
		d.AddError(job.Name, Errorf("job has no steps"))
	}

	for _, step := range job.Steps {
		if step.Command == "" {
			d.AddError(job.Name, Errorf("step %q has no command", step.Name))
		}
		if !step.If.Valid() {
			d.AddError(job.Name, Errorf("step %q: unknown condition %q", step.Name, step.If))
		}
		if step.Cache != nil && step.Cache.Key == "" {
			d.AddError(job.Name, Errorf("step %q: cache without a key", step.Name))
		}
	}

	if job.Timeout != "" {
		if _, err := time.ParseDuration(job.Timeout); err != nil {
			d.AddError(job.Name, Errorf("bad timeout %q", job.Timeout))
		}
	}

	if job.Matrix == nil {
		return
	}

	var axes []string
	for _, axis := range job.Matrix.Axes {
		if slices.Contains(axes, axis.Name) {
			d.AddError(job.Name, Errorf("duplicate matrix axis %q", axis.Name))
		}
		axes = append(axes, axis.Name)
		if len(axis.Values) == 0 {
			d.AddError(job.Name, Errorf("matrix axis %q has no values", axis.Name))
		}
	}

	for _, rule := range job.Matrix.Exclude {
		for axis := range rule {
			if job.Matrix.Value(axis) == nil {
				d.AddWarning(job.Name, UnknownExcludeAxis, fmt.Sprintf("exclude names axis %q not in matrix", axis))
			}
		}
	}
}
