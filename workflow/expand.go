package workflow

import (
	"fmt"
	"strings"
)

// ConfigError is a fatal definition error: the run is rejected before
// any job starts.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Reason
}

func Errorf(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

type (
	// JobInstance is one concrete expansion of a template against a
	// matrix combination. Its identity is stable across runs; all
	// mutable state (status, results) is owned by the scheduler.
	JobInstance struct {
		Template *JobTemplate
		Matrix   []MatrixValue // in axis order; empty for non-matrix jobs
	}

	MatrixValue struct {
		Axis  string
		Value string
	}
)

// ID returns the instance identity: the template name alone for
// non-matrix jobs, otherwise "name (v1, v2, ...)" with values in axis
// order.
func (ji *JobInstance) ID() string {
	if len(ji.Matrix) == 0 {
		return ji.Template.Name
	}

	values := make([]string, len(ji.Matrix))
	for i, mv := range ji.Matrix {
		values[i] = mv.Value
	}
	return fmt.Sprintf("%s (%s)", ji.Template.Name, strings.Join(values, ", "))
}

// MatrixEnv renders the instance's matrix assignment as environment
// variables of the form LOOM_MATRIX_<AXIS>=<value>.
func (ji *JobInstance) MatrixEnv() map[string]string {
	if len(ji.Matrix) == 0 {
		return nil
	}

	env := make(map[string]string, len(ji.Matrix))
	for _, mv := range ji.Matrix {
		env["LOOM_MATRIX_"+strings.ToUpper(mv.Axis)] = mv.Value
	}
	return env
}

// Expand produces the Cartesian product of the template's matrix axes
// as ordered job instances: axis order outer-to-inner, value order as
// declared. A template without a matrix expands to exactly one
// instance. An axis with no values is a definition error, as is a
// product in which every combination is excluded.
func Expand(tmpl *JobTemplate) ([]*JobInstance, error) {
	if tmpl.Matrix == nil || len(tmpl.Matrix.Axes) == 0 {
		return []*JobInstance{{Template: tmpl}}, nil
	}

	for _, axis := range tmpl.Matrix.Axes {
		if len(axis.Values) == 0 {
			return nil, Errorf("job %q: matrix axis %q has no values", tmpl.Name, axis.Name)
		}
	}

	combos := [][]MatrixValue{{}}
	for _, axis := range tmpl.Matrix.Axes {
		var next [][]MatrixValue
		for _, combo := range combos {
			for _, v := range axis.Values {
				ext := make([]MatrixValue, len(combo), len(combo)+1)
				copy(ext, combo)
				ext = append(ext, MatrixValue{Axis: axis.Name, Value: v})
				next = append(next, ext)
			}
		}
		combos = next
	}

	var instances []*JobInstance
	for _, combo := range combos {
		if excluded(combo, tmpl.Matrix.Exclude) {
			continue
		}
		instances = append(instances, &JobInstance{Template: tmpl, Matrix: combo})
	}

	if len(instances) == 0 {
		return nil, Errorf("job %q: all matrix combinations are excluded", tmpl.Name)
	}

	return instances, nil
}

// ExpandAll expands every template in definition order, so the
// resulting instance order is reproducible for identical inputs.
func ExpandAll(def *Definition) ([]*JobInstance, error) {
	var all []*JobInstance
	for i := range def.Jobs {
		instances, err := Expand(&def.Jobs[i])
		if err != nil {
			return nil, err
		}
		all = append(all, instances...)
	}
	return all, nil
}

// a combination is excluded when some exclude rule's axis/value pairs
// all match it exactly; rules naming axes absent from the combination
// never match
func excluded(combo []MatrixValue, rules []map[string]string) bool {
	for _, rule := range rules {
		if len(rule) == 0 {
			continue
		}
		matched := true
		for axis, want := range rule {
			found := false
			for _, mv := range combo {
				if mv.Axis == axis && mv.Value == want {
					found = true
					break
				}
			}
			if !found {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}
