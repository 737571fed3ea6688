package workflow

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// - a run executes a single workflow definition to completion
// - a definition consists of several job templates
// - a template with a matrix expands into one instance per combination
// - instances execute in dependency order, steps within one serially

type (
	// Definition is a structural representation of a workflow file.
	// It is immutable once loaded; all execution state lives elsewhere.
	Definition struct {
		Name string        `yaml:"-"` // name of the workflow file
		Jobs []JobTemplate `yaml:"jobs"`
	}

	JobTemplate struct {
		Name        string            `yaml:"name"`
		Image       string            `yaml:"image"`
		Needs       StringList        `yaml:"needs"`
		Matrix      *Matrix           `yaml:"matrix"`
		Steps       []Step            `yaml:"steps"`
		Environment map[string]string `yaml:"environment"`
		Timeout     string            `yaml:"timeout"`
	}

	Step struct {
		Name            string            `yaml:"name"`
		Command         string            `yaml:"command"`
		Environment     map[string]string `yaml:"environment"`
		If              Condition         `yaml:"if"`
		ContinueOnError bool              `yaml:"continue-on-error"`
		Cache           *CacheSpec        `yaml:"cache"`
	}

	// CacheSpec marks a step as cache-aware: before the step runs, Key
	// is looked up and restored into the workspace on a hit; after the
	// step succeeds, Paths are saved under Key if it is still unclaimed.
	// Files lists workspace files whose contents are hashed into the
	// final key alongside the host OS and architecture.
	CacheSpec struct {
		Key   string     `yaml:"key"`
		Paths StringList `yaml:"paths"`
		Files StringList `yaml:"files"`
	}

	Condition string

	StringList []string
)

const (
	// run the step only if no prior step has failed the job (default)
	CondOnSuccess Condition = "on-success"
	// run the step regardless of prior outcomes
	CondAlways Condition = "always"
	// run the step only if a prior step has failed the job
	CondOnFailure Condition = "on-failure"
)

func (c Condition) Valid() bool {
	switch c {
	case "", CondOnSuccess, CondAlways, CondOnFailure:
		return true
	}
	return false
}

func FromFile(name string, contents []byte) (Definition, error) {
	var def Definition

	err := yaml.Unmarshal(contents, &def)
	if err != nil {
		return def, err
	}

	def.Name = name

	return def, nil
}

// JobTimeout parses the template's wall-clock timeout, falling back to
// fallback when none is declared.
func (t *JobTemplate) JobTimeout(fallback time.Duration) (time.Duration, error) {
	if t.Timeout == "" {
		return fallback, nil
	}
	return time.ParseDuration(t.Timeout)
}

// Custom unmarshaller for StringList: accepts a bare string or a list.
func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*s = []string{value.Value}
		return nil
	}

	if value.Kind == yaml.SequenceNode {
		parts := make([]string, len(value.Content))
		for i, item := range value.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("cannot unmarshal %s into a string value", item.Tag)
			}
			parts[i] = item.Value
		}
		*s = parts
		return nil
	}

	return errors.New("failed to unmarshal StringOrSlice")
}
