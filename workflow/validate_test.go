package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validJob(name string, needs ...string) JobTemplate {
	return JobTemplate{
		Name:  name,
		Needs: needs,
		Steps: []Step{{Name: "step", Command: "true"}},
	}
}

func TestValidate_OK(t *testing.T) {
	def := Definition{
		Name: "ci.yml",
		Jobs: []JobTemplate{
			validJob("build"),
			validJob("test", "build"),
		},
	}

	d := Validate(&def)
	assert.True(t, d.IsEmpty())
	assert.NoError(t, d.Err())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
	}{
		{
			name: "no jobs",
			def:  Definition{Name: "empty.yml"},
		},
		{
			name: "duplicate job name",
			def:  Definition{Jobs: []JobTemplate{validJob("build"), validJob("build")}},
		},
		{
			name: "unresolved needs",
			def:  Definition{Jobs: []JobTemplate{validJob("test", "build")}},
		},
		{
			name: "self dependency",
			def:  Definition{Jobs: []JobTemplate{validJob("test", "test")}},
		},
		{
			name: "job without steps",
			def:  Definition{Jobs: []JobTemplate{{Name: "hollow"}}},
		},
		{
			name: "step without command",
			def: Definition{Jobs: []JobTemplate{
				{Name: "job", Steps: []Step{{Name: "noop"}}},
			}},
		},
		{
			name: "empty matrix axis",
			def: Definition{Jobs: []JobTemplate{
				{
					Name:   "job",
					Matrix: &Matrix{Axes: []Axis{{Name: "os"}}},
					Steps:  []Step{{Command: "true"}},
				},
			}},
		},
		{
			name: "duplicate matrix axis",
			def: Definition{Jobs: []JobTemplate{
				{
					Name: "job",
					Matrix: &Matrix{Axes: []Axis{
						{Name: "os", Values: []string{"linux"}},
						{Name: "os", Values: []string{"mac"}},
					}},
					Steps: []Step{{Command: "true"}},
				},
			}},
		},
		{
			name: "bad timeout",
			def: Definition{Jobs: []JobTemplate{
				{Name: "job", Timeout: "later", Steps: []Step{{Command: "true"}}},
			}},
		},
		{
			name: "unknown condition",
			def: Definition{Jobs: []JobTemplate{
				{Name: "job", Steps: []Step{{Command: "true", If: "sometimes"}}},
			}},
		},
		{
			name: "cache without key",
			def: Definition{Jobs: []JobTemplate{
				{Name: "job", Steps: []Step{{Command: "true", Cache: &CacheSpec{}}}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Validate(&tt.def)
			assert.True(t, d.IsErr())
			assert.Error(t, d.Err())

			var cfgErr *ConfigError
			assert.ErrorAs(t, d.Err(), &cfgErr)
		})
	}
}

func TestValidate_UnknownExcludeAxisWarns(t *testing.T) {
	def := Definition{
		Jobs: []JobTemplate{
			{
				Name: "job",
				Matrix: &Matrix{
					Axes:    []Axis{{Name: "os", Values: []string{"linux"}}},
					Exclude: []map[string]string{{"arch": "x86"}},
				},
				Steps: []Step{{Command: "true"}},
			},
		},
	}

	d := Validate(&def)
	assert.False(t, d.IsErr())
	assert.Len(t, d.Warnings, 1)
	assert.Equal(t, UnknownExcludeAxis, d.Warnings[0].Type)
}
