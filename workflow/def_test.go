package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFile(t *testing.T) {
	contents := []byte(`
jobs:
  - name: build
    image: alpine:3.20
    matrix:
      os: [linux, mac]
      arch: [x86, arm]
      exclude:
        - os: mac
          arch: x86
    steps:
      - name: compile
        command: make build
        environment:
          CFLAGS: -O2
      - name: archive
        command: tar cf out.tar bin/
        continue-on-error: true
  - name: test
    image: alpine:3.20
    needs: build
    timeout: 10m
    steps:
      - name: run tests
        command: make test
        cache:
          key: deps-v1
          paths: vendor
`)

	def, err := FromFile("ci.yml", contents)
	require.NoError(t, err)

	assert.Equal(t, "ci.yml", def.Name)
	require.Len(t, def.Jobs, 2)

	build := def.Jobs[0]
	assert.Equal(t, "build", build.Name)
	require.NotNil(t, build.Matrix)
	require.Len(t, build.Matrix.Axes, 2)
	// axis order follows document order
	assert.Equal(t, "os", build.Matrix.Axes[0].Name)
	assert.Equal(t, []string{"linux", "mac"}, build.Matrix.Axes[0].Values)
	assert.Equal(t, "arch", build.Matrix.Axes[1].Name)
	require.Len(t, build.Matrix.Exclude, 1)
	assert.Equal(t, map[string]string{"os": "mac", "arch": "x86"}, build.Matrix.Exclude[0])

	require.Len(t, build.Steps, 2)
	assert.Equal(t, "make build", build.Steps[0].Command)
	assert.Equal(t, "-O2", build.Steps[0].Environment["CFLAGS"])
	assert.True(t, build.Steps[1].ContinueOnError)

	test := def.Jobs[1]
	assert.Equal(t, StringList{"build"}, test.Needs)
	assert.Equal(t, "10m", test.Timeout)
	require.NotNil(t, test.Steps[0].Cache)
	assert.Equal(t, "deps-v1", test.Steps[0].Cache.Key)
	assert.Equal(t, StringList{"vendor"}, test.Steps[0].Cache.Paths)
}

func TestStringList_Unmarshal(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		want     StringList
		wantErr  bool
	}{
		{
			name:     "bare string",
			contents: "jobs: [{name: a, needs: build, steps: [{command: true}]}]",
			want:     StringList{"build"},
		},
		{
			name:     "list of strings",
			contents: "jobs: [{name: a, needs: [build, lint], steps: [{command: true}]}]",
			want:     StringList{"build", "lint"},
		},
		{
			name:     "non-scalar entry",
			contents: "jobs: [{name: a, needs: [{nested: map}], steps: [{command: true}]}]",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := FromFile("x.yml", []byte(tt.contents))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, def.Jobs[0].Needs)
		})
	}
}

func TestMatrix_UnmarshalRejectsNonMapping(t *testing.T) {
	_, err := FromFile("x.yml", []byte("jobs: [{name: a, matrix: [linux], steps: [{command: true}]}]"))
	assert.Error(t, err)
}

func TestCondition_Valid(t *testing.T) {
	assert.True(t, Condition("").Valid())
	assert.True(t, CondAlways.Valid())
	assert.True(t, CondOnSuccess.Valid())
	assert.True(t, CondOnFailure.Valid())
	assert.False(t, Condition("sometimes").Valid())
}

func TestJobTimeout(t *testing.T) {
	tmpl := JobTemplate{}
	d, err := tmpl.JobTimeout(30 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "30m0s", d.String())

	tmpl.Timeout = "90s"
	d, err = tmpl.JobTimeout(0)
	require.NoError(t, err)
	assert.Equal(t, "1m30s", d.String())

	tmpl.Timeout = "soon"
	_, err = tmpl.JobTimeout(0)
	assert.Error(t, err)
}
