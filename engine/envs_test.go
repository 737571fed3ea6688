package engine

import (
	"reflect"
	"testing"
)

func TestConstructEnvs(t *testing.T) {
	tests := []struct {
		name string
		in   []map[string]string
		want EnvVars
	}{
		{
			name: "empty input",
			in:   nil,
			want: nil,
		},
		{
			name: "single map sorted",
			in:   []map[string]string{{"FOO": "bar", "BAZ": "qux"}},
			want: EnvVars{"BAZ=qux", "FOO=bar"},
		},
		{
			name: "later maps override earlier",
			in: []map[string]string{
				{"FOO": "job-level", "KEEP": "yes"},
				{"FOO": "step-level"},
			},
			want: EnvVars{"FOO=step-level", "KEEP=yes"},
		},
		{
			name: "nil maps are skipped",
			in:   []map[string]string{nil, {"FOO": "bar"}, nil},
			want: EnvVars{"FOO=bar"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConstructEnvs(tt.in...)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ConstructEnvs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAddEnv(t *testing.T) {
	ev := EnvVars{}
	ev.AddEnv("FOO", "bar")
	ev.AddEnv("BAZ", "qux")

	want := EnvVars{"FOO=bar", "BAZ=qux"}
	if !reflect.DeepEqual(ev, want) {
		t.Errorf("AddEnv result = %v, want %v", ev, want)
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"build", "build"},
		{"test (linux, x86)", "test--linux--x86-"},
		{"job_1.2-rc", "job_1.2-rc"},
	}

	for _, tt := range tests {
		if got := Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
