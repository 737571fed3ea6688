package engine

import (
	"fmt"
	"regexp"
	"slices"
)

type EnvVars []string

// ConstructEnvs merges environment maps into a runtime-friendly
// []string{"KEY=value", ...} slice. Later maps override earlier ones;
// keys are emitted in sorted order so constructed environments are
// reproducible.
func ConstructEnvs(maps ...map[string]string) EnvVars {
	merged := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var envs EnvVars
	for _, k := range keys {
		envs = append(envs, fmt.Sprintf("%s=%s", k, merged[k]))
	}
	return envs
}

// Slice returns the EnvVars as a []string slice.
func (ev EnvVars) Slice() []string {
	return ev
}

// AddEnv appends a key=value string to the EnvVars.
func (ev *EnvVars) AddEnv(key, value string) {
	*ev = append(*ev, fmt.Sprintf("%s=%s", key, value))
}

var unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// Sanitize maps an instance ID to a name safe for filesystem paths,
// container names and networks.
func Sanitize(id string) string {
	return unsafeIDChars.ReplaceAllString(id, "-")
}
