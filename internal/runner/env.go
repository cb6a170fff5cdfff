package runner

import (
	"sort"
	"strings"

	"github.com/dwsmith1983/stagehand/internal/toolchain"
	"github.com/dwsmith1983/stagehand/pkg/types"
)

// overlay returns a copy of base with vars set. Existing keys keep their
// position; new keys are appended in sorted order.
func overlay(base []string, vars map[string]string) []string {
	out := make([]string, 0, len(base)+len(vars))
	index := make(map[string]int, len(base))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if i, ok := index[k]; ok {
			out[i] = kv
			continue
		}
		index[k] = len(out)
		out = append(out, kv)
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		kv := k + "=" + vars[k]
		if i, ok := index[k]; ok {
			out[i] = kv
			continue
		}
		index[k] = len(out)
		out = append(out, kv)
	}
	return out
}

// stageEnv layers the stage's own tools and variables over the pipeline env.
func stageEnv(pipelineEnv []string, tools map[string]toolchain.Tool, stage types.StageSpec) []string {
	env := pipelineEnv
	if len(stage.Tools) > 0 {
		stageTools := make([]toolchain.Tool, 0, len(stage.Tools))
		for _, name := range stage.Tools {
			stageTools = append(stageTools, tools[name])
		}
		env = toolchain.Environ(env, stageTools)
	}
	if len(stage.Env) > 0 {
		env = overlay(env, stage.Env)
	}
	return env
}

func lookupEnv(env []string, key string) (string, bool) {
	for i := len(env) - 1; i >= 0; i-- {
		if k, v, ok := strings.Cut(env[i], "="); ok && k == key {
			return v, true
		}
	}
	return "", false
}
