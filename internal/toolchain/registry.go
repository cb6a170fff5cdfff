// Package toolchain resolves named tool installations into a stage environment.
package toolchain

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

// ErrToolNotFound is matched by every *ToolNotFoundError.
var ErrToolNotFound = errors.New("tool not found")

// ToolNotFoundError reports a tool name missing from the registry.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q is not configured", e.Name)
}

// Is lets errors.Is(err, ErrToolNotFound) match.
func (e *ToolNotFoundError) Is(target error) bool {
	return target == ErrToolNotFound
}

// Tool is a resolved tool installation.
type Tool struct {
	Name    string
	Home    string
	BinDir  string
	EnvVar  string
	Version string
}

// Registry holds the installed tool versions known to a project.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds a registry from the project's tool bindings. Relative
// homes are resolved against baseDir.
func NewRegistry(baseDir string, bindings []types.ToolBinding) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(bindings))}
	for _, b := range bindings {
		if err := r.Register(baseDir, b); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a single tool binding.
func (r *Registry) Register(baseDir string, b types.ToolBinding) error {
	if b.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if b.Home == "" {
		return fmt.Errorf("tool %q: home is required", b.Name)
	}
	if _, dup := r.tools[b.Name]; dup {
		return fmt.Errorf("tool %q registered twice", b.Name)
	}

	home := b.Home
	if !filepath.IsAbs(home) && baseDir != "" {
		home = filepath.Join(baseDir, home)
	}
	bin := b.Bin
	if bin == "" {
		bin = "bin"
	}
	if !filepath.IsAbs(bin) {
		bin = filepath.Join(home, bin)
	}

	r.tools[b.Name] = Tool{
		Name:    b.Name,
		Home:    home,
		BinDir:  bin,
		EnvVar:  b.EnvVar,
		Version: b.Version,
	}
	return nil
}

// Resolve returns the tool registered under name.
func (r *Registry) Resolve(name string) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return Tool{}, &ToolNotFoundError{Name: name}
	}
	return t, nil
}

// ResolveAll resolves every name in order, failing on the first miss.
func (r *Registry) ResolveAll(names []string) ([]Tool, error) {
	out := make([]Tool, 0, len(names))
	for _, n := range names {
		t, err := r.Resolve(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Names returns the configured tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Installed reports whether the tool's bin directory exists on disk.
func (t Tool) Installed() bool {
	info, err := os.Stat(t.BinDir)
	return err == nil && info.IsDir()
}

// Environ renders tools into environment entries layered over base. Each
// tool's EnvVar is set to its home and its bin directory is prepended to PATH
// in the given order, so the first tool wins on name clashes.
func Environ(base []string, tools []Tool) []string {
	env := make(map[string]string, len(base))
	var order []string
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, seen := env[k]; !seen {
			order = append(order, k)
		}
		env[k] = v
	}
	set := func(k, v string) {
		if _, seen := env[k]; !seen {
			order = append(order, k)
		}
		env[k] = v
	}

	bins := make([]string, 0, len(tools))
	for _, t := range tools {
		if t.EnvVar != "" {
			set(t.EnvVar, t.Home)
		}
		bins = append(bins, t.BinDir)
	}
	if len(bins) > 0 {
		path := strings.Join(bins, string(os.PathListSeparator))
		if cur := env["PATH"]; cur != "" {
			path += string(os.PathListSeparator) + cur
		}
		set("PATH", path)
	}

	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+env[k])
	}
	return out
}
