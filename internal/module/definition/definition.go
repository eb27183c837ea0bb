// Package definition loads modules from YAML definition files.
package definition

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"path/filepath"
	"slices"

	"github.com/compose-network/mortar/internal/logger"
	"github.com/compose-network/mortar/internal/module"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

type (
	File struct {
		Name      string    `yaml:"name"`
		Artifacts string    `yaml:"artifacts"`
		Imports   []string  `yaml:"imports"`
		External  []string  `yaml:"external"`
		Bindings  []Binding `yaml:"bindings"`
		Events    []Event   `yaml:"events"`
	}

	Binding struct {
		Name string `yaml:"name"`
		// Kind names the artifact; defaults to Name.
		Kind string `yaml:"kind"`
		From string `yaml:"from"`
		Args []any  `yaml:"args"`
	}

	Event struct {
		Name         string   `yaml:"name"`
		Phase        string   `yaml:"phase"`
		Owner        string   `yaml:"owner"`
		From         string   `yaml:"from"`
		Dependencies []string `yaml:"dependencies"`
		Usages       []string `yaml:"usages"`
		Calls        []Call   `yaml:"calls"`
	}

	Call struct {
		Binding string `yaml:"binding"`
		Method  string `yaml:"method"`
		Args    []any  `yaml:"args"`
		// Value is the attached wei amount, decimal or 0x-prefixed.
		Value string `yaml:"value"`
	}

	Loader struct {
		fs      afero.Fs
		loaded  map[string]*module.Module
		loading []string
		logger  *slog.Logger
	}
)

func NewLoader(fs afero.Fs) *Loader {
	return &Loader{
		fs:     fs,
		loaded: make(map[string]*module.Module),
		logger: logger.Named("definition_loader"),
	}
}

// Load reads a definition file and builds its module, including imports.
// Relative paths inside a definition are resolved against its directory.
func (l *Loader) Load(path string) (*module.Module, error) {
	path = filepath.Clean(path)
	if m, ok := l.loaded[path]; ok {
		return m, nil
	}
	if slices.Contains(l.loading, path) {
		return nil, fmt.Errorf("%w: import cycle through %s", module.ErrCyclicDependency, path)
	}
	l.loading = append(l.loading, path)
	defer func() { l.loading = l.loading[:len(l.loading)-1] }()

	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module definition: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse module definition %s: %w", path, err)
	}

	m, err := l.build(filepath.Dir(path), file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	l.logger.With("module", m.Name, "path", path, "elements", m.Len()).Debug("module definition loaded")
	l.loaded[path] = m
	return m, nil
}

func (l *Loader) build(dir string, file File) (*module.Module, error) {
	if file.Name == "" {
		return nil, fmt.Errorf("module name is required")
	}

	b := module.NewBuilder(file.Name)
	b.Extern(file.External...)

	declared := make(map[string]bool)
	for _, imp := range file.Imports {
		sub, err := l.Load(resolvePath(dir, imp))
		if err != nil {
			return nil, fmt.Errorf("failed to import %s: %w", imp, err)
		}
		b.Import(sub)
		for _, element := range sub.Elements() {
			declared[element.ElementName()] = true
		}
	}
	for _, binding := range file.Bindings {
		declared[binding.Name] = true
	}

	artifacts := map[string]*module.Artifact{}
	if file.Artifacts != "" {
		loaded, err := module.LoadArtifacts(l.fs, resolvePath(dir, file.Artifacts))
		if err != nil {
			return nil, err
		}
		artifacts = loaded
	}

	for _, binding := range file.Bindings {
		kind := binding.Kind
		if kind == "" {
			kind = binding.Name
		}
		args := make([]module.Argument, 0, len(binding.Args))
		for _, arg := range binding.Args {
			args = append(args, toArgument(arg))
		}
		b.Bind(binding.Name, kind, artifacts[kind], args...).SendFrom(binding.From)
	}

	for _, event := range file.Events {
		phase, err := module.ParsePhase(event.Phase)
		if err != nil {
			return nil, fmt.Errorf("event '%s': %w", event.Name, err)
		}
		body, targets, err := hookBody(event.Calls)
		if err != nil {
			return nil, fmt.Errorf("event '%s': %w", event.Name, err)
		}

		e := b.On(event.Name, phase, event.Owner, body).
			DependsOn(event.Dependencies...).
			Uses(event.Usages...).
			SendFrom(event.From)

		// called bindings must be deployed before the hook runs
		for _, target := range targets {
			if target != event.Owner && declared[target] {
				e.DependsOn(target)
			}
		}
	}

	return b.Build()
}

// hookBody turns a list of calls into a hook executed in order.
func hookBody(calls []Call) (module.HookFunc, []string, error) {
	type preparedCall struct {
		Call
		value *big.Int
	}

	prepared := make([]preparedCall, 0, len(calls))
	var targets []string
	for _, call := range calls {
		if call.Binding == "" || call.Method == "" {
			return nil, nil, fmt.Errorf("calls need a binding and a method")
		}
		value := new(big.Int)
		if call.Value != "" {
			if _, ok := value.SetString(call.Value, 0); !ok {
				return nil, nil, fmt.Errorf("invalid value '%s' for %s.%s", call.Value, call.Binding, call.Method)
			}
		}
		prepared = append(prepared, preparedCall{Call: call, value: value})
		if !slices.Contains(targets, call.Binding) {
			targets = append(targets, call.Binding)
		}
	}

	body := func(ctx context.Context, hc module.HookContext) error {
		for _, call := range prepared {
			args := make([]any, 0, len(call.Args))
			for _, arg := range call.Args {
				resolved, err := resolveRefs(hc, arg)
				if err != nil {
					return err
				}
				args = append(args, resolved)
			}
			if _, err := hc.CallWithValue(ctx, call.value, call.Binding, call.Method, args...); err != nil {
				return fmt.Errorf("failed to call %s.%s: %w", call.Binding, call.Method, err)
			}
		}
		return nil
	}
	return body, targets, nil
}

func toArgument(value any) module.Argument {
	if ref, ok := refName(value); ok {
		return module.Ref(ref)
	}
	return module.Lit(value)
}

func resolveRefs(hc module.HookContext, value any) (any, error) {
	if ref, ok := refName(value); ok {
		return hc.Address(ref)
	}
	if list, ok := value.([]any); ok {
		resolved := make([]any, len(list))
		for i, item := range list {
			r, err := resolveRefs(hc, item)
			if err != nil {
				return nil, err
			}
			resolved[i] = r
		}
		return resolved, nil
	}
	return value, nil
}

func refName(value any) (string, bool) {
	m, ok := value.(map[string]any)
	if !ok || len(m) != 1 {
		return "", false
	}
	ref, ok := m["ref"].(string)
	return ref, ok
}

func resolvePath(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
