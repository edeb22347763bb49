package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/aretw0/espalier/pkg/capability"
)

// Runner provides capability handlers backed by local processes. It follows
// a strict allow-list: only registered commands can ever be executed, and
// step params are passed as environment variables rather than argv to rule
// out flag injection.
type Runner struct {
	registry map[string]registeredProcess
	baseDir  string
}

type registeredProcess struct {
	command string
	args    []string
	env     map[string]string
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithRegistry populates the allow-list from a loaded config.
func WithRegistry(tools map[string]ToolConfig) RunnerOption {
	return func(r *Runner) {
		for name, tool := range tools {
			r.registry[name] = registeredProcess{
				command: tool.Command,
				args:    tool.Args,
				env:     tool.Environment,
			}
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// NewRunner creates a process-backed capability provider.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: make(map[string]registeredProcess),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted command to the allow-list.
func (r *Runner) Register(name string, command string, args ...string) {
	r.registry[name] = registeredProcess{command: command, args: args}
}

// Install registers every allow-listed tool as an action under the given
// skill, so a plan step {skill: "process", action: "<tool>"} dispatches to
// the corresponding command.
func (r *Runner) Install(reg *capability.Registry, skill string) {
	for name := range r.registry {
		proc := r.registry[name]
		reg.RegisterFunc(skill, name, func(ctx context.Context, params map[string]any) (any, error) {
			return r.run(ctx, proc, params)
		})
	}
}

// run executes a registered process with step params exported as
// ESPALIER_PARAM_* environment variables. Stdout that parses as JSON is
// returned structured; anything else comes back as a trimmed string.
func (r *Runner) run(ctx context.Context, proc registeredProcess, params map[string]any) (any, error) {
	cmd := exec.CommandContext(ctx, proc.command, proc.args...)
	cmd.Dir = r.baseDir

	env := cmd.Environ()
	for k, v := range proc.env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	for k, v := range params {
		var val string
		switch v.(type) {
		case string, int, int64, float64, bool:
			val = fmt.Sprintf("%v", v)
		case nil:
			val = ""
		default:
			if raw, err := json.Marshal(v); err == nil {
				val = string(raw)
			} else {
				val = fmt.Sprintf("%v", v)
			}
		}
		env = append(env, fmt.Sprintf("ESPALIER_PARAM_%s=%s", strings.ToUpper(k), val))
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &capability.Error{
			Reason: fmt.Sprintf("process failed: %s", strings.TrimSpace(stderr.String())),
			Cause:  err,
		}
	}

	trimmed := strings.TrimSpace(stdout.String())

	if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
		var structured any
		if err := json.Unmarshal([]byte(trimmed), &structured); err == nil {
			return structured, nil
		}
	}

	return trimmed, nil
}
