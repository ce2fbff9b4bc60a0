package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/ChristopherHX/release-publisher/protocol/oidc"
)

// ToolInvocation describes one external command of a run
type ToolInvocation struct {
	Args []string
	Dir  string
	// Env is added to the environment of the publisher process
	Env map[string]string
	// IdentityToken keeps the variables that request identity tokens for the run
	IdentityToken bool
	Stdout        io.Writer
	Stderr io.Writer
}

type ToolRunner interface {
	Run(ctx context.Context, inv *ToolInvocation) error
}

type ToolExitError struct {
	Args     []string
	ExitCode int
}

func (e *ToolExitError) Error() string {
	return fmt.Sprintf("%v exited with code %d", shellquote.Join(e.Args...), e.ExitCode)
}

// ParseCommand splits a configured command line into arguments
func ParseCommand(command string) ([]string, error) {
	args, err := shellquote.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command %q: %w", command, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return args, nil
}

// ExecToolRunner runs tools as child processes
type ExecToolRunner struct{}

func (ExecToolRunner) Run(ctx context.Context, inv *ToolInvocation) error {
	if len(inv.Args) == 0 {
		return fmt.Errorf("empty command")
	}
	bin, err := exec.LookPath(inv.Args[0])
	if err != nil {
		return fmt.Errorf("%v not found: %w", inv.Args[0], err)
	}
	//nolint:gosec // Commands come from the publisher configuration
	cmd := exec.CommandContext(ctx, bin, inv.Args[1:]...)
	cmd.Dir = inv.Dir
	cmd.Stdout = inv.Stdout
	cmd.Stderr = inv.Stderr
	cmd.Env = toolEnvironment(os.Environ(), inv)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ToolExitError{Args: inv.Args, ExitCode: exitErr.ExitCode()}
		}
		return err
	}
	return nil
}

// toolEnvironment is base plus inv.Env, without the identity token request
// variables unless inv.IdentityToken is set
func toolEnvironment(base []string, inv *ToolInvocation) []string {
	env := make([]string, 0, len(base)+len(inv.Env))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if !inv.IdentityToken && (name == oidc.EnvRequestURL || name == oidc.EnvRequestToken) {
			continue
		}
		env = append(env, kv)
	}
	keys := make([]string, 0, len(inv.Env))
	for k := range inv.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+inv.Env[k])
	}
	return env
}
