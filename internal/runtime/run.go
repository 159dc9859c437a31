// Package runtime executes emitted bundle chunks in a JavaScript runtime.
package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const DefaultExecutable = "node"

// waitDelay bounds how long output pipes may outlive a killed process.
const waitDelay = 2 * time.Second

var (
	ErrExitStatus            = errors.New("runtime exited with non-zero status")
	ErrUnsupportedExecutable = errors.New("unsupported runtime executable")
)

var supportedExecutables = map[string]bool{
	"node": true,
	"bun":  true,
}

type Request struct {
	// Executable is a supported runtime name or an absolute path to one.
	Executable string
	Script     string
	Dir        string
	Args       []string
	Env        map[string]string
	Timeout    time.Duration
}

type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Output returns stderr followed by stdout, which is where runtimes print
// uncaught errors and their stacks.
func (r Result) Output() string {
	return strings.TrimSpace(r.Stderr + "\n" + r.Stdout)
}

// Run executes req.Script and captures its output. A script that runs but
// exits non-zero yields a Result together with an error wrapping
// ErrExitStatus.
func Run(ctx context.Context, req Request) (Result, error) {
	script := strings.TrimSpace(req.Script)
	if script == "" {
		return Result{}, fmt.Errorf("runtime script is required")
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd, err := buildCommand(ctx, req.Executable, append(append([]string{}, req.Args...), script))
	if err != nil {
		return Result{}, err
	}
	cmd.Dir = req.Dir
	cmd.WaitDelay = waitDelay
	if len(req.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), req.Env)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("run %s: %w", script, ctxErr)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, fmt.Errorf("%w: %s: exit status %d", ErrExitStatus, script, result.ExitCode)
		}
		return result, fmt.Errorf("run %s: %w", script, runErr)
	}
	return result, nil
}

func buildCommand(ctx context.Context, executable string, args []string) (*exec.Cmd, error) {
	executable = strings.TrimSpace(executable)
	if executable == "" {
		executable = DefaultExecutable
	}
	if filepath.IsAbs(executable) {
		info, err := os.Stat(executable)
		if err != nil || info.IsDir() || info.Mode()&0o111 == 0 {
			return nil, fmt.Errorf("%w: %s is not an executable file", ErrUnsupportedExecutable, executable)
		}
	} else if !supportedExecutables[executable] {
		return nil, fmt.Errorf("%w %q; use node, bun or an absolute path", ErrUnsupportedExecutable, executable)
	}
	// #nosec G204 -- executable is allowlisted or an absolute path chosen by the operator.
	cmd := exec.CommandContext(ctx, executable, args...)
	return cmd, nil
}

func mergeEnv(base []string, updates map[string]string) []string {
	merged := make(map[string]string, len(base)+len(updates))
	for _, item := range base {
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 {
			continue
		}
		merged[parts[0]] = parts[1]
	}
	for key, value := range updates {
		merged[key] = value
	}
	items := make([]string, 0, len(merged))
	for key, value := range merged {
		items = append(items, key+"="+value)
	}
	return items
}
