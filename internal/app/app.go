// Package app loads project configuration, runs the analysis pipeline and
// renders its result.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ben-ranford/depsplit/internal/analysis"
	"github.com/ben-ranford/depsplit/internal/bundler"
	"github.com/ben-ranford/depsplit/internal/config"
	"github.com/ben-ranford/depsplit/internal/report"
	"github.com/ben-ranford/depsplit/internal/resolve"
	"github.com/ben-ranford/depsplit/internal/specifier"
	"github.com/ben-ranford/depsplit/internal/validate"
	"github.com/ben-ranford/depsplit/internal/workspace"
)

// StdinEntry is the entry value that reads the program source from stdin.
const StdinEntry = "-"

const stdinEntryName = "stdin"

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrBundleValidation = errors.New("bundle validation failed")
)

type Request struct {
	ProjectRoot string
	ConfigPath  string
	// Flags are command-line settings layered over the config file.
	Flags  config.Overrides
	Format report.Format
	Stdin  io.Reader
}

// ExecutorFunc builds the chunk executor for a resolved configuration.
type ExecutorFunc func(values config.Values) validate.Executor

type App struct {
	Compiler    bundler.Compiler
	NewExecutor ExecutorFunc
	Cache       *resolve.Cache
	Formatter   report.Formatter
	Log         zerolog.Logger
	Now         func() time.Time
}

func New(log zerolog.Logger) *App {
	return &App{
		Compiler:    bundler.NewESBuild(),
		NewExecutor: nodeExecutor,
		Cache:       resolve.NewCache(),
		Formatter:   report.NewFormatter(),
		Log:         log,
		Now:         time.Now,
	}
}

func nodeExecutor(values config.Values) validate.Executor {
	return validate.NodeExecutor{Executable: values.Node, Sourcemaps: values.Sourcemap}
}

// Execute returns the formatted report. When validation fails the report of
// the analysis is still returned alongside an error wrapping
// ErrBundleValidation.
func (a *App) Execute(ctx context.Context, req Request) (string, error) {
	root, err := workspace.NormalizeRepoPath(req.ProjectRoot)
	if err != nil {
		return "", err
	}
	loaded, err := config.Load(root, req.ConfigPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	values := loaded.Overrides.Merge(req.Flags).Apply(config.Defaults())
	if err := values.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	entries, err := buildEntries(root, values, req.Stdin)
	if err != nil {
		return "", err
	}
	a.Log.Debug().
		Str("root", root).
		Str("config", loaded.ConfigPath).
		Strs("sources", loaded.Sources).
		Int("entries", len(entries)).
		Msg("loaded configuration")

	mode := values.ParsedMode()
	pipeline := analysis.NewPipeline(a.Compiler, a.NewExecutor(values), a.Cache, a.Log)
	result, runErr := pipeline.Run(ctx, analysis.Request{
		Entries: entries,
		Overrides: specifier.Overrides{
			Global:     values.GlobalExternals,
			Deprecated: values.DeprecatedExternals,
			User:       values.Externals,
		},
		Policy:      analysis.Policy{Mode: mode, ExternalizePackages: values.ExternalizePackages},
		Transitive:  values.Transitive,
		DepthLimit:  values.DepthLimit,
		Concurrency: values.Concurrency,
		Sourcemap:   values.Sourcemap,
		OutDir:      values.OutDir,
		Validate:    values.ValidateBundle,
	})

	var validationErr *validate.Error
	if runErr != nil && !errors.As(runErr, &validationErr) {
		return "", runErr
	}
	formatted, err := a.Formatter.Format(report.New(result, mode, loaded.ConfigPath, a.Now()), req.Format)
	if err != nil {
		return "", err
	}
	if validationErr != nil {
		return formatted, fmt.Errorf("%w: %w", ErrBundleValidation, runErr)
	}
	return formatted, nil
}

// buildEntries lists the main entry first, then tools. Relative paths are
// taken from the project root.
func buildEntries(root string, values config.Values, stdin io.Reader) ([]bundler.Entry, error) {
	entries := make([]bundler.Entry, 0, len(values.Tools)+1)
	if strings.TrimSpace(values.Entry) == StdinEntry {
		if stdin == nil {
			return nil, fmt.Errorf("%w: entry %q requires source on stdin", ErrInvalidConfig, StdinEntry)
		}
		source, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read entry from stdin: %w", err)
		}
		entries = append(entries, bundler.Entry{Name: stdinEntryName, Source: string(source), ResolveDir: root})
	} else {
		entries = append(entries, bundler.Entry{Path: projectPath(root, values.Entry)})
	}
	for _, tool := range values.Tools {
		entries = append(entries, bundler.Entry{Path: projectPath(root, tool)})
	}
	return entries, nil
}

func projectPath(root, path string) string {
	path = filepath.FromSlash(strings.TrimSpace(path))
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(root, path)
}
