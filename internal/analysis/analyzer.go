// Package analysis derives the external dependency graph of a program from
// its compiled entry points and decides which dependencies are bundled.
package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ben-ranford/depsplit/internal/bundler"
	"github.com/ben-ranford/depsplit/internal/deps"
	"github.com/ben-ranford/depsplit/internal/resolve"
	"github.com/ben-ranford/depsplit/internal/specifier"
	"github.com/ben-ranford/depsplit/internal/workspace"
)

const (
	DefaultDepthLimit  = 10
	DefaultConcurrency = 4
)

// Context carries the per-run inputs shared by every entry analysis.
type Context struct {
	Workspace   workspace.Info
	Resolver    *resolve.Resolver
	Overrides   specifier.Overrides
	Sourcemap   bool
	WorkingDir  string
	DepthLimit  int
	Concurrency int
}

func (c Context) depthLimit() int {
	if c.DepthLimit <= 0 {
		return DefaultDepthLimit
	}
	return c.DepthLimit
}

func (c Context) concurrency() int {
	if c.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return c.Concurrency
}

type EntryResult struct {
	Entry          bundler.Entry
	Dependencies   deps.Map
	CompiledOutput string
}

type Analyzer struct {
	compiler bundler.Compiler
	log      zerolog.Logger
}

func NewAnalyzer(compiler bundler.Compiler, log zerolog.Logger) *Analyzer {
	return &Analyzer{compiler: compiler, log: log}
}

// AnalyzeEntry compiles entry into a single chunk and records every package
// it imports with the bindings it uses. Targets reached only through dynamic
// import() are recorded with the wildcard.
func (a *Analyzer) AnalyzeEntry(ctx context.Context, entry bundler.Entry, actx Context) (EntryResult, error) {
	out, err := a.compiler.CompileEntry(ctx, entry, bundler.EntryOptions{
		Sourcemap:  actx.Sourcemap,
		WorkingDir: actx.WorkingDir,
	})
	if err != nil {
		return EntryResult{}, err
	}
	bindings, err := scanChunk(ctx, []byte(out.Code))
	if err != nil {
		return EntryResult{}, fmt.Errorf("analyze %s: %w", entry.Label(), err)
	}

	from := entry.Path
	if from == "" {
		from = entry.ResolveDir
	}
	dependencies := make(deps.Map)
	dynamic := make([]string, 0)
	for _, binding := range bindings {
		if !isDependency(binding.Module) {
			continue
		}
		if binding.IsDynamic() {
			dynamic = append(dynamic, binding.Module)
			continue
		}
		dependencies.Put(actx.record(binding.Module, from, binding.Name))
	}
	for _, module := range dynamic {
		if _, captured := dependencies[module]; captured {
			continue
		}
		dependencies.Put(actx.record(module, from, deps.Wildcard))
	}

	a.log.Debug().
		Str("entry", entry.Label()).
		Int("dependencies", len(dependencies)).
		Msg("analyzed entry")
	return EntryResult{Entry: entry, Dependencies: dependencies, CompiledOutput: out.Code}, nil
}

func (c Context) record(key, from, name string) deps.Record {
	rec := deps.Record{Key: key, Exports: deps.NewExports(name)}
	if pkg, ok := c.Workspace.Lookup(key); ok {
		rec.IsWorkspace = true
		rec.RootPath = pkg.Location
		rec.Version = pkg.Version
		return rec
	}
	if c.Resolver != nil {
		rec.RootPath = c.Resolver.ResolveRoot(key, from)
	}
	return rec
}

// isDependency keeps package specifiers and drops builtins, build-internal
// aliases and anything path-like.
func isDependency(spec string) bool {
	if !specifier.IsBare(spec) || strings.HasPrefix(spec, "#") {
		return false
	}
	if specifier.IsBuiltin(spec) || specifier.IsIgnored(spec) {
		return false
	}
	return specifier.PackageName(spec) != ""
}
