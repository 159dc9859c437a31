// Package validate loads every emitted entry chunk in isolation and turns
// module-loading failures into typed, actionable errors.
package validate

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ben-ranford/depsplit/internal/bundler"
	"github.com/ben-ranford/depsplit/internal/runtime"
)

// BuildFunc emits the bundle, optionally with the CommonJS globals shim.
type BuildFunc func(ctx context.Context, shim bool) (bundler.Output, error)

type Executor interface {
	Execute(ctx context.Context, chunkPath, dir string) (runtime.Result, error)
}

// NodeExecutor runs chunks with a JavaScript runtime.
type NodeExecutor struct {
	Executable string
	Sourcemaps bool
}

func (n NodeExecutor) Execute(ctx context.Context, chunkPath, dir string) (runtime.Result, error) {
	req := runtime.Request{Executable: n.Executable, Script: chunkPath, Dir: dir}
	if n.Sourcemaps {
		req.Args = []string{"--enable-source-maps"}
	}
	return runtime.Run(ctx, req)
}

type Validator struct {
	Executor Executor
	Log      zerolog.Logger
}

type Report struct {
	Output     bundler.Output
	ResolveMap ResolveMap
	// Shimmed is set when the bundle only loaded after the CommonJS globals
	// shim was added.
	Shimmed bool
	// Executed lists the entry chunks that loaded successfully.
	Executed []string
}

// Validate builds the bundle and executes each static entry chunk. A failure
// caused by missing CommonJS globals triggers a single rebuild with the shim.
func (v *Validator) Validate(ctx context.Context, build BuildFunc) (Report, error) {
	report, failure, err := v.attempt(ctx, build, false)
	if err != nil {
		return report, err
	}
	if failure != nil && NeedsShim(failure.Output) {
		v.Log.Warn().Str("chunk", failure.Chunk).Msg("entry needs CommonJS globals; rebuilding with shim")
		report, failure, err = v.attempt(ctx, build, true)
		if err != nil {
			return report, err
		}
	}
	if failure != nil {
		return report, Classify(*failure, report.ResolveMap)
	}
	return report, nil
}

func (v *Validator) attempt(ctx context.Context, build BuildFunc, shim bool) (Report, *Failure, error) {
	out, err := build(ctx, shim)
	if err != nil {
		return Report{}, nil, FromBuildError(err)
	}
	report := Report{Output: out, ResolveMap: BuildResolveMap(out), Shimmed: shim}
	for _, chunk := range out.Chunks {
		if !chunk.IsEntry {
			continue
		}
		result, err := v.Executor.Execute(ctx, chunk.Path, filepath.Dir(chunk.Path))
		if err == nil {
			report.Executed = append(report.Executed, chunk.File)
			v.Log.Debug().Str("chunk", chunk.File).Msg("entry chunk loaded")
			continue
		}
		if !errors.Is(err, runtime.ErrExitStatus) {
			return report, nil, err
		}
		failure := &Failure{Chunk: chunk.File, OutDir: out.OutDir, Output: result.Output(), Cause: err}
		if key, ok := bundler.VirtualKey(chunk.EntryPoint); ok {
			failure.Entry = key
		}
		return report, failure, nil
	}
	return report, nil, nil
}
