package analysis

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ben-ranford/depsplit/internal/bundler"
	"github.com/ben-ranford/depsplit/internal/runtime"
	"github.com/ben-ranford/depsplit/internal/testutil"
	"github.com/ben-ranford/depsplit/internal/workspace"
)

// fakeCompiler returns canned chunks keyed by entry path, or by entry name for
// inline entries.
type fakeCompiler struct {
	mu       sync.Mutex
	chunks   map[string]string
	compiled []string
	compile  func(entries []bundler.VirtualEntry, externals []string, opts bundler.Options) (bundler.Output, error)
}

func (f *fakeCompiler) CompileEntry(_ context.Context, entry bundler.Entry, _ bundler.EntryOptions) (bundler.EntryOutput, error) {
	key := entry.Path
	if key == "" {
		key = entry.Name
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compiled = append(f.compiled, key)
	code, ok := f.chunks[key]
	if !ok {
		return bundler.EntryOutput{}, fmt.Errorf("%w: no chunk for %s", bundler.ErrBuildFailed, key)
	}
	return bundler.EntryOutput{Code: code}, nil
}

func (f *fakeCompiler) Compile(_ context.Context, entries []bundler.VirtualEntry, externals []string, opts bundler.Options) (bundler.Output, error) {
	if f.compile == nil {
		return bundler.Output{}, fmt.Errorf("unexpected compile")
	}
	return f.compile(entries, externals, opts)
}

type fakeExecutor struct {
	mu       sync.Mutex
	executed []string
}

func (f *fakeExecutor) Execute(_ context.Context, chunkPath, _ string) (runtime.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, filepath.Base(chunkPath))
	return runtime.Result{}, nil
}

// monorepo writes a workspace with the given packages, each exposing
// src/index.ts, and returns its root.
func monorepo(t *testing.T, packages ...string) string {
	t.Helper()
	root := t.TempDir()
	testutil.WritePackage(t, root, map[string]any{"name": "acme", "workspaces": []string{"packages/*"}}, map[string]string{
		"src/main.ts": "",
	})
	for _, name := range packages {
		dir := filepath.Join(root, "packages", filepath.Base(name))
		testutil.WritePackage(t, dir, map[string]any{"name": name, "version": "1.0.0", "main": "src/index.ts"}, map[string]string{
			"src/index.ts": "",
		})
	}
	return root
}

func packageEntry(root, name string) string {
	return filepath.Join(root, "packages", filepath.Base(name), "src", "index.ts")
}

func discover(t *testing.T, root string) workspace.Info {
	t.Helper()
	info, err := workspace.Discover(root)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	return info
}
