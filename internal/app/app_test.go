package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ben-ranford/depsplit/internal/bundler"
	"github.com/ben-ranford/depsplit/internal/config"
	"github.com/ben-ranford/depsplit/internal/report"
	"github.com/ben-ranford/depsplit/internal/resolve"
	"github.com/ben-ranford/depsplit/internal/runtime"
	"github.com/ben-ranford/depsplit/internal/testutil"
	"github.com/ben-ranford/depsplit/internal/validate"
)

type fakeCompiler struct {
	chunks map[string]string
	output func(entries []bundler.VirtualEntry, opts bundler.Options) bundler.Output
	err    error
}

func (f *fakeCompiler) CompileEntry(_ context.Context, entry bundler.Entry, _ bundler.EntryOptions) (bundler.EntryOutput, error) {
	key := entry.Path
	if key == "" {
		key = entry.Name
	}
	code, ok := f.chunks[key]
	if !ok {
		return bundler.EntryOutput{}, fmt.Errorf("%w: no chunk for %s", bundler.ErrBuildFailed, key)
	}
	return bundler.EntryOutput{Code: code}, nil
}

func (f *fakeCompiler) Compile(_ context.Context, entries []bundler.VirtualEntry, _ []string, opts bundler.Options) (bundler.Output, error) {
	if f.err != nil {
		return bundler.Output{}, f.err
	}
	return f.output(entries, opts), nil
}

type scriptedExecutor struct {
	stderr string
}

func (s scriptedExecutor) Execute(_ context.Context, chunkPath, _ string) (runtime.Result, error) {
	if s.stderr == "" {
		return runtime.Result{}, nil
	}
	return runtime.Result{Stderr: s.stderr, ExitCode: 1}, fmt.Errorf("%w: %s: exit status 1", runtime.ErrExitStatus, chunkPath)
}

func entryChunks(entries []bundler.VirtualEntry, opts bundler.Options) bundler.Output {
	out := bundler.Output{OutDir: opts.OutDir}
	for _, entry := range entries {
		out.Chunks = append(out.Chunks, bundler.Chunk{
			File:       entry.Name + ".mjs",
			Path:       filepath.Join(opts.OutDir, entry.Name+".mjs"),
			EntryPoint: entry.ID(),
			IsEntry:    true,
			Modules:    []string{entry.ID()},
		})
	}
	return out
}

func newTestApp(compiler bundler.Compiler, exec validate.Executor) *App {
	return &App{
		Compiler:    compiler,
		NewExecutor: func(config.Values) validate.Executor { return exec },
		Cache:       resolve.NewCache(),
		Formatter:   report.NewFormatter(),
		Log:         zerolog.Nop(),
		Now:         func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func project(t *testing.T, cfg string) string {
	t.Helper()
	root := t.TempDir()
	testutil.WritePackage(t, root, map[string]any{"name": "service"}, map[string]string{"src/main.ts": ""})
	testutil.WritePackage(t, filepath.Join(root, "node_modules", "lodash"), map[string]any{"name": "lodash", "version": "4.17.21"}, nil)
	if cfg != "" {
		testutil.MustWriteFile(t, filepath.Join(root, ".depsplit.yml"), cfg)
	}
	return root
}

func decodeReport(t *testing.T, output string) report.Report {
	t.Helper()
	var decoded report.Report
	if err := json.Unmarshal([]byte(output), &decoded); err != nil {
		t.Fatalf("decode report: %v\n%s", err, output)
	}
	return decoded
}

func TestExecuteUsesConfigFile(t *testing.T) {
	root := project(t, "entry: src/main.ts\nexternals: [sharp]\nvalidate: false\n")
	compiler := &fakeCompiler{chunks: map[string]string{
		filepath.Join(root, "src", "main.ts"): `import { map } from "lodash"; import sharp from "sharp";`,
	}}

	output, err := newTestApp(compiler, scriptedExecutor{}).Execute(context.Background(), Request{ProjectRoot: root, Format: report.FormatJSON})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	decoded := decodeReport(t, output)
	if len(decoded.BundledDependencies) != 1 || decoded.BundledDependencies[0].Key != "lodash" || decoded.BundledDependencies[0].Version != "4.17.21" {
		t.Fatalf("unexpected bundled dependencies %#v", decoded.BundledDependencies)
	}
	if len(decoded.ExternalDependencies) != 1 || decoded.ExternalDependencies[0].Package != "sharp" {
		t.Fatalf("unexpected external dependencies %#v", decoded.ExternalDependencies)
	}
	if !strings.HasSuffix(decoded.ConfigPath, ".depsplit.yml") || decoded.Mode != "build" {
		t.Fatalf("unexpected report metadata %#v", decoded)
	}
}

func TestExecuteFlagsOverrideConfig(t *testing.T) {
	root := project(t, "entry: src/main.ts\nvalidate: false\n")
	compiler := &fakeCompiler{chunks: map[string]string{
		filepath.Join(root, "src", "main.ts"): `import { map } from "lodash";`,
	}}
	mode := "optimize"

	output, err := newTestApp(compiler, scriptedExecutor{}).Execute(context.Background(), Request{
		ProjectRoot: root,
		Flags:       config.Overrides{Mode: &mode},
		Format:      report.FormatJSON,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	decoded := decodeReport(t, output)
	if decoded.Mode != "optimize" || len(decoded.BundledDependencies) != 0 || len(decoded.ExternalDependencies) != 1 {
		t.Fatalf("expected lodash to stay external in optimize mode, got %#v", decoded)
	}
}

func TestExecuteReadsEntryFromStdin(t *testing.T) {
	root := project(t, "")
	source := `import { map } from "lodash";`
	compiler := &fakeCompiler{chunks: map[string]string{stdinEntryName: source}}
	entry := StdinEntry
	validateOutput := false

	output, err := newTestApp(compiler, scriptedExecutor{}).Execute(context.Background(), Request{
		ProjectRoot: root,
		Flags:       config.Overrides{Entry: &entry, ValidateBundle: &validateOutput},
		Format:      report.FormatTable,
		Stdin:       strings.NewReader(source),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(output, "lodash") {
		t.Fatalf("expected lodash in output:\n%s", output)
	}
}

func TestExecuteValidationFailureKeepsReport(t *testing.T) {
	root := project(t, "entry: src/main.ts\n")
	compiler := &fakeCompiler{
		chunks: map[string]string{filepath.Join(root, "src", "main.ts"): `import { map } from "lodash";`},
		output: entryChunks,
	}
	exec := scriptedExecutor{stderr: "Error [ERR_MODULE_NOT_FOUND]: Cannot find package 'lodash-es' imported from /tmp/x.mjs"}

	output, err := newTestApp(compiler, exec).Execute(context.Background(), Request{ProjectRoot: root, Format: report.FormatTable})
	if !errors.Is(err, ErrBundleValidation) || !errors.Is(err, validate.ErrModuleNotFound) {
		t.Fatalf("expected bundle validation error, got %v", err)
	}
	if !strings.Contains(output, "lodash") {
		t.Fatalf("expected the report to be returned with the error, got %q", output)
	}
}

func TestExecuteUnresolvedBundledImportIsValidationFailure(t *testing.T) {
	root := project(t, "entry: src/main.ts\n")
	compiler := &fakeCompiler{
		chunks: map[string]string{filepath.Join(root, "src", "main.ts"): `import { run } from "esmpkg";`},
		err: &bundler.UnresolvedImportError{
			Specifier: "missingthing",
			Importer:  "node_modules/esmpkg/index.js",
			Detail:    `node_modules/esmpkg/index.js:1:14: Could not resolve "missingthing"`,
		},
	}

	output, err := newTestApp(compiler, scriptedExecutor{}).Execute(context.Background(), Request{ProjectRoot: root, Format: report.FormatTable})
	if !errors.Is(err, ErrBundleValidation) || !errors.Is(err, validate.ErrModuleNotFound) {
		t.Fatalf("expected module-not-found validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), `"missingthing" imported by node_modules/esmpkg/index.js`) {
		t.Fatalf("expected specifier and importer in message: %v", err)
	}
	if !strings.Contains(output, "esmpkg") {
		t.Fatalf("expected the report with the error, got %q", output)
	}
}

func TestExecuteValidatesAndWritesResolveMap(t *testing.T) {
	root := project(t, "entry: src/main.ts\nout_dir: build/deps\n")
	compiler := &fakeCompiler{
		chunks: map[string]string{filepath.Join(root, "src", "main.ts"): `import { map } from "lodash";`},
		output: entryChunks,
	}

	output, err := newTestApp(compiler, scriptedExecutor{}).Execute(context.Background(), Request{ProjectRoot: root, Format: report.FormatJSON})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	decoded := decodeReport(t, output)
	if decoded.ResolveMapPath != filepath.Join(root, "build", "deps", validate.ResolveMapFile) {
		t.Fatalf("unexpected resolve map path %q", decoded.ResolveMapPath)
	}
}

func TestExecuteConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		cfg  string
	}{
		{"missing entry", "validate: false\n"},
		{"unknown key", "entry: src/main.ts\nwatch: true\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root := project(t, tc.cfg)
			_, err := newTestApp(&fakeCompiler{}, scriptedExecutor{}).Execute(context.Background(), Request{ProjectRoot: root})
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestExecutePropagatesAnalysisErrors(t *testing.T) {
	root := project(t, "entry: src/missing.ts\n")
	output, err := newTestApp(&fakeCompiler{}, scriptedExecutor{}).Execute(context.Background(), Request{ProjectRoot: root})
	if !errors.Is(err, bundler.ErrBuildFailed) || errors.Is(err, ErrBundleValidation) {
		t.Fatalf("expected build failure, got %v", err)
	}
	if output != "" {
		t.Fatalf("expected no output on analysis failure, got %q", output)
	}
}

func TestNewWiresDefaults(t *testing.T) {
	a := New(zerolog.Nop())
	if a.Compiler == nil || a.Cache == nil || a.Now == nil {
		t.Fatalf("expected defaults to be wired: %#v", a)
	}
	exec, ok := a.NewExecutor(config.Values{Node: "bun", Sourcemap: true}).(validate.NodeExecutor)
	if !ok || exec.Executable != "bun" || !exec.Sourcemaps {
		t.Fatalf("unexpected executor %#v", exec)
	}
}
