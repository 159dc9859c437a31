package validate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ben-ranford/depsplit/internal/bundler"
	"github.com/ben-ranford/depsplit/internal/runtime"
)

type fakeExecutor struct {
	// failures maps chunk base names to the runtime output they fail with.
	failures map[string]string
	// shimFixes lists chunks that load once the shim is present.
	shimFixes map[string]bool
	shimmed   bool
	executed  []string
}

func (f *fakeExecutor) Execute(_ context.Context, chunkPath, _ string) (runtime.Result, error) {
	name := filepath.Base(chunkPath)
	f.executed = append(f.executed, name)
	output, ok := f.failures[name]
	if !ok || (f.shimmed && f.shimFixes[name]) {
		return runtime.Result{}, nil
	}
	result := runtime.Result{Stderr: output, ExitCode: 1}
	return result, fmt.Errorf("%w: %s: exit status 1", runtime.ErrExitStatus, chunkPath)
}

func buildFunc(outDir string, exec *fakeExecutor, builds *[]bool) BuildFunc {
	return func(_ context.Context, shim bool) (bundler.Output, error) {
		*builds = append(*builds, shim)
		exec.shimmed = shim
		return sampleOutput(outDir), nil
	}
}

func TestValidateSucceeds(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "deps")
	exec := &fakeExecutor{}
	var builds []bool
	v := &Validator{Executor: exec, Log: zerolog.Nop()}

	report, err := v.Validate(context.Background(), buildFunc(outDir, exec, &builds))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(builds) != 1 || builds[0] {
		t.Fatalf("expected a single unshimmed build, got %v", builds)
	}
	if len(exec.executed) != 1 || exec.executed[0] != "uses-ext.mjs" {
		t.Fatalf("only static entry chunks should run, got %v", exec.executed)
	}
	if report.Shimmed || len(report.Executed) != 1 || report.ResolveMap["uses-ext.mjs"]["left-pad"] == "" {
		t.Fatalf("unexpected report %#v", report)
	}
}

func TestValidateRetriesOnceWithShim(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "deps")
	exec := &fakeExecutor{
		failures:  map[string]string{"uses-ext.mjs": "ReferenceError: __dirname is not defined in ES module scope"},
		shimFixes: map[string]bool{"uses-ext.mjs": true},
	}
	var builds []bool
	v := &Validator{Executor: exec, Log: zerolog.Nop()}

	report, err := v.Validate(context.Background(), buildFunc(outDir, exec, &builds))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(builds) != 2 || builds[0] || !builds[1] {
		t.Fatalf("expected unshimmed then shimmed build, got %v", builds)
	}
	if !report.Shimmed {
		t.Fatalf("expected shimmed report")
	}
}

func TestValidateEscalatesWhenShimDoesNotHelp(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "deps")
	exec := &fakeExecutor{
		failures: map[string]string{"uses-ext.mjs": "ReferenceError: require is not defined in ES module scope"},
	}
	var builds []bool
	v := &Validator{Executor: exec, Log: zerolog.Nop()}

	_, err := v.Validate(context.Background(), buildFunc(outDir, exec, &builds))
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("expected ErrExecutionFailed, got %v", err)
	}
	if len(builds) != 2 {
		t.Fatalf("expected exactly one retry, got %d builds", len(builds))
	}
}

func TestValidateClassifiesFailure(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "deps")
	exec := &fakeExecutor{
		failures: map[string]string{
			"uses-ext.mjs": "Error [ERR_MODULE_NOT_FOUND]: Cannot find package 'left-pad' imported from " + filepath.Join(outDir, "uses-ext.mjs"),
		},
	}
	var builds []bool
	v := &Validator{Executor: exec, Log: zerolog.Nop()}

	_, err := v.Validate(context.Background(), buildFunc(outDir, exec, &builds))
	var validationErr *Error
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if validationErr.Kind != KindModuleNotFound || validationErr.Importer != "node_modules/uses-ext/index.js" {
		t.Fatalf("unexpected error detail %#v", validationErr)
	}
	if len(builds) != 1 {
		t.Fatalf("module-not-found must not trigger a shim rebuild")
	}
}

func TestValidateAttributesBundledNativeAddonToEntry(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "deps")
	exec := &fakeExecutor{
		failures: map[string]string{
			"uses-ext.mjs": "Error: No native build was found for platform=linux arch=x64\n    loaded from: " + outDir + "\n    at load (file://" + filepath.Join(outDir, "uses-ext.mjs") + ":60:9)",
		},
	}
	var builds []bool
	v := &Validator{Executor: exec, Log: zerolog.Nop()}

	_, err := v.Validate(context.Background(), buildFunc(outDir, exec, &builds))
	var validationErr *Error
	if !errors.As(err, &validationErr) || validationErr.Kind != KindMissingNativeBuild {
		t.Fatalf("expected MissingNativeBuild, got %v", err)
	}
	if validationErr.Package != "uses-ext" {
		t.Fatalf("expected the failing entry's dependency, got %q", validationErr.Package)
	}
}

func TestValidateMapsUnresolvedImportToModuleNotFound(t *testing.T) {
	buildErr := &bundler.UnresolvedImportError{
		Specifier: "missingthing/sub",
		Importer:  "node_modules/esmpkg/index.js",
		Detail:    `node_modules/esmpkg/index.js:1:14: Could not resolve "missingthing/sub"`,
	}
	v := &Validator{Executor: &fakeExecutor{}, Log: zerolog.Nop()}
	_, err := v.Validate(context.Background(), func(context.Context, bool) (bundler.Output, error) {
		return bundler.Output{}, buildErr
	})

	var validationErr *Error
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if !errors.Is(err, ErrModuleNotFound) || !errors.Is(err, bundler.ErrBuildFailed) {
		t.Fatalf("expected module-not-found wrapping the build failure, got %v", err)
	}
	if validationErr.Specifier != "missingthing/sub" || validationErr.Importer != "node_modules/esmpkg/index.js" || validationErr.Package != "missingthing" {
		t.Fatalf("unexpected error detail %#v", validationErr)
	}
	if want := `module not found: cannot resolve "missingthing/sub" imported by node_modules/esmpkg/index.js`; !strings.HasPrefix(err.Error(), want) {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestValidatePropagatesBuildErrors(t *testing.T) {
	buildErr := errors.New("boom")
	v := &Validator{Executor: &fakeExecutor{}, Log: zerolog.Nop()}
	_, err := v.Validate(context.Background(), func(context.Context, bool) (bundler.Output, error) {
		return bundler.Output{}, buildErr
	})
	if !errors.Is(err, buildErr) {
		t.Fatalf("expected build error to propagate, got %v", err)
	}
}

type brokenExecutor struct{}

func (brokenExecutor) Execute(context.Context, string, string) (runtime.Result, error) {
	return runtime.Result{}, runtime.ErrUnsupportedExecutable
}

func TestValidatePropagatesExecutorErrors(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "deps")
	v := &Validator{Executor: brokenExecutor{}, Log: zerolog.Nop()}
	_, err := v.Validate(context.Background(), func(context.Context, bool) (bundler.Output, error) {
		return sampleOutput(outDir), nil
	})
	if !errors.Is(err, runtime.ErrUnsupportedExecutable) {
		t.Fatalf("expected executor error, got %v", err)
	}
}
