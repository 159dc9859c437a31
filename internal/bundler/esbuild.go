package bundler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// shimBanner recreates the CommonJS module globals inside ESM chunks.
const shimBanner = `import { createRequire as __depsplitCreateRequire } from "node:module";
import { fileURLToPath as __depsplitFileURLToPath } from "node:url";
import { dirname as __depsplitDirname } from "node:path";
const require = __depsplitCreateRequire(import.meta.url);
const __filename = __depsplitFileURLToPath(import.meta.url);
const __dirname = __depsplitDirname(__filename);`

const outputExtension = ".mjs"

type ESBuild struct{}

func NewESBuild() *ESBuild {
	return &ESBuild{}
}

// CompileEntry bundles a single entry into one ESM chunk. Every package import
// stays external and tree shaking is disabled so that each import binding in
// the source survives into the chunk.
func (e *ESBuild) CompileEntry(ctx context.Context, entry Entry, opts EntryOptions) (EntryOutput, error) {
	if err := ctx.Err(); err != nil {
		return EntryOutput{}, err
	}
	build := api.BuildOptions{
		Bundle:      true,
		Write:       false,
		Metafile:    true,
		Format:      api.FormatESModule,
		Platform:    api.PlatformNode,
		Target:      api.ESNext,
		Packages:    api.PackagesExternal,
		TreeShaking: api.TreeShakingFalse,
		LogLevel:    api.LogLevelSilent,
		Plugins:     []api.Plugin{aliasExternalPlugin()},
	}
	if opts.Sourcemap {
		build.Sourcemap = api.SourceMapInline
	}

	workingDir := opts.WorkingDir
	if entry.IsInline() {
		resolveDir := entry.ResolveDir
		if resolveDir == "" {
			resolveDir = workingDir
		}
		build.Stdin = &api.StdinOptions{
			Contents:   entry.Source,
			ResolveDir: resolveDir,
			Sourcefile: entry.Label(),
			Loader:     api.LoaderTS,
		}
		if workingDir == "" {
			workingDir = resolveDir
		}
	} else {
		build.EntryPoints = []string{entry.Path}
		if workingDir == "" {
			workingDir = filepath.Dir(entry.Path)
		}
	}
	if workingDir != "" {
		abs, err := filepath.Abs(workingDir)
		if err != nil {
			return EntryOutput{}, err
		}
		build.AbsWorkingDir = abs
	}

	result := api.Build(build)
	if len(result.Errors) > 0 {
		return EntryOutput{}, fmt.Errorf("%w: %s: %s", ErrBuildFailed, entry.Label(), formatMessages(result.Errors))
	}
	if len(result.OutputFiles) != 1 {
		return EntryOutput{}, fmt.Errorf("%w: %s: expected one output chunk, got %d", ErrBuildFailed, entry.Label(), len(result.OutputFiles))
	}
	meta, err := parseMetafile(result.Metafile)
	if err != nil {
		return EntryOutput{}, err
	}
	modules := make([]string, 0, len(meta.Inputs))
	for id := range meta.Inputs {
		modules = append(modules, id)
	}
	sort.Strings(modules)
	return EntryOutput{Code: string(result.OutputFiles[0].Contents), Modules: modules}, nil
}

// Compile emits one ESM entry chunk per virtual entry into opts.OutDir, with
// shared code split into chunks. Only the listed externals and runtime
// builtins are left unbundled.
func (e *ESBuild) Compile(ctx context.Context, entries []VirtualEntry, externals []string, opts Options) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	if opts.OutDir == "" {
		return Output{}, fmt.Errorf("%w: output directory is required", ErrBuildFailed)
	}
	outDir, err := filepath.Abs(opts.OutDir)
	if err != nil {
		return Output{}, err
	}
	workingDir := opts.ResolveDir
	if workingDir == "" {
		workingDir = outDir
	}
	workingDir, err = filepath.Abs(workingDir)
	if err != nil {
		return Output{}, err
	}

	sources := make(map[string]string, len(entries))
	points := make([]api.EntryPoint, 0, len(entries))
	declared := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		sources[entry.Key] = entry.Source
		points = append(points, api.EntryPoint{InputPath: entry.ID(), OutputPath: entry.Name})
		declared[entry.ID()] = struct{}{}
	}

	build := api.BuildOptions{
		EntryPointsAdvanced: points,
		Bundle:              true,
		Write:               false,
		Metafile:            true,
		Splitting:           true,
		Format:              api.FormatESModule,
		Platform:            api.PlatformNode,
		Target:              api.ESNext,
		External:            externals,
		Outdir:              outDir,
		AbsWorkingDir:       workingDir,
		OutExtension:        map[string]string{".js": outputExtension},
		LogLevel:            api.LogLevelSilent,
		Plugins: []api.Plugin{
			aliasExternalPlugin(),
			virtualModulePlugin(sources, workingDir),
		},
	}
	if opts.Sourcemap {
		build.Sourcemap = api.SourceMapLinked
	}
	if opts.Shim {
		build.Banner = map[string]string{"js": shimBanner}
	}

	result := api.Build(build)
	if len(result.Errors) > 0 {
		if unresolved, ok := unresolvedImport(result.Errors); ok {
			return Output{}, unresolved
		}
		return Output{}, fmt.Errorf("%w: %s", ErrBuildFailed, formatMessages(result.Errors))
	}
	if err := writeOutputs(result.OutputFiles); err != nil {
		return Output{}, err
	}
	meta, err := parseMetafile(result.Metafile)
	if err != nil {
		return Output{}, err
	}
	return buildOutput(meta, workingDir, outDir, declared), nil
}

func buildOutput(meta metafile, workingDir, outDir string, declared map[string]struct{}) Output {
	out := Output{OutDir: outDir, ModuleImports: make(map[string][]Import, len(meta.Inputs))}
	for id, input := range meta.Inputs {
		out.ModuleImports[id] = input.Imports
	}
	for key, output := range meta.Outputs {
		if filepath.Ext(key) != outputExtension {
			continue
		}
		path := filepath.Join(workingDir, filepath.FromSlash(key))
		file, err := filepath.Rel(outDir, path)
		if err != nil {
			file = key
		}
		chunk := Chunk{
			File:       filepath.ToSlash(file),
			Path:       path,
			EntryPoint: output.EntryPoint,
			Modules:    []string(output.Inputs),
			Imports:    output.Imports,
		}
		if output.EntryPoint != "" {
			_, ok := declared[output.EntryPoint]
			chunk.IsEntry = ok
			chunk.IsDynamicEntry = !ok
		}
		out.Chunks = append(out.Chunks, chunk)
	}
	sort.Slice(out.Chunks, func(i, j int) bool {
		return out.Chunks[i].File < out.Chunks[j].File
	})
	return out
}

func writeOutputs(files []api.OutputFile) error {
	for _, file := range files {
		if err := os.MkdirAll(filepath.Dir(file.Path), 0o750); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		if err := os.WriteFile(file.Path, file.Contents, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", file.Path, err)
		}
	}
	return nil
}

// aliasExternalPlugin leaves "#" subpath-import aliases unresolved; they are
// provided by the host build.
func aliasExternalPlugin() api.Plugin {
	return api.Plugin{
		Name: "depsplit-alias-external",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: `^#`},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{Path: args.Path, External: true}, nil
				})
		},
	}
}

// virtualModulePlugin serves synthesized dependency modules from memory.
// Their imports resolve from resolveDir as if they lived there on disk.
func virtualModulePlugin(sources map[string]string, resolveDir string) api.Plugin {
	prefix := VirtualNamespace + ":"
	return api.Plugin{
		Name: "depsplit-virtual",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: "^" + prefix},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{
						Path:      strings.TrimPrefix(args.Path, prefix),
						Namespace: VirtualNamespace,
					}, nil
				})
			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: VirtualNamespace},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					source, ok := sources[args.Path]
					if !ok {
						return api.OnLoadResult{}, fmt.Errorf("unknown virtual module %q", args.Path)
					}
					return api.OnLoadResult{
						Contents:   &source,
						ResolveDir: resolveDir,
						Loader:     api.LoaderJS,
					}, nil
				})
		},
	}
}

var couldNotResolvePattern = regexp.MustCompile(`^Could not resolve "([^"]+)"`)

// unresolvedImport picks the first "Could not resolve" error, which esbuild
// raises when a bundled module imports something that is not installed.
func unresolvedImport(messages []api.Message) (*UnresolvedImportError, bool) {
	for _, message := range messages {
		match := couldNotResolvePattern.FindStringSubmatch(message.Text)
		if match == nil {
			continue
		}
		out := &UnresolvedImportError{Specifier: match[1], Detail: formatMessages(messages)}
		if message.Location != nil {
			out.Importer = message.Location.File
		}
		return out, true
	}
	return nil, false
}

func formatMessages(messages []api.Message) string {
	parts := make([]string, 0, len(messages))
	for _, message := range messages {
		text := message.Text
		if message.Location != nil {
			text = fmt.Sprintf("%s:%d:%d: %s", message.Location.File, message.Location.Line, message.Location.Column, message.Text)
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "; ")
}
