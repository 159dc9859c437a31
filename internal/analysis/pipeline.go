package analysis

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ben-ranford/depsplit/internal/bundler"
	"github.com/ben-ranford/depsplit/internal/deps"
	"github.com/ben-ranford/depsplit/internal/resolve"
	"github.com/ben-ranford/depsplit/internal/specifier"
	"github.com/ben-ranford/depsplit/internal/validate"
	"github.com/ben-ranford/depsplit/internal/virtual"
	"github.com/ben-ranford/depsplit/internal/workspace"
)

const DefaultOutDir = ".depsplit/deps"

var ErrNoEntries = errors.New("at least one entry is required")

type Request struct {
	// Entries lists the main program entry first, then tool entries.
	Entries     []bundler.Entry
	Overrides   specifier.Overrides
	Policy      Policy
	Transitive  bool
	DepthLimit  int
	Concurrency int
	Sourcemap   bool
	// OutDir is relative to the workspace root unless absolute.
	OutDir   string
	Validate bool
}

type Dependency struct {
	Key         string         `json:"key"`
	Package     string         `json:"package"`
	Version     string         `json:"version,omitempty"`
	Exports     []string       `json:"exports,omitempty"`
	IsWorkspace bool           `json:"isWorkspace,omitempty"`
	Kind        specifier.Kind `json:"kind"`
	// Entry is the emitted virtual module name for bundled dependencies.
	Entry string `json:"entry,omitempty"`
}

type Result struct {
	WorkspaceRoot        string                           `json:"workspaceRoot"`
	Entries              []string                         `json:"entries"`
	BundledDependencies  []Dependency                     `json:"bundledDependencies"`
	ExternalDependencies []Dependency                     `json:"externalDependencies"`
	WorkspaceMap         map[string]workspace.PackageInfo `json:"workspaceMap"`
	ResolveMap           validate.ResolveMap              `json:"resolveMap,omitempty"`
	ResolveMapPath       string                           `json:"resolveMapPath,omitempty"`
	OutDir               string                           `json:"outDir"`
	Shimmed              bool                             `json:"shimmed,omitempty"`
	Rounds               int                              `json:"rounds"`
	Warnings             []string                         `json:"warnings,omitempty"`
}

type Pipeline struct {
	Analyzer  *Analyzer
	Compiler  bundler.Compiler
	Validator *validate.Validator
	Cache     *resolve.Cache
	Log       zerolog.Logger
}

func NewPipeline(compiler bundler.Compiler, executor validate.Executor, cache *resolve.Cache, log zerolog.Logger) *Pipeline {
	if cache == nil {
		cache = resolve.NewCache()
	}
	return &Pipeline{
		Analyzer:  NewAnalyzer(compiler, log),
		Compiler:  compiler,
		Validator: &validate.Validator{Executor: executor, Log: log},
		Cache:     cache,
		Log:       log,
	}
}

// Run analyses every entry, resolves workspace dependencies transitively,
// splits the result into bundled and external sets and, when requested,
// emits and validates the virtual dependency modules.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	if len(req.Entries) == 0 {
		return Result{}, ErrNoEntries
	}
	info, err := workspace.Discover(entryAnchor(req.Entries[0]))
	if err != nil {
		return Result{}, err
	}
	resolver := resolve.New(p.Cache, info)
	actx := Context{
		Workspace:   info,
		Resolver:    resolver,
		Overrides:   req.Overrides,
		Sourcemap:   req.Sourcemap,
		WorkingDir:  info.Root,
		DepthLimit:  req.DepthLimit,
		Concurrency: req.Concurrency,
	}
	result := Result{
		WorkspaceRoot: info.Root,
		WorkspaceMap:  info.Packages,
		OutDir:        outDir(info.Root, req.OutDir),
	}
	for _, entry := range req.Entries {
		result.Entries = append(result.Entries, entry.Label())
	}

	perEntry, err := p.analyzeEntries(ctx, req.Entries, actx)
	if err != nil {
		return result, err
	}
	if req.Transitive {
		transitive, err := p.Analyzer.ResolveTransitive(ctx, deps.MergeAll(perEntry...), actx)
		if err != nil {
			return result, err
		}
		perEntry = append(perEntry, transitive.Dependencies)
		result.Rounds = transitive.Rounds
		result.Warnings = append(result.Warnings, transitive.Warnings...)
	}

	merged := Merge(perEntry, req.Overrides, req.Policy)
	result.Warnings = append(result.Warnings, p.deprecationWarnings(merged)...)

	modules, err := virtual.Synthesize(merged.Bundleable, result.OutDir)
	if err != nil {
		return result, err
	}
	result.BundledDependencies = bundledDependencies(merged, modules, resolver)
	result.ExternalDependencies = externalDependencies(merged, resolver)

	if !req.Validate || len(modules) == 0 {
		return result, nil
	}
	report, err := p.Validator.Validate(ctx, p.buildFunc(modules, result.ExternalDependencies, result.OutDir, info.Root, req.Sourcemap))
	result.ResolveMap = report.ResolveMap
	result.Shimmed = report.Shimmed
	if err != nil {
		return result, err
	}
	path, err := validate.WriteResolveMap(result.OutDir, report.ResolveMap)
	if err != nil {
		return result, err
	}
	result.ResolveMapPath = path
	return result, nil
}

func (p *Pipeline) analyzeEntries(ctx context.Context, entries []bundler.Entry, actx Context) ([]deps.Map, error) {
	perEntry := make([]deps.Map, len(entries))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(actx.concurrency())
	for i, entry := range entries {
		group.Go(func() error {
			res, err := p.Analyzer.AnalyzeEntry(groupCtx, entry, actx)
			if err != nil {
				return err
			}
			perEntry[i] = res.Dependencies
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return perEntry, nil
}

func (p *Pipeline) deprecationWarnings(merged MergeResult) []string {
	warnings := make([]string, 0)
	for _, key := range merged.External.Keys() {
		classification := merged.Classifications[key]
		if classification.Kind != specifier.KindDeprecatedExternal && classification.Source != specifier.KindDeprecatedExternal {
			continue
		}
		p.Log.Warn().Str("dependency", key).Str("match", classification.Match).Msg("deprecated external dependency")
		warnings = append(warnings, fmt.Sprintf("%s is listed as a deprecated external (%s); declare it explicitly", key, classification.Match))
	}
	return warnings
}

func (p *Pipeline) buildFunc(modules []virtual.Module, externals []Dependency, out, root string, sourcemap bool) validate.BuildFunc {
	entries := make([]bundler.VirtualEntry, 0, len(modules))
	for _, module := range modules {
		entries = append(entries, module.Entry())
	}
	allowlist := make([]string, 0, len(externals)*2)
	for _, dep := range externals {
		allowlist = append(allowlist, dep.Package, dep.Key)
	}
	allowlist = specifier.SortedUnique(allowlist)
	return func(ctx context.Context, shim bool) (bundler.Output, error) {
		return p.Compiler.Compile(ctx, entries, allowlist, bundler.Options{
			OutDir:     out,
			ResolveDir: root,
			Sourcemap:  sourcemap,
			Shim:       shim,
		})
	}
}

func bundledDependencies(merged MergeResult, modules []virtual.Module, resolver *resolve.Resolver) []Dependency {
	names := make(map[string]string, len(modules))
	for _, module := range modules {
		names[module.Key] = module.Name
	}
	out := make([]Dependency, 0, len(merged.Bundleable))
	for _, key := range merged.Bundleable.Keys() {
		rec := merged.Bundleable[key]
		out = append(out, Dependency{
			Key:         key,
			Package:     specifier.PackageName(key),
			Version:     recordVersion(rec, resolver),
			Exports:     rec.Exports.Names(),
			IsWorkspace: rec.IsWorkspace,
			Kind:        merged.Classifications[key].Kind,
			Entry:       names[key],
		})
	}
	return out
}

// externalDependencies collapses subpath keys onto their package so each
// installable package is listed once.
func externalDependencies(merged MergeResult, resolver *resolve.Resolver) []Dependency {
	byPackage := make(map[string]Dependency)
	for _, key := range merged.External.Keys() {
		rec := merged.External[key]
		name := specifier.PackageName(key)
		if name == "" {
			name = key
		}
		dep, ok := byPackage[name]
		if !ok {
			dep = Dependency{
				Key:         name,
				Package:     name,
				IsWorkspace: rec.IsWorkspace,
				Kind:        externalKind(merged.Classifications[key]),
			}
		}
		if dep.Version == "" {
			dep.Version = recordVersion(rec, resolver)
		}
		byPackage[name] = dep
	}
	out := make([]Dependency, 0, len(byPackage))
	for _, dep := range byPackage {
		out = append(out, dep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Package < out[j].Package })
	return out
}

// externalKind reports the override kind, or the policy-driven user kind for
// packages externalised by mode.
func externalKind(c specifier.Classification) specifier.Kind {
	if c.Kind.IsExternal() {
		return c.Kind
	}
	return specifier.KindUserExternal
}

func recordVersion(rec deps.Record, resolver *resolve.Resolver) string {
	if rec.Version != "" || resolver == nil {
		return rec.Version
	}
	root := rec.RootPath
	if root == "" {
		root = resolver.ResolveRoot(rec.Key, "")
	}
	return resolver.Version(root)
}

func entryAnchor(entry bundler.Entry) string {
	if entry.Path != "" {
		return entry.Path
	}
	return entry.ResolveDir
}

func outDir(root, configured string) string {
	if configured == "" {
		configured = DefaultOutDir
	}
	if filepath.IsAbs(configured) {
		return configured
	}
	return filepath.Join(root, filepath.FromSlash(configured))
}
