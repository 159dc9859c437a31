package validate

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ben-ranford/depsplit/internal/bundler"
	"github.com/ben-ranford/depsplit/internal/specifier"
)

// Failure is an entry chunk that did not load.
type Failure struct {
	// Chunk is the chunk file relative to the output directory.
	Chunk string
	// Entry is the dependency key the chunk was emitted for, if known.
	Entry  string
	OutDir string
	Output string
	Cause  error
}

type rule struct {
	kind  Kind
	match func(Failure, ResolveMap) (*Error, bool)
}

// rules are evaluated in order; the first match classifies the failure.
var rules = []rule{
	{KindMissingNativeBuild, matchMissingNativeBuild},
	{KindModuleNotFound, matchModuleNotFound},
	{KindStaleCommonJSInterop, matchStaleInterop},
}

// nativeLoaderPackages locate and load native addons on behalf of the
// package that actually ships them.
var nativeLoaderPackages = map[string]bool{
	"node-gyp-build":       true,
	"bindings":             true,
	"prebuild-install":     true,
	"node-pre-gyp":         true,
	"@mapbox/node-pre-gyp": true,
	"node-addon-api":       true,
	"nan":                  true,
}

var (
	notFoundPattern      = regexp.MustCompile(`Cannot find (?:module|package) '([^']+)'(?: imported from ([^\s]+))?`)
	nodeModulesPattern   = regexp.MustCompile(`node_modules[\\/]((?:@[^\\/\s'"]+[\\/])?[^\\/\s'"):]+)`)
	typeErrorPattern     = regexp.MustCompile(`TypeError: ([^\n]+)`)
	nativeBuildPatterns  = []string{"No native build was found", "Could not locate the bindings file", "was compiled against a different Node.js version"}
	commonJSGlobalErrors = []string{"__dirname is not defined", "__filename is not defined", "require is not defined", "Dynamic require of"}
)

// Classify maps a failed entry execution onto the error taxonomy. Failures
// no rule recognises are returned as ErrExecutionFailed.
func Classify(failure Failure, resolveMap ResolveMap) *Error {
	for _, r := range rules {
		if classified, ok := r.match(failure, resolveMap); ok {
			classified.Kind = r.kind
			classified.Chunk = failure.Chunk
			classified.Cause = failure.Cause
			return classified
		}
	}
	return &Error{Kind: KindExecutionFailed, Chunk: failure.Chunk, Detail: firstLine(failure.Output), Cause: failure.Cause}
}

// NeedsShim reports whether a failure stems from CommonJS globals missing in
// an ESM chunk.
func NeedsShim(output string) bool {
	for _, pattern := range commonJSGlobalErrors {
		if strings.Contains(output, pattern) {
			return true
		}
	}
	return false
}

func matchModuleNotFound(failure Failure, resolveMap ResolveMap) (*Error, bool) {
	match := notFoundPattern.FindStringSubmatch(failure.Output)
	if match == nil {
		return nil, false
	}
	spec := match[1]
	if filepath.IsAbs(spec) {
		if pkg := packagesInOutput(spec); len(pkg) > 0 {
			spec = pkg[len(pkg)-1]
		}
	}
	out := &Error{Specifier: spec, Package: specifier.PackageName(spec)}

	chunk := failure.Chunk
	if len(match) > 2 && match[2] != "" && failure.OutDir != "" {
		importer := strings.TrimPrefix(match[2], "file://")
		if rel, err := filepath.Rel(failure.OutDir, importer); err == nil && !strings.HasPrefix(rel, "..") {
			chunk = filepath.ToSlash(rel)
		}
	}
	if importer, ok := resolveMap.Importer(chunk, spec); ok {
		out.Importer = importer
	} else if importer, ok := resolveMap.Importer(failure.Chunk, spec); ok {
		out.Importer = importer
	} else if chunk != failure.Chunk {
		out.Importer = chunk
	}
	return out, true
}

func matchMissingNativeBuild(failure Failure, _ ResolveMap) (*Error, bool) {
	if !containsAny(failure.Output, nativeBuildPatterns) {
		return nil, false
	}
	pkg := firstNonLoader(packagesInOutput(failure.Output))
	if pkg == "" {
		// Bundled addons load from the output directory, not node_modules.
		pkg = specifier.PackageName(failure.Entry)
	}
	return &Error{Package: pkg, Specifier: pkg, Detail: firstLine(failure.Output)}, true
}

func matchStaleInterop(failure Failure, _ ResolveMap) (*Error, bool) {
	match := typeErrorPattern.FindStringSubmatch(failure.Output)
	if match == nil {
		return nil, false
	}
	stack := failure.Output[strings.Index(failure.Output, match[0]):]
	pkg := firstNonLoader(packagesInOutput(stack))
	if pkg == "" {
		return nil, false
	}
	return &Error{Package: pkg, Specifier: pkg, Detail: "TypeError: " + strings.TrimSpace(match[1])}, true
}

// packagesInOutput lists package names found in node_modules paths, in order
// of appearance, without duplicates.
func packagesInOutput(output string) []string {
	seen := make(map[string]bool)
	packages := make([]string, 0)
	for _, match := range nodeModulesPattern.FindAllStringSubmatch(output, -1) {
		name := strings.ReplaceAll(match[1], `\`, "/")
		if seen[name] || strings.HasPrefix(name, ".") {
			continue
		}
		seen[name] = true
		packages = append(packages, name)
	}
	return packages
}

func firstNonLoader(packages []string) string {
	for _, pkg := range packages {
		if !nativeLoaderPackages[pkg] {
			return pkg
		}
	}
	return ""
}

// FromBuildError turns a build that failed on an unresolvable import into a
// ModuleNotFound error. Other errors are returned unchanged.
func FromBuildError(err error) error {
	var unresolved *bundler.UnresolvedImportError
	if !errors.As(err, &unresolved) {
		return err
	}
	return &Error{
		Kind:      KindModuleNotFound,
		Specifier: unresolved.Specifier,
		Importer:  unresolved.Importer,
		Package:   specifier.PackageName(unresolved.Specifier),
		Detail:    unresolved.Detail,
		Cause:     err,
	}
}

func containsAny(text string, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.Contains(text, pattern) {
			return true
		}
	}
	return false
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
