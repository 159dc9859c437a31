package analysis

import (
	"fmt"
	"strings"

	"github.com/ben-ranford/depsplit/internal/deps"
	"github.com/ben-ranford/depsplit/internal/specifier"
)

type Mode string

const (
	ModeBuild    Mode = "build"
	ModeOptimize Mode = "optimize"
)

func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeBuild:
		return ModeBuild, nil
	case ModeOptimize, "dev":
		return ModeOptimize, nil
	default:
		return "", fmt.Errorf("unknown mode %q (expected build or optimize)", value)
	}
}

// Policy decides what happens to third-party dependencies that could be
// bundled.
type Policy struct {
	Mode Mode
	// ExternalizePackages keeps every non-workspace package external.
	ExternalizePackages bool
}

func (p Policy) externalizesPackages() bool {
	return p.Mode == ModeOptimize || p.ExternalizePackages
}

type MergeResult struct {
	Bundleable      deps.Map
	External        deps.Map
	Classifications map[string]specifier.Classification
}

// Merge unions the per-entry maps and splits the result into the bundleable
// and external sets. Builtins and build-internal aliases are dropped.
func Merge(perEntry []deps.Map, overrides specifier.Overrides, policy Policy) MergeResult {
	merged := deps.MergeAll(perEntry...)
	result := MergeResult{
		Bundleable:      make(deps.Map),
		External:        make(deps.Map),
		Classifications: make(map[string]specifier.Classification, len(merged)),
	}
	for _, key := range merged.Keys() {
		rec := merged[key]
		classification := specifier.Classify(key, rec.IsWorkspace, overrides)
		result.Classifications[key] = classification
		switch {
		case classification.Kind == specifier.KindBuiltin || classification.Kind == specifier.KindIgnored:
			continue
		case classification.Kind.IsExternal():
			result.External.Put(rec)
		case !rec.IsWorkspace && policy.externalizesPackages():
			result.External.Put(rec)
		default:
			result.Bundleable.Put(rec)
		}
	}
	return result
}
