// Package pkgjson reads package.json manifests and resolves the source file a
// package specifier points at through its exports map or legacy fields.
package pkgjson

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/ben-ranford/depsplit/internal/safeio"
)

const FileName = "package.json"

type Manifest struct {
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Main                 string            `json:"main"`
	Module               string            `json:"module"`
	Source               string            `json:"source"`
	Exports              any               `json:"exports"`
	Workspaces           any               `json:"workspaces"`
	Dependencies         map[string]string `json:"dependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
	PeerDependencies     map[string]string `json:"peerDependencies"`
}

func Load(dir string) (Manifest, error) {
	var manifest Manifest
	if err := safeio.ReadJSON(filepath.Join(dir, FileName), &manifest); err != nil {
		return Manifest{}, err
	}
	return manifest, nil
}

// AllDependencies merges runtime, optional and peer dependency ranges.
// Runtime ranges win over the others.
func (m Manifest) AllDependencies() map[string]string {
	merged := make(map[string]string, len(m.Dependencies)+len(m.OptionalDependencies)+len(m.PeerDependencies))
	for _, group := range []map[string]string{m.PeerDependencies, m.OptionalDependencies, m.Dependencies} {
		for name, version := range group {
			merged[name] = version
		}
	}
	return merged
}

// WorkspacePatterns returns the glob patterns of the "workspaces" field,
// accepting both the array and the {"packages": [...]} forms.
func (m Manifest) WorkspacePatterns() []string {
	switch typed := m.Workspaces.(type) {
	case []any:
		return stringItems(typed)
	case map[string]any:
		if packages, ok := typed["packages"].([]any); ok {
			return stringItems(packages)
		}
	}
	return nil
}

func stringItems(items []any) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if value, ok := item.(string); ok && strings.TrimSpace(value) != "" {
			out = append(out, strings.TrimSpace(value))
		}
	}
	return out
}

// conditionOrder is the preference order used when an exports entry is a
// condition map. Source conditions come first so workspace packages are
// analysed from their sources rather than stale build output.
var conditionOrder = []string{"source", "import", "module", "node", "default", "require"}

// EntryCandidates lists the manifest-relative paths that may implement
// subpath ("" for the package root), in preference order.
func (m Manifest) EntryCandidates(subpath string) []string {
	candidates := make([]string, 0, 4)
	if m.Exports != nil {
		if target, ok := exportTarget(m.Exports, "."+prefixSlash(subpath)); ok {
			candidates = append(candidates, target)
		}
	}
	if subpath != "" {
		return append(candidates, subpath)
	}
	for _, field := range []string{m.Source, m.Module, m.Main} {
		if strings.TrimSpace(field) != "" {
			candidates = append(candidates, strings.TrimSpace(field))
		}
	}
	return append(candidates, "index")
}

// ResolveEntry returns the first existing file among EntryCandidates.
func (m Manifest) ResolveEntry(root, subpath string) (string, bool) {
	for _, candidate := range m.EntryCandidates(subpath) {
		if path, ok := ResolveFile(root, candidate); ok {
			return path, true
		}
	}
	return "", false
}

func prefixSlash(subpath string) string {
	if subpath == "" {
		return ""
	}
	return "/" + strings.TrimPrefix(subpath, "/")
}

func exportTarget(exports any, key string) (string, bool) {
	switch typed := exports.(type) {
	case string:
		if key == "." {
			return typed, true
		}
		return "", false
	case map[string]any:
		if !hasSubpathKeys(typed) {
			if key != "." {
				return "", false
			}
			return conditionTarget(typed)
		}
		if value, ok := typed[key]; ok {
			return valueTarget(value)
		}
		return patternTarget(typed, key)
	default:
		return valueTarget(typed)
	}
}

func hasSubpathKeys(entries map[string]any) bool {
	for key := range entries {
		if strings.HasPrefix(key, ".") {
			return true
		}
	}
	return false
}

// patternTarget resolves "./*" style subpath patterns, preferring the
// longest matching prefix.
func patternTarget(entries map[string]any, key string) (string, bool) {
	patterns := make([]string, 0)
	for pattern := range entries {
		if strings.Count(pattern, "*") == 1 {
			patterns = append(patterns, pattern)
		}
	}
	sort.Slice(patterns, func(i, j int) bool {
		return len(patterns[i]) > len(patterns[j])
	})
	for _, pattern := range patterns {
		prefix, suffix, _ := strings.Cut(pattern, "*")
		if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, suffix) || len(key) < len(prefix)+len(suffix) {
			continue
		}
		match := key[len(prefix) : len(key)-len(suffix)]
		target, ok := valueTarget(entries[pattern])
		if !ok {
			continue
		}
		return strings.ReplaceAll(target, "*", match), true
	}
	return "", false
}

func valueTarget(value any) (string, bool) {
	switch typed := value.(type) {
	case string:
		return typed, true
	case []any:
		for _, item := range typed {
			if target, ok := valueTarget(item); ok {
				return target, true
			}
		}
	case map[string]any:
		return conditionTarget(typed)
	}
	return "", false
}

func conditionTarget(conditions map[string]any) (string, bool) {
	for _, condition := range conditionOrder {
		value, ok := conditions[condition]
		if !ok {
			continue
		}
		if target, ok := valueTarget(value); ok && isCodeAsset(target) {
			return target, true
		}
	}
	return "", false
}

func isCodeAsset(path string) bool {
	if strings.HasSuffix(path, ".d.ts") {
		return false
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".mjs", ".cjs", ".ts", ".tsx", ".cts", ".mts", ".jsx", "":
		return true
	default:
		return false
	}
}

var resolveExtensions = []string{".ts", ".tsx", ".mts", ".js", ".mjs", ".cjs", ".jsx"}

// ResolveFile resolves entry relative to root, trying source extensions and
// directory index files.
func ResolveFile(root, entry string) (string, bool) {
	path := entry
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, entry)
	}
	if safeio.IsFile(path) {
		return path, true
	}
	if filepath.Ext(path) == "" || !isCodeAsset(path) {
		for _, ext := range resolveExtensions {
			if safeio.IsFile(path + ext) {
				return path + ext, true
			}
		}
	}
	if safeio.IsDir(path) {
		for _, ext := range resolveExtensions {
			candidate := filepath.Join(path, "index"+ext)
			if safeio.IsFile(candidate) {
				return candidate, true
			}
		}
	}
	return "", false
}
