package specifier

import (
	"sort"
	"strings"
)

type Kind string

const (
	KindBuiltin            Kind = "builtin"
	KindIgnored            Kind = "ignored"
	KindGlobalExternal     Kind = "global-external"
	KindDeprecatedExternal Kind = "deprecated-external"
	KindUserExternal       Kind = "user-external"
	KindWorkspaceExternal  Kind = "workspace-external"
	KindBundleable         Kind = "bundleable"
)

// IsExternal reports whether the kind keeps a dependency out of the bundle.
func (k Kind) IsExternal() bool {
	switch k {
	case KindGlobalExternal, KindDeprecatedExternal, KindUserExternal, KindWorkspaceExternal:
		return true
	default:
		return false
	}
}

// ignoredAliases are generated virtual modules that only exist inside the
// build and must never be treated as dependencies.
var ignoredAliases = []string{
	"#tools",
	"#entry",
	"#build-manifest",
}

type Overrides struct {
	Global     []string
	Deprecated []string
	User       []string
}

type Classification struct {
	Specifier string
	Kind      Kind
	// Source is the override list that matched when Kind is
	// KindWorkspaceExternal.
	Source Kind
	// Match is the override entry that matched, if any.
	Match string
}

func Classify(spec string, isWorkspace bool, overrides Overrides) Classification {
	result := Classification{Specifier: spec, Kind: KindBundleable}
	switch {
	case IsBuiltin(spec):
		result.Kind = KindBuiltin
		return result
	case IsIgnored(spec):
		result.Kind = KindIgnored
		return result
	}

	lists := []struct {
		kind    Kind
		entries []string
	}{
		{KindGlobalExternal, overrides.Global},
		{KindDeprecatedExternal, overrides.Deprecated},
		{KindUserExternal, overrides.User},
	}
	for _, list := range lists {
		entry, ok := MatchAny(spec, list.entries)
		if !ok {
			continue
		}
		result.Match = entry
		result.Kind = list.kind
		if isWorkspace {
			result.Source = list.kind
			result.Kind = KindWorkspaceExternal
		}
		return result
	}
	return result
}

func IsIgnored(spec string) bool {
	_, ok := MatchAny(spec, ignoredAliases)
	return ok
}

// Matches reports whether spec equals entry or is a subpath of it.
func Matches(spec, entry string) bool {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return false
	}
	if spec == entry {
		return true
	}
	return strings.HasPrefix(spec, entry+"/")
}

func MatchAny(spec string, entries []string) (string, bool) {
	for _, entry := range entries {
		if Matches(spec, entry) {
			return strings.TrimSpace(entry), true
		}
	}
	return "", false
}

// IsBare reports whether spec is a package specifier rather than a relative,
// absolute or URL-like reference.
func IsBare(spec string) bool {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return false
	}
	if strings.HasPrefix(spec, ".") || strings.HasPrefix(spec, "/") || strings.HasPrefix(spec, "\\") {
		return false
	}
	if len(spec) >= 2 && spec[1] == ':' {
		return false
	}
	if scheme, _, ok := strings.Cut(spec, ":"); ok && !strings.Contains(scheme, "/") {
		return false
	}
	return true
}

// PackageName returns the package portion of a bare specifier, keeping the
// scope for scoped packages. It returns "" for non-package specifiers.
func PackageName(spec string) string {
	spec = strings.TrimSpace(spec)
	if !IsBare(spec) || strings.HasPrefix(spec, "#") {
		return ""
	}

	parts := strings.Split(spec, "/")
	if strings.HasPrefix(spec, "@") {
		if len(parts) < 2 || len(parts[0]) <= 1 || parts[1] == "" {
			return ""
		}
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

// Subpath returns the part of spec after its package name, without the
// leading slash.
func Subpath(spec string) string {
	name := PackageName(spec)
	if name == "" {
		return ""
	}
	return strings.TrimPrefix(strings.TrimPrefix(spec, name), "/")
}

func SortedUnique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}
