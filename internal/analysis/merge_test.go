package analysis

import (
	"slices"
	"testing"

	"github.com/ben-ranford/depsplit/internal/deps"
	"github.com/ben-ranford/depsplit/internal/specifier"
)

func TestMergeUnionsToolEntries(t *testing.T) {
	toolA := deps.Map{"@acme/shared": workspaceRecord("@acme/shared", "a")}
	toolB := deps.Map{"@acme/shared": workspaceRecord("@acme/shared", "b")}

	result := Merge([]deps.Map{toolA, toolB}, specifier.Overrides{}, Policy{Mode: ModeBuild})
	if !slices.Equal(result.Bundleable["@acme/shared"].Exports.Names(), []string{"a", "b"}) {
		t.Fatalf("unexpected exports %#v", result.Bundleable["@acme/shared"].Exports.Names())
	}
	if len(result.External) != 0 {
		t.Fatalf("expected no externals, got %#v", result.External.Keys())
	}
}

func TestMergeWildcardAbsorbs(t *testing.T) {
	first := deps.Map{"lodash": {Key: "lodash", Exports: deps.NewExports("map")}}
	second := deps.Map{"lodash": {Key: "lodash", Exports: deps.WildcardExports()}}
	result := Merge([]deps.Map{first, second}, specifier.Overrides{}, Policy{})
	if !result.Bundleable["lodash"].Exports.IsWildcard() {
		t.Fatalf("expected wildcard to absorb named exports")
	}
}

func TestMergeOverridesWinOverWorkspace(t *testing.T) {
	perEntry := []deps.Map{{
		"@acme/native": workspaceRecord("@acme/native", "open"),
		"@acme/shared": workspaceRecord("@acme/shared", "a"),
		"sharp":        {Key: "sharp", Exports: deps.NewExports("default")},
		"pg/lib/x":     {Key: "pg/lib/x", Exports: deps.WildcardExports()},
		"request":      {Key: "request", Exports: deps.NewExports("default")},
		"node:fs":      {Key: "node:fs", Exports: deps.WildcardExports()},
	}}
	overrides := specifier.Overrides{
		Global:     []string{"sharp"},
		Deprecated: []string{"request"},
		User:       []string{"@acme/native", "pg"},
	}

	result := Merge(perEntry, overrides, Policy{Mode: ModeBuild})
	if got := result.External.Keys(); !slices.Equal(got, []string{"@acme/native", "pg/lib/x", "request", "sharp"}) {
		t.Fatalf("unexpected externals %#v", got)
	}
	if got := result.Bundleable.Keys(); !slices.Equal(got, []string{"@acme/shared"}) {
		t.Fatalf("unexpected bundleable %#v", got)
	}
	native := result.Classifications["@acme/native"]
	if native.Kind != specifier.KindWorkspaceExternal || native.Source != specifier.KindUserExternal {
		t.Fatalf("unexpected workspace override classification %#v", native)
	}
	if result.Classifications["node:fs"].Kind != specifier.KindBuiltin {
		t.Fatalf("expected builtin classification")
	}
	if _, ok := result.External["node:fs"]; ok {
		t.Fatalf("builtins must not be listed as externals")
	}
}

func TestMergeOptimizeModeExternalisesPackages(t *testing.T) {
	perEntry := []deps.Map{{
		"@acme/shared": workspaceRecord("@acme/shared", "a"),
		"lodash":       {Key: "lodash", Exports: deps.NewExports("map")},
	}}
	for _, policy := range []Policy{{Mode: ModeOptimize}, {Mode: ModeBuild, ExternalizePackages: true}} {
		result := Merge(perEntry, specifier.Overrides{}, policy)
		if !slices.Equal(result.External.Keys(), []string{"lodash"}) || !slices.Equal(result.Bundleable.Keys(), []string{"@acme/shared"}) {
			t.Fatalf("policy %#v: external %v bundleable %v", policy, result.External.Keys(), result.Bundleable.Keys())
		}
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"": ModeBuild, "build": ModeBuild, "Optimize": ModeOptimize, "dev": ModeOptimize}
	for input, want := range cases {
		got, err := ParseMode(input)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ParseMode("watch"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
