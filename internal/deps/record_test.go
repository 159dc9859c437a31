package deps

import (
	"encoding/json"
	"slices"
	"testing"
)

func TestExportsUnion(t *testing.T) {
	cases := []struct {
		name  string
		left  Exports
		right Exports
		want  []string
	}{
		{"disjoint", NewExports("a"), NewExports("b"), []string{"a", "b"}},
		{"overlap", NewExports("a", "default"), NewExports("a", "c"), []string{"a", "c", "default"}},
		{"left wildcard", WildcardExports(), NewExports("b"), []string{Wildcard}},
		{"right wildcard", NewExports("a"), NewExports("*"), []string{Wildcard}},
		{"both empty", Exports{}, Exports{}, []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.left.Union(tc.right).Names()
			if !slices.Equal(got, tc.want) {
				t.Fatalf("union = %#v, want %#v", got, tc.want)
			}
			reverse := tc.right.Union(tc.left).Names()
			if !slices.Equal(reverse, tc.want) {
				t.Fatalf("union is not symmetric: %#v vs %#v", reverse, tc.want)
			}
		})
	}
}

func TestExportsWildcardAbsorbsLaterNames(t *testing.T) {
	e := NewExports("a")
	e.Add(Wildcard)
	e.Add("b")
	if !e.IsWildcard() {
		t.Fatalf("expected wildcard")
	}
	if e.Len() != 0 {
		t.Fatalf("expected named set to be dropped, got %d", e.Len())
	}
	if !e.Has("anything") {
		t.Fatalf("wildcard should report every name as present")
	}
}

func TestRecordMergeKeepsLocation(t *testing.T) {
	left := Record{Key: "@acme/shared", Exports: NewExports("a")}
	right := Record{Key: "@acme/shared", Exports: NewExports("b"), RootPath: "/repo/packages/shared", IsWorkspace: true, Version: "1.2.0"}

	merged := left.Merge(right)
	if !slices.Equal(merged.Exports.Names(), []string{"a", "b"}) {
		t.Fatalf("unexpected exports: %#v", merged.Exports.Names())
	}
	if merged.RootPath != "/repo/packages/shared" || !merged.IsWorkspace || merged.Version != "1.2.0" {
		t.Fatalf("expected location data to survive merge: %#v", merged)
	}
}

func TestMapMergeReportsAddedKeys(t *testing.T) {
	base := Map{}
	base.Put(Record{Key: "lodash", Exports: NewExports("map")})

	other := Map{}
	other.Put(Record{Key: "lodash", Exports: NewExports("filter")})
	other.Put(Record{Key: "left-pad", Exports: WildcardExports()})

	added := base.Merge(other)
	if !slices.Equal(added, []string{"left-pad"}) {
		t.Fatalf("unexpected added keys: %#v", added)
	}
	if !slices.Equal(base["lodash"].Exports.Names(), []string{"filter", "map"}) {
		t.Fatalf("unexpected lodash exports: %#v", base["lodash"].Exports.Names())
	}
	if !base["left-pad"].Exports.IsWildcard() {
		t.Fatalf("expected wildcard for left-pad")
	}
}

func TestMergeAllAcrossEntries(t *testing.T) {
	toolA := Map{"@acme/shared": {Key: "@acme/shared", Exports: NewExports("a")}}
	toolB := Map{"@acme/shared": {Key: "@acme/shared", Exports: NewExports("b")}}

	merged := MergeAll(toolA, toolB)
	if len(merged) != 1 {
		t.Fatalf("expected a single record, got %d", len(merged))
	}
	if !slices.Equal(merged["@acme/shared"].Exports.Names(), []string{"a", "b"}) {
		t.Fatalf("unexpected exports: %#v", merged["@acme/shared"].Exports.Names())
	}
	if len(toolA["@acme/shared"].Exports.Names()) != 1 {
		t.Fatalf("inputs must not be mutated")
	}
}

func TestExportsJSON(t *testing.T) {
	payload, err := json.Marshal(Record{Key: "left-pad", Exports: WildcardExports()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Record
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Exports.IsWildcard() {
		t.Fatalf("expected wildcard after decode, got %s", payload)
	}
}
