// Package deps holds the dependency records produced by entry analysis and
// the merge rules used to combine partial views of the same dependency.
package deps

import (
	"encoding/json"
	"sort"
)

const Wildcard = "*"

// Exports is the set of bindings a program pulls from a dependency. The zero
// value is an empty set. Once the wildcard is added the set stays wildcard.
type Exports struct {
	all   bool
	names map[string]struct{}
}

func NewExports(names ...string) Exports {
	var e Exports
	for _, name := range names {
		e.Add(name)
	}
	return e
}

func WildcardExports() Exports {
	return Exports{all: true}
}

func (e *Exports) Add(name string) {
	if name == "" || e.all {
		return
	}
	if name == Wildcard {
		e.all = true
		e.names = nil
		return
	}
	if e.names == nil {
		e.names = make(map[string]struct{})
	}
	e.names[name] = struct{}{}
}

func (e Exports) IsWildcard() bool {
	return e.all
}

func (e Exports) Len() int {
	return len(e.names)
}

func (e Exports) Has(name string) bool {
	if e.all {
		return true
	}
	_, ok := e.names[name]
	return ok
}

// Names returns the sorted binding names, or ["*"] for the wildcard.
func (e Exports) Names() []string {
	if e.all {
		return []string{Wildcard}
	}
	names := make([]string, 0, len(e.names))
	for name := range e.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e Exports) Union(other Exports) Exports {
	if e.all || other.all {
		return WildcardExports()
	}
	merged := Exports{}
	for name := range e.names {
		merged.Add(name)
	}
	for name := range other.names {
		merged.Add(name)
	}
	return merged
}

func (e Exports) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Names())
}

func (e *Exports) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*e = NewExports(names...)
	return nil
}

type Record struct {
	Key         string  `json:"key"`
	Exports     Exports `json:"exports"`
	RootPath    string  `json:"rootPath,omitempty"`
	IsWorkspace bool    `json:"isWorkspace,omitempty"`
	Version     string  `json:"version,omitempty"`
}

// Merge combines two records for the same key. Known location data from
// either side is kept.
func (r Record) Merge(other Record) Record {
	merged := r
	merged.Exports = r.Exports.Union(other.Exports)
	if merged.RootPath == "" {
		merged.RootPath = other.RootPath
	}
	if merged.Version == "" {
		merged.Version = other.Version
	}
	merged.IsWorkspace = r.IsWorkspace || other.IsWorkspace
	return merged
}

// Map is keyed by import specifier.
type Map map[string]Record

// Put merges rec into m under rec.Key and reports whether the key was new.
func (m Map) Put(rec Record) bool {
	current, ok := m[rec.Key]
	if !ok {
		m[rec.Key] = rec
		return true
	}
	m[rec.Key] = current.Merge(rec)
	return false
}

// Merge folds other into m and returns the keys that were not present before.
func (m Map) Merge(other Map) []string {
	added := make([]string, 0)
	for _, key := range other.Keys() {
		if m.Put(other[key]) {
			added = append(added, key)
		}
	}
	return added
}

func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (m Map) Clone() Map {
	out := make(Map, len(m))
	for key, rec := range m {
		out[key] = rec
	}
	return out
}

func MergeAll(maps ...Map) Map {
	merged := make(Map)
	for _, m := range maps {
		merged.Merge(m)
	}
	return merged
}
