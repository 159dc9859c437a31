// Package virtual synthesizes the re-export modules that pull exactly the
// used bindings of each bundled dependency into the build.
package virtual

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ben-ranford/depsplit/internal/bundler"
	"github.com/ben-ranford/depsplit/internal/deps"
)

var (
	ErrNameCollision = errors.New("virtual module name collision")
	ErrEmptyName     = errors.New("virtual module name is empty")
)

const safeSeparator = "_"

type Module struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Path   string `json:"path"`
	Source string `json:"-"`
}

// Entry converts m into a bundler entry.
func (m Module) Entry() bundler.VirtualEntry {
	return bundler.VirtualEntry{Key: m.Key, Name: m.Name, Source: m.Source}
}

type CollisionError struct {
	Name string
	Keys []string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("%s: %q produced by %s", ErrNameCollision, e.Name, strings.Join(e.Keys, " and "))
}

func (e *CollisionError) Unwrap() error {
	return ErrNameCollision
}

// Synthesize builds one module per record, ordered by key.
func Synthesize(bundleable deps.Map, outRoot string) ([]Module, error) {
	modules := make([]Module, 0, len(bundleable))
	owners := make(map[string]string, len(bundleable))
	for _, key := range bundleable.Keys() {
		name := EntryName(key)
		if name == "" {
			return nil, fmt.Errorf("%w: dependency %q has no path segments to name it by", ErrEmptyName, key)
		}
		if owner, ok := owners[name]; ok {
			return nil, &CollisionError{Name: name, Keys: []string{owner, key}}
		}
		owners[name] = key
		modules = append(modules, Module{
			Key:    key,
			Name:   name,
			Path:   filepath.Join(outRoot, filepath.FromSlash(name)),
			Source: Source(bundleable[key]),
		})
	}
	return modules, nil
}

var driveLetter = regexp.MustCompile(`^[A-Za-z]:`)

// EntryName maps a specifier to a flat, filesystem-safe output name.
func EntryName(key string) string {
	name := strings.ReplaceAll(strings.TrimSpace(key), `\`, "/")
	name = driveLetter.ReplaceAllString(name, "")
	segments := strings.Split(name, "/")
	for len(segments) > 0 && (segments[0] == "" || segments[0] == "." || segments[0] == "..") {
		segments = segments[1:]
	}
	return strings.Join(segments, safeSeparator)
}

// Source renders the re-export statement for rec.
func Source(rec deps.Record) string {
	from := strconv.Quote(rec.Key)
	if rec.Exports.IsWildcard() {
		return "export * from " + from + ";\n"
	}
	names := rec.Exports.Names()
	if len(names) == 0 {
		return "import " + from + ";\n"
	}
	specifiers := make([]string, 0, len(names))
	hasDefault := false
	for _, name := range names {
		if name == "default" {
			hasDefault = true
			continue
		}
		specifiers = append(specifiers, exportName(name))
	}
	if hasDefault {
		specifiers = append(specifiers, "default")
	}
	return "export { " + strings.Join(specifiers, ", ") + " } from " + from + ";\n"
}

var identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// exportName quotes names that are not plain identifiers, which ES2022
// allows as string export names.
func exportName(name string) string {
	if identifier.MatchString(name) {
		return name
	}
	return strconv.Quote(name)
}
