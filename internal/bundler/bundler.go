// Package bundler drives the JS bundler used both to compile program entries
// for import analysis and to emit the virtual dependency modules.
package bundler

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// VirtualNamespace prefixes the ids of synthesized dependency modules.
const VirtualNamespace = "virtual"

var ErrBuildFailed = errors.New("bundle failed")

// UnresolvedImportError is a build failure caused by a bundled module
// importing a specifier that cannot be resolved.
type UnresolvedImportError struct {
	Specifier string
	// Importer is the module id, relative to the build working directory.
	Importer string
	Detail   string
}

func (e *UnresolvedImportError) Error() string {
	return fmt.Sprintf("%s: %s", ErrBuildFailed, e.Detail)
}

func (e *UnresolvedImportError) Unwrap() error {
	return ErrBuildFailed
}

// Entry is a program entry point: a file on disk, or inline source resolved
// relative to ResolveDir.
type Entry struct {
	Name       string
	Path       string
	Source     string
	ResolveDir string
}

func (e Entry) IsInline() bool {
	return e.Path == ""
}

func (e Entry) Label() string {
	switch {
	case e.Name != "":
		return e.Name
	case e.Path != "":
		return e.Path
	default:
		return "<inline>"
	}
}

type EntryOptions struct {
	Sourcemap bool
	// WorkingDir anchors relative paths in diagnostics.
	WorkingDir string
}

// EntryOutput is the single ESM chunk produced for an entry.
type EntryOutput struct {
	Code string
	// Modules lists the source modules folded into the chunk.
	Modules []string
}

type VirtualEntry struct {
	Key    string
	Name   string
	Source string
}

// ID is the module id the bundler sees for the entry.
func (v VirtualEntry) ID() string {
	return VirtualNamespace + ":" + v.Key
}

func IsVirtualID(id string) bool {
	return strings.HasPrefix(id, VirtualNamespace+":")
}

// VirtualKey returns the dependency key behind a virtual module id.
func VirtualKey(id string) (string, bool) {
	return strings.CutPrefix(id, VirtualNamespace+":")
}

type Options struct {
	OutDir     string
	ResolveDir string
	Sourcemap  bool
	// Shim prepends CommonJS globals (require, __filename, __dirname) to
	// every emitted chunk.
	Shim bool
}

type Import struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external,omitempty"`
}

func (i Import) IsDynamic() bool {
	return i.Kind == "dynamic-import"
}

type Chunk struct {
	// File is the emitted path relative to the output directory.
	File string
	Path string
	// EntryPoint is the module id a chunk was emitted for, if any.
	EntryPoint     string
	IsEntry        bool
	IsDynamicEntry bool
	// Modules lists contributing module ids in bundle order.
	Modules []string
	Imports []Import
}

type Output struct {
	OutDir string
	Chunks []Chunk
	// ModuleImports maps each input module id to the imports it declares.
	ModuleImports map[string][]Import
}

func (o Output) Chunk(file string) (Chunk, bool) {
	for _, chunk := range o.Chunks {
		if chunk.File == file {
			return chunk, true
		}
	}
	return Chunk{}, false
}

type Compiler interface {
	CompileEntry(ctx context.Context, entry Entry, opts EntryOptions) (EntryOutput, error)
	Compile(ctx context.Context, entries []VirtualEntry, externals []string, opts Options) (Output, error)
}
