package validate

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindModuleNotFound       Kind = "ModuleNotFound"
	KindMissingNativeBuild   Kind = "MissingNativeBuild"
	KindStaleCommonJSInterop Kind = "StaleCommonJSInterop"
	KindExecutionFailed      Kind = "ExecutionFailed"
)

var (
	ErrModuleNotFound       = errors.New("module not found")
	ErrMissingNativeBuild   = errors.New("missing native build")
	ErrStaleCommonJSInterop = errors.New("stale CommonJS interop")
	// ErrExecutionFailed covers entry failures no rule recognises.
	ErrExecutionFailed = errors.New("bundle entry failed to load")
)

func (k Kind) sentinel() error {
	switch k {
	case KindModuleNotFound:
		return ErrModuleNotFound
	case KindMissingNativeBuild:
		return ErrMissingNativeBuild
	case KindStaleCommonJSInterop:
		return ErrStaleCommonJSInterop
	default:
		return ErrExecutionFailed
	}
}

// Error is a classified validation failure.
type Error struct {
	Kind Kind `json:"kind"`
	// Specifier is the module that could not be loaded.
	Specifier string `json:"specifier,omitempty"`
	// Importer is the source module that imported Specifier.
	Importer string `json:"importer,omitempty"`
	// Package is the dependency the failure is attributed to.
	Package string `json:"package,omitempty"`
	// Chunk is empty when the failure happened while building.
	Chunk  string `json:"chunk,omitempty"`
	Detail string `json:"detail,omitempty"`
	Cause  error  `json:"-"`
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.sentinel().Error())
	if e.Chunk != "" {
		fmt.Fprintf(&b, " in %s", e.Chunk)
	}
	switch e.Kind {
	case KindModuleNotFound:
		fmt.Fprintf(&b, ": cannot resolve %q", e.Specifier)
		if e.Importer != "" {
			fmt.Fprintf(&b, " imported by %s", e.Importer)
		}
		b.WriteString("; declare it as an external dependency or install it")
	case KindMissingNativeBuild:
		pkg := e.Package
		if pkg == "" {
			pkg = "a bundled dependency"
		}
		fmt.Fprintf(&b, ": %s ships a native addon with no build for this platform; mark it external", pkg)
	case KindStaleCommonJSInterop:
		fmt.Fprintf(&b, ": %s failed at load time", e.Package)
		if e.Detail != "" {
			fmt.Fprintf(&b, " (%s)", e.Detail)
		}
		b.WriteString("; mark it external or update it")
	default:
		if e.Detail != "" {
			fmt.Fprintf(&b, ": %s", e.Detail)
		}
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}
