package config

import (
	"fmt"
	"strings"

	"github.com/ben-ranford/depsplit/internal/analysis"
	"github.com/ben-ranford/depsplit/internal/runtime"
)

const (
	DefaultMode        = string(analysis.ModeBuild)
	DefaultDepthLimit  = analysis.DefaultDepthLimit
	DefaultConcurrency = analysis.DefaultConcurrency
	DefaultOutDir      = analysis.DefaultOutDir
	DefaultNode        = runtime.DefaultExecutable
)

// Values is a fully resolved configuration.
type Values struct {
	Entry string
	Tools []string
	// Externals are user overrides. ExternalizePackages is the `externals: true`
	// preset that keeps every non-workspace package external.
	Externals           []string
	ExternalizePackages bool
	DeprecatedExternals []string
	GlobalExternals     []string
	Mode                string
	Transitive          bool
	DepthLimit          int
	Concurrency         int
	Sourcemap           bool
	OutDir              string
	ValidateBundle      bool
	Node                string
}

// Overrides holds the settings a config file or flag set actually declared.
// Nil fields leave the lower layer untouched.
type Overrides struct {
	Entry               *string
	Tools               []string
	Externals           []string
	ExternalizePackages *bool
	DeprecatedExternals []string
	GlobalExternals     []string
	Mode                *string
	Transitive          *bool
	DepthLimit          *int
	Concurrency         *int
	Sourcemap           *bool
	OutDir              *string
	ValidateBundle      *bool
	Node                *string
}

func Defaults() Values {
	return Values{
		Mode:           DefaultMode,
		Transitive:     true,
		DepthLimit:     DefaultDepthLimit,
		Concurrency:    DefaultConcurrency,
		OutDir:         DefaultOutDir,
		ValidateBundle: true,
		Node:           DefaultNode,
	}
}

func (o Overrides) Apply(base Values) Values {
	out := base
	applyString(&out.Entry, o.Entry)
	applyString(&out.Mode, o.Mode)
	applyString(&out.OutDir, o.OutDir)
	applyString(&out.Node, o.Node)
	applyBool(&out.ExternalizePackages, o.ExternalizePackages)
	applyBool(&out.Transitive, o.Transitive)
	applyBool(&out.Sourcemap, o.Sourcemap)
	applyBool(&out.ValidateBundle, o.ValidateBundle)
	applyInt(&out.DepthLimit, o.DepthLimit)
	applyInt(&out.Concurrency, o.Concurrency)
	out.Tools = unionStable(base.Tools, o.Tools)
	out.Externals = unionStable(base.Externals, o.Externals)
	out.DeprecatedExternals = unionStable(base.DeprecatedExternals, o.DeprecatedExternals)
	out.GlobalExternals = unionStable(base.GlobalExternals, o.GlobalExternals)
	return out
}

func (o Overrides) Validate() error {
	if o.DepthLimit != nil && *o.DepthLimit < 1 {
		return fmt.Errorf("depth_limit must be at least 1, got %d", *o.DepthLimit)
	}
	if o.Concurrency != nil && *o.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", *o.Concurrency)
	}
	if o.Mode != nil {
		if _, err := analysis.ParseMode(*o.Mode); err != nil {
			return err
		}
	}
	if o.Node != nil && strings.TrimSpace(*o.Node) == "" {
		return fmt.Errorf("node must not be empty")
	}
	if o.OutDir != nil && strings.TrimSpace(*o.OutDir) == "" {
		return fmt.Errorf("out_dir must not be empty")
	}
	return nil
}

func (v Values) Validate() error {
	if strings.TrimSpace(v.Entry) == "" {
		return fmt.Errorf("an entry is required")
	}
	return Overrides{
		Mode:        &v.Mode,
		DepthLimit:  &v.DepthLimit,
		Concurrency: &v.Concurrency,
		Node:        &v.Node,
		OutDir:      &v.OutDir,
	}.Validate()
}

// ParsedMode returns the configured mode. Values must have been validated.
func (v Values) ParsedMode() analysis.Mode {
	mode, err := analysis.ParseMode(v.Mode)
	if err != nil {
		return analysis.ModeBuild
	}
	return mode
}

// mergeOverrides layers higher over base. Scalars are replaced, lists are
// unioned so an extended config can add to a shared preset.
func mergeOverrides(base, higher Overrides) Overrides {
	merged := base
	if higher.Entry != nil {
		merged.Entry = higher.Entry
	}
	if higher.ExternalizePackages != nil {
		merged.ExternalizePackages = higher.ExternalizePackages
	}
	if higher.Mode != nil {
		merged.Mode = higher.Mode
	}
	if higher.Transitive != nil {
		merged.Transitive = higher.Transitive
	}
	if higher.DepthLimit != nil {
		merged.DepthLimit = higher.DepthLimit
	}
	if higher.Concurrency != nil {
		merged.Concurrency = higher.Concurrency
	}
	if higher.Sourcemap != nil {
		merged.Sourcemap = higher.Sourcemap
	}
	if higher.OutDir != nil {
		merged.OutDir = higher.OutDir
	}
	if higher.ValidateBundle != nil {
		merged.ValidateBundle = higher.ValidateBundle
	}
	if higher.Node != nil {
		merged.Node = higher.Node
	}
	merged.Tools = unionStable(base.Tools, higher.Tools)
	merged.Externals = unionStable(base.Externals, higher.Externals)
	merged.DeprecatedExternals = unionStable(base.DeprecatedExternals, higher.DeprecatedExternals)
	merged.GlobalExternals = unionStable(base.GlobalExternals, higher.GlobalExternals)
	return merged
}

// Merge layers higher over o, for example command-line flags over a file.
func (o Overrides) Merge(higher Overrides) Overrides {
	return mergeOverrides(o, higher)
}

func applyString(target *string, value *string) {
	if value != nil {
		*target = strings.TrimSpace(*value)
	}
}

func applyBool(target *bool, value *bool) {
	if value != nil {
		*target = *value
	}
}

func applyInt(target *int, value *int) {
	if value != nil {
		*target = *value
	}
}

func unionStable(left, right []string) []string {
	if len(left) == 0 && len(right) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(left)+len(right))
	out := make([]string, 0, len(left)+len(right))
	for _, value := range append(append([]string{}, left...), right...) {
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
	return out
}
