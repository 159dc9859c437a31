// Package config discovers and loads project configuration files, following
// `extends` chains from lowest to highest precedence.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/ben-ranford/depsplit/internal/safeio"
)

const (
	readConfigFileErrFmt = "read config file %s: %w"
	parseConfigErrFmt    = "parse config file %s: %w"
	defaultSource        = "defaults"
)

// FileNames are searched in order in the project root.
var FileNames = []string{".depsplit.yml", ".depsplit.yaml", ".depsplit.toml", "depsplit.json"}

type LoadResult struct {
	Overrides  Overrides
	Resolved   Values
	ConfigPath string
	// Sources lists the files that contributed, highest precedence first.
	Sources []string
}

// Load reads the config at explicitPath, or the first of FileNames found in
// projectRoot. Without a config file the defaults are returned.
func Load(projectRoot, explicitPath string) (LoadResult, error) {
	rootAbs, err := filepath.Abs(projectRoot)
	if err != nil {
		return LoadResult{}, fmt.Errorf("resolve project path: %w", err)
	}
	explicitProvided := strings.TrimSpace(explicitPath) != ""

	configPath, found, err := resolveConfigPath(rootAbs, strings.TrimSpace(explicitPath))
	if err != nil {
		return LoadResult{}, err
	}
	if !found {
		return LoadResult{Resolved: Defaults(), Sources: []string{defaultSource}}, nil
	}

	resolver := newExtendsResolver(rootAbs)
	merged, err := resolver.resolveFile(configPath, explicitProvided)
	if err != nil {
		return LoadResult{}, err
	}
	if err := merged.overrides.Validate(); err != nil {
		return LoadResult{}, fmt.Errorf(parseConfigErrFmt, configPath, err)
	}
	return LoadResult{
		Overrides:  merged.overrides,
		Resolved:   merged.overrides.Apply(Defaults()),
		ConfigPath: configPath,
		Sources:    merged.sourcesHighToLow(),
	}, nil
}

func resolveConfigPath(rootPath, explicitPath string) (string, bool, error) {
	if explicitPath != "" {
		candidate := explicitPath
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(rootPath, candidate)
		}
		candidate = filepath.Clean(candidate)
		if _, err := os.Stat(candidate); err != nil {
			if os.IsNotExist(err) {
				return "", false, fmt.Errorf("config file not found: %s", candidate)
			}
			return "", false, fmt.Errorf(readConfigFileErrFmt, candidate, err)
		}
		return candidate, true, nil
	}

	for _, name := range FileNames {
		candidate := filepath.Join(rootPath, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !os.IsNotExist(err) {
			return "", false, fmt.Errorf(readConfigFileErrFmt, candidate, err)
		}
	}
	return "", false, nil
}

func readConfigFile(rootPath, path string, explicitProvided bool) ([]byte, error) {
	if !explicitProvided || safeio.IsUnder(rootPath, path) {
		return safeio.ReadFileUnder(rootPath, path)
	}
	return safeio.ReadFile(path)
}

type rawConfig struct {
	Extends             []string `yaml:"extends" json:"extends" toml:"extends"`
	Entry               *string  `yaml:"entry" json:"entry" toml:"entry"`
	Tools               []string `yaml:"tools" json:"tools" toml:"tools"`
	Externals           any      `yaml:"externals" json:"externals" toml:"externals"`
	DeprecatedExternals []string `yaml:"deprecated_externals" json:"deprecated_externals" toml:"deprecated_externals"`
	GlobalExternals     []string `yaml:"global_externals" json:"global_externals" toml:"global_externals"`
	Mode                *string  `yaml:"mode" json:"mode" toml:"mode"`
	Transitive          *bool    `yaml:"transitive" json:"transitive" toml:"transitive"`
	DepthLimit          *int     `yaml:"depth_limit" json:"depth_limit" toml:"depth_limit"`
	Concurrency         *int     `yaml:"concurrency" json:"concurrency" toml:"concurrency"`
	Sourcemap           *bool    `yaml:"sourcemap" json:"sourcemap" toml:"sourcemap"`
	OutDir              *string  `yaml:"out_dir" json:"out_dir" toml:"out_dir"`
	Validate            *bool    `yaml:"validate" json:"validate" toml:"validate"`
	Node                *string  `yaml:"node" json:"node" toml:"node"`
}

func parseConfig(path string, data []byte) (rawConfig, error) {
	var cfg rawConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return rawConfig{}, fmt.Errorf("invalid JSON config: %w", err)
		}
		if decoder.More() {
			return rawConfig{}, fmt.Errorf("invalid JSON config: multiple JSON values")
		}
	case ".toml":
		decoder := toml.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return rawConfig{}, fmt.Errorf("invalid TOML config: %w", err)
		}
	default:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return rawConfig{}, fmt.Errorf("invalid YAML config: %w", err)
		}
	}
	return cfg, nil
}

func (c rawConfig) toOverrides() (Overrides, error) {
	overrides := Overrides{
		Entry:               c.Entry,
		Tools:               c.Tools,
		DeprecatedExternals: c.DeprecatedExternals,
		GlobalExternals:     c.GlobalExternals,
		Mode:                c.Mode,
		Transitive:          c.Transitive,
		DepthLimit:          c.DepthLimit,
		Concurrency:         c.Concurrency,
		Sourcemap:           c.Sourcemap,
		OutDir:              c.OutDir,
		ValidateBundle:      c.Validate,
		Node:                c.Node,
	}
	switch typed := c.Externals.(type) {
	case nil:
	case bool:
		overrides.ExternalizePackages = &typed
	case []any:
		for idx, item := range typed {
			name, ok := item.(string)
			if !ok {
				return Overrides{}, fmt.Errorf("externals[%d] must be a string", idx)
			}
			overrides.Externals = append(overrides.Externals, name)
		}
	default:
		return Overrides{}, fmt.Errorf("externals must be a list of package names or true")
	}
	return overrides, nil
}

type extendsResolver struct {
	rootPath string
	stack    []string
}

type mergeResult struct {
	overrides         Overrides
	appliedSourcesLow []string
}

func (r *mergeResult) sourcesHighToLow() []string {
	sources := make([]string, 0, len(r.appliedSourcesLow)+1)
	seen := map[string]struct{}{defaultSource: {}}
	for i := len(r.appliedSourcesLow) - 1; i >= 0; i-- {
		source := r.appliedSourcesLow[i]
		if _, ok := seen[source]; ok {
			continue
		}
		seen[source] = struct{}{}
		sources = append(sources, source)
	}
	return append(sources, defaultSource)
}

func newExtendsResolver(rootPath string) *extendsResolver {
	return &extendsResolver{rootPath: rootPath, stack: make([]string, 0, 8)}
}

func (r *extendsResolver) resolveFile(path string, explicitProvided bool) (mergeResult, error) {
	canonical, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return mergeResult{}, fmt.Errorf("resolve config path: %w", err)
	}
	if err := r.push(canonical); err != nil {
		return mergeResult{}, err
	}
	defer r.pop()

	data, err := readConfigFile(r.rootPath, canonical, explicitProvided)
	if err != nil {
		return mergeResult{}, fmt.Errorf(readConfigFileErrFmt, canonical, err)
	}
	cfg, err := parseConfig(canonical, data)
	if err != nil {
		return mergeResult{}, fmt.Errorf(parseConfigErrFmt, canonical, err)
	}

	merged := Overrides{}
	sources := make([]string, 0, len(cfg.Extends)+1)
	for idx, ref := range cfg.Extends {
		trimmed := strings.TrimSpace(ref)
		if trimmed == "" {
			return mergeResult{}, fmt.Errorf("parse config file %s: extends[%d] must not be empty", canonical, idx)
		}
		if !filepath.IsAbs(trimmed) {
			trimmed = filepath.Join(filepath.Dir(canonical), trimmed)
		}
		parent, err := r.resolveFile(trimmed, true)
		if err != nil {
			return mergeResult{}, err
		}
		merged = mergeOverrides(merged, parent.overrides)
		sources = append(sources, parent.appliedSourcesLow...)
	}

	self, err := cfg.toOverrides()
	if err != nil {
		return mergeResult{}, fmt.Errorf(parseConfigErrFmt, canonical, err)
	}
	merged = mergeOverrides(merged, self)
	sources = append(sources, canonical)
	return mergeResult{overrides: merged, appliedSourcesLow: sources}, nil
}

func (r *extendsResolver) push(path string) error {
	for _, current := range r.stack {
		if current == path {
			chain := append(append([]string{}, r.stack...), path)
			return fmt.Errorf("config extends cycle detected: %s", strings.Join(chain, " -> "))
		}
	}
	r.stack = append(r.stack, path)
	return nil
}

func (r *extendsResolver) pop() {
	if len(r.stack) > 0 {
		r.stack = r.stack[:len(r.stack)-1]
	}
}
