// Package report renders an analysis result for people and for machines.
package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ben-ranford/depsplit/internal/analysis"
)

type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

const SchemaVersion = "0.1.0"

var ErrUnknownFormat = errors.New("unknown format")

func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, value)
	}
}

type Report struct {
	SchemaVersion string    `json:"schemaVersion"`
	GeneratedAt   time.Time `json:"generatedAt"`
	Mode          string    `json:"mode"`
	ConfigPath    string    `json:"configPath,omitempty"`
	analysis.Result
}

func New(result analysis.Result, mode analysis.Mode, configPath string, now time.Time) Report {
	if result.Entries == nil {
		result.Entries = []string{}
	}
	if result.BundledDependencies == nil {
		result.BundledDependencies = []analysis.Dependency{}
	}
	if result.ExternalDependencies == nil {
		result.ExternalDependencies = []analysis.Dependency{}
	}
	return Report{
		SchemaVersion: SchemaVersion,
		GeneratedAt:   now.UTC(),
		Mode:          string(mode),
		ConfigPath:    configPath,
		Result:        result,
	}
}
