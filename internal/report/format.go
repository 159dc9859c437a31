package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/ben-ranford/depsplit/internal/analysis"
)

const maxListedExports = 4

type Formatter struct{}

func NewFormatter() Formatter {
	return Formatter{}
}

func (f Formatter) Format(report Report, format Format) (string, error) {
	switch format {
	case FormatTable:
		return formatTable(report), nil
	case FormatJSON:
		payload, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return "", err
		}
		return string(payload) + "\n", nil
	default:
		return "", ErrUnknownFormat
	}
}

func formatTable(report Report) string {
	var buffer bytes.Buffer
	appendSummary(&buffer, report)
	if len(report.BundledDependencies) == 0 && len(report.ExternalDependencies) == 0 {
		buffer.WriteString("No dependencies to report.\n")
		appendWarnings(&buffer, report)
		return buffer.String()
	}

	if len(report.BundledDependencies) > 0 {
		buffer.WriteString("Bundled:\n")
		writer := tabwriter.NewWriter(&buffer, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(writer, "Dependency\tVersion\tSource\tExports\tEntry")
		for _, dep := range report.BundledDependencies {
			_, _ = fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", dep.Key, orDash(dep.Version), source(dep), formatExports(dep.Exports), orDash(dep.Entry))
		}
		_ = writer.Flush()
	}

	if len(report.ExternalDependencies) > 0 {
		if len(report.BundledDependencies) > 0 {
			buffer.WriteString("\n")
		}
		buffer.WriteString("External:\n")
		writer := tabwriter.NewWriter(&buffer, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(writer, "Package\tVersion\tReason")
		for _, dep := range report.ExternalDependencies {
			_, _ = fmt.Fprintf(writer, "%s\t%s\t%s\n", dep.Package, orDash(dep.Version), dep.Kind)
		}
		_ = writer.Flush()
	}

	if report.ResolveMapPath != "" {
		_, _ = fmt.Fprintf(&buffer, "\nResolve map: %s\n", report.ResolveMapPath)
	}
	appendWarnings(&buffer, report)
	return buffer.String()
}

func appendSummary(buffer *bytes.Buffer, report Report) {
	workspaceCount := 0
	for _, dep := range report.BundledDependencies {
		if dep.IsWorkspace {
			workspaceCount++
		}
	}
	_, _ = fmt.Fprintf(
		buffer,
		"Summary: %d bundled (%d workspace), %d external, mode %s",
		len(report.BundledDependencies),
		workspaceCount,
		len(report.ExternalDependencies),
		report.Mode,
	)
	if report.Rounds > 0 {
		_, _ = fmt.Fprintf(buffer, ", %d transitive rounds", report.Rounds)
	}
	if report.Shimmed {
		buffer.WriteString(", CommonJS shim applied")
	}
	buffer.WriteString("\n\n")
}

func appendWarnings(buffer *bytes.Buffer, report Report) {
	if len(report.Warnings) == 0 {
		return
	}
	buffer.WriteString("\nWarnings:\n")
	for _, warning := range report.Warnings {
		buffer.WriteString("- ")
		buffer.WriteString(warning)
		buffer.WriteString("\n")
	}
}

func source(dep analysis.Dependency) string {
	if dep.IsWorkspace {
		return "workspace"
	}
	return "package"
}

func formatExports(names []string) string {
	switch {
	case len(names) == 0:
		return "(side effects)"
	case len(names) <= maxListedExports:
		return strings.Join(names, ", ")
	default:
		return fmt.Sprintf("%s +%d more", strings.Join(names[:maxListedExports], ", "), len(names)-maxListedExports)
	}
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
