// Package cli maps the depsplit command line onto app requests and process
// exit codes.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ben-ranford/depsplit/internal/app"
	"github.com/ben-ranford/depsplit/internal/config"
	"github.com/ben-ranford/depsplit/internal/report"
)

const (
	ExitOK         = 0
	ExitError      = 1
	ExitUsage      = 2
	ExitValidation = 3
)

// Version is set at build time.
var Version = "dev"

type Runner interface {
	Execute(ctx context.Context, req app.Request) (string, error)
}

// RunnerFactory builds the runner once the log level is known.
type RunnerFactory func(log zerolog.Logger) Runner

type CLI struct {
	NewRunner RunnerFactory
	In        io.Reader
	Out       io.Writer
	Err       io.Writer
}

func New(newRunner RunnerFactory, in io.Reader, out io.Writer, errOut io.Writer) *CLI {
	return &CLI{NewRunner: newRunner, In: in, Out: out, Err: errOut}
}

// runnerError marks failures that come from the analysis rather than from
// parsing the command line.
type runnerError struct {
	err error
}

func (e *runnerError) Error() string { return e.err.Error() }
func (e *runnerError) Unwrap() error { return e.err }

func (c *CLI) Run(ctx context.Context, args []string) int {
	root := c.command()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	var runErr *runnerError
	if !errors.As(err, &runErr) {
		fmt.Fprintf(c.Err, "error: %v\n\n", err)
		fmt.Fprint(c.Err, root.UsageString())
		return ExitUsage
	}
	fmt.Fprintln(c.Err, runErr.Error())
	if errors.Is(runErr, app.ErrBundleValidation) {
		return ExitValidation
	}
	return ExitError
}

type options struct {
	root                string
	configPath          string
	format              string
	verbose             bool
	entry               string
	tools               []string
	externals           []string
	deprecatedExternals []string
	globalExternals     []string
	externalizePackages bool
	mode                string
	transitive          bool
	depthLimit          int
	concurrency         int
	sourcemap           bool
	outDir              string
	validate            bool
	node                string
}

func (c *CLI) command() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "depsplit",
		Short:         "Decide which dependencies of a JavaScript program to bundle and emit them as virtual modules",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(c.In)
	root.SetOut(c.Out)
	root.SetErr(c.Err)
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	analyze := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze entries, classify dependencies and validate the emitted bundle",
		Long: `Analyze compiles the program entry and any tool entries, records the
bindings each one imports, resolves workspace packages transitively and
splits the dependencies into bundled and external sets.

Use --entry - to read the program source from stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runAnalyze(cmd, opts)
		},
	}
	flags := analyze.Flags()
	flags.StringVar(&opts.root, "root", ".", "project root")
	flags.StringVar(&opts.configPath, "config", "", "config file (default: .depsplit.yml, .depsplit.yaml, .depsplit.toml or depsplit.json in the root)")
	flags.StringVarP(&opts.format, "format", "f", string(report.FormatTable), "output format: table or json")
	flags.StringVarP(&opts.entry, "entry", "e", "", "program entry file, or - for stdin")
	flags.StringSliceVar(&opts.tools, "tool", nil, "tool entry file (repeatable)")
	flags.StringSliceVar(&opts.externals, "external", nil, "package to keep external (repeatable)")
	flags.StringSliceVar(&opts.deprecatedExternals, "deprecated-external", nil, "package kept external with a deprecation warning (repeatable)")
	flags.StringSliceVar(&opts.globalExternals, "global-external", nil, "package always kept external (repeatable)")
	flags.BoolVar(&opts.externalizePackages, "externalize-packages", false, "keep every non-workspace package external")
	flags.StringVar(&opts.mode, "mode", config.DefaultMode, "build or optimize")
	flags.BoolVar(&opts.transitive, "transitive", true, "analyze workspace dependencies transitively")
	flags.IntVar(&opts.depthLimit, "depth-limit", config.DefaultDepthLimit, "maximum transitive rounds")
	flags.IntVar(&opts.concurrency, "concurrency", config.DefaultConcurrency, "concurrent entry analyses")
	flags.BoolVar(&opts.sourcemap, "sourcemap", false, "emit sourcemaps")
	flags.StringVar(&opts.outDir, "out-dir", config.DefaultOutDir, "output directory for virtual modules")
	flags.BoolVar(&opts.validate, "validate", true, "build and execute the emitted entry chunks")
	flags.StringVar(&opts.node, "node", config.DefaultNode, "JavaScript runtime used for validation")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "depsplit %s\n", Version)
		},
	}

	root.AddCommand(analyze, version)
	return root
}

func (c *CLI) runAnalyze(cmd *cobra.Command, opts *options) error {
	format, err := report.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	overrides := flagOverrides(cmd, opts)
	if err := overrides.Validate(); err != nil {
		return err
	}

	level := zerolog.InfoLevel
	if opts.verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: c.Err, NoColor: true}).Level(level).With().Timestamp().Logger()

	output, runErr := c.NewRunner(log).Execute(cmd.Context(), app.Request{
		ProjectRoot: opts.root,
		ConfigPath:  opts.configPath,
		Flags:       overrides,
		Format:      format,
		Stdin:       c.In,
	})
	if output != "" {
		fmt.Fprint(c.Out, output)
		if !strings.HasSuffix(output, "\n") {
			fmt.Fprintln(c.Out)
		}
	}
	if runErr != nil {
		return &runnerError{err: runErr}
	}
	return nil
}

// flagOverrides returns only the flags set on the command line so that
// config file values survive unset flags.
func flagOverrides(cmd *cobra.Command, opts *options) config.Overrides {
	flags := cmd.Flags()
	var out config.Overrides
	if flags.Changed("entry") {
		out.Entry = &opts.entry
	}
	out.Tools = opts.tools
	out.Externals = opts.externals
	out.DeprecatedExternals = opts.deprecatedExternals
	out.GlobalExternals = opts.globalExternals
	if flags.Changed("externalize-packages") {
		out.ExternalizePackages = &opts.externalizePackages
	}
	if flags.Changed("mode") {
		out.Mode = &opts.mode
	}
	if flags.Changed("transitive") {
		out.Transitive = &opts.transitive
	}
	if flags.Changed("depth-limit") {
		out.DepthLimit = &opts.depthLimit
	}
	if flags.Changed("concurrency") {
		out.Concurrency = &opts.concurrency
	}
	if flags.Changed("sourcemap") {
		out.Sourcemap = &opts.sourcemap
	}
	if flags.Changed("out-dir") {
		out.OutDir = &opts.outDir
	}
	if flags.Changed("validate") {
		out.ValidateBundle = &opts.validate
	}
	if flags.Changed("node") {
		out.Node = &opts.node
	}
	return out
}
