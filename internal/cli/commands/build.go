package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	cerrors "github.com/conduit-lang/bundler/compiler/errors"
	"github.com/conduit-lang/bundler/internal/cli/config"
	"github.com/conduit-lang/bundler/internal/cli/ui"
	"github.com/conduit-lang/bundler/internal/platform"
	"github.com/conduit-lang/bundler/internal/tooling/build"
)

// errBuildFailed is returned after diagnostics have already been printed
var errBuildFailed = errors.New("build failed")

type buildFlags struct {
	root          string
	target        string
	production    bool
	global        string
	outDir        string
	publicURL     string
	concurrency   int
	noAutoInstall bool
	cache         bool
	envFiles      []string
	json          bool
	verbose       bool
	noColor       bool
}

func (f *buildFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.root, "root", "", "Project root (default: nearest directory with bundler.yml or package.json)")
	flags.StringVarP(&f.target, "target", "t", "", "Target environment: browser, node or electron")
	flags.BoolVarP(&f.production, "production", "p", false, "Minify output and set NODE_ENV=production")
	flags.StringVarP(&f.global, "global", "g", "", "Expose the entry's exports under this global name")
	flags.StringVarP(&f.outDir, "out-dir", "d", "", "Output directory (default: dist)")
	flags.StringVar(&f.publicURL, "public-url", "", "URL prefix bundles are served from (default: /)")
	flags.IntVarP(&f.concurrency, "concurrency", "j", 0, "Number of parallel transforms (default: number of CPUs)")
	flags.BoolVar(&f.noAutoInstall, "no-autoinstall", false, "Do not install missing packages")
	flags.BoolVar(&f.cache, "cache", false, "Reuse transform results across builds")
	flags.StringSliceVar(&f.envFiles, "env-file", nil, "Additional .env files to load")
	flags.BoolVar(&f.json, "json", false, "Output the result in JSON format")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "Show detailed build output")
	flags.BoolVar(&f.noColor, "no-color", false, "Disable colored output")
}

// options merges bundler.yml, BUNDLER_* variables and flags. Flags win.
func (f *buildFlags) options(cmd *cobra.Command, args []string) (*build.BuildOptions, error) {
	root := f.root
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		if root, err = config.GetProjectRoot(cwd); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("target") {
		cfg.Target = f.target
	}
	if changed("production") {
		cfg.Production = f.production
	}
	if changed("global") {
		cfg.Global = f.global
	}
	if changed("out-dir") {
		cfg.OutDir = f.outDir
	}
	if changed("public-url") {
		cfg.PublicURL = f.publicURL
	}
	if changed("concurrency") {
		cfg.Concurrency = f.concurrency
	}
	if f.noAutoInstall {
		cfg.AutoInstall = false
	}
	if f.cache {
		cfg.Cache.Enabled = true
	}
	cfg.EnvFiles = append(cfg.EnvFiles, f.envFiles...)

	// Revalidate values the flags may have replaced
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	entries := cfg.Entries
	if len(args) > 0 {
		entries = make([]string, 0, len(args))
		for _, arg := range args {
			abs, err := filepath.Abs(arg)
			if err != nil {
				return nil, err
			}
			entries = append(entries, abs)
		}
	}

	opts := build.DefaultBuildOptions()
	opts.Entries = entries
	opts.RootDir = cfg.RootDir
	opts.OutDir = cfg.OutDir
	opts.PublicURL = cfg.PublicURL
	opts.Target = platform.Target(cfg.Target)
	opts.ModuleField = platform.ModuleField(cfg.ModuleField)
	opts.Global = cfg.Global
	opts.AutoInstall = cfg.AutoInstall
	opts.UseCache = cfg.Cache.Enabled
	opts.CacheDir = cfg.Cache.Dir
	opts.EnvFiles = cfg.EnvFiles
	if cfg.Concurrency > 0 {
		opts.MaxJobs = cfg.Concurrency
	}
	if cfg.Production {
		opts.Mode = build.ModeProduction
	}
	opts.Logger = newLogger(f.verbose)
	return opts, nil
}

// NewBuildCommand creates the build command
func NewBuildCommand() *cobra.Command {
	f := &buildFlags{}
	cmd := &cobra.Command{
		Use:   "build [entries...]",
		Short: "Bundle entry files into the output directory",
		Long: `Resolve every dependency reachable from the entry files, transform each
asset and write the resulting bundle tree.

The build process:
  1. Configuration - merge bundler.yml, BUNDLER_* variables and flags
  2. Asset graph - resolve and transform every dependency
  3. Partitioning - group assets into bundles
  4. Packaging - write bundles and source maps

Nothing is written unless every step succeeds.`,
		Example: `  # Build the entries listed in bundler.yml
  bundler build

  # Build a single entry for production
  bundler build src/index.js --production

  # Build a library for node exposed as a global
  bundler build src/lib.js --target node --global MyLib

  # Output errors in JSON format (useful for tooling)
  bundler build --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, f, args)
		},
	}
	f.register(cmd)
	return cmd
}

func runBuild(cmd *cobra.Command, f *buildFlags, args []string) error {
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	noColor := f.noColor || f.json

	opts, err := f.options(cmd, args)
	if err != nil {
		return reportFailure(out, errOut, f, err, cerrors.PhaseConfig)
	}
	defer func() { _ = opts.Logger.Sync() }()

	var result *build.BuildResult
	if f.json || f.verbose {
		result, err = executeBuild(cmd.Context(), opts)
	} else {
		err = ui.WithProgress(errOut, "Build complete", 4, noColor, func(bar *ui.ProgressBar) error {
			opts.ProgressFunc = func(current, total int, message string) {
				bar.SetMessage(message)
				bar.Set(current)
			}
			var berr error
			result, berr = executeBuild(cmd.Context(), opts)
			return berr
		})
	}
	if err != nil {
		return reportFailure(out, errOut, f, err, cerrors.PhasePackage)
	}

	if f.json {
		return writeJSON(out, newBuildSummary(result))
	}

	fmt.Fprintln(out)
	ui.BundleReport(out, result.Outputs, result.Duration, noColor)
	if len(result.Removed) > 0 {
		fmt.Fprintln(out, ui.Info(fmt.Sprintf("Removed %d stale output(s) from the previous build", len(result.Removed)), noColor))
	}
	if f.verbose {
		writeDetails(out, opts, result, noColor)
	}
	return nil
}

// writeDetails prints the key facts of a finished build
func writeDetails(w io.Writer, opts *build.BuildOptions, r *build.BuildResult, noColor bool) {
	fmt.Fprintln(w)
	ui.Header(w, "Build details", noColor)
	table := ui.NewKeyValueTable(w, noColor)
	table.AddRow("Build ID", r.BuildID.String())
	table.AddRow("Mode", opts.Mode.String())
	table.AddRow("Target", string(opts.Target))
	table.AddRow("Assets", strconv.Itoa(r.Assets))
	table.AddRow("Cache hits", strconv.Itoa(r.CacheHits))
	table.AddRow("Changed sources", strconv.Itoa(len(r.Changed)))
	if len(r.Outputs) > 0 {
		table.AddRow("Output", filepath.Dir(r.Outputs[0].Path))
	}
	table.Render()
}

func executeBuild(ctx context.Context, opts *build.BuildOptions) (*build.BuildResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	system, err := build.NewSystem(opts)
	if err != nil {
		return nil, err
	}
	return system.Build(ctx)
}

func reportFailure(out, errOut io.Writer, f *buildFlags, err error, phase string) error {
	ce := cerrors.ToCompilerError(err, phase)
	if f.json {
		doc, jerr := cerrors.FormatErrorsAsJSON([]cerrors.CompilerError{ce})
		if jerr != nil {
			return jerr
		}
		fmt.Fprintln(out, doc)
		return errBuildFailed
	}
	if f.verbose {
		// Full diagnostic with the source excerpt
		fmt.Fprint(errOut, ce.FormatForTerminal())
		fmt.Fprint(errOut, cerrors.FormatSummary(1, 0))
		return errBuildFailed
	}
	fmt.Fprint(errOut, ui.DiagnosticError(ce, f.noColor))
	return errBuildFailed
}

type bundleSummary struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Kind string `json:"kind"`
	Size int    `json:"size"`
}

type buildSummary struct {
	Status     string          `json:"status"`
	BuildID    string          `json:"build_id"`
	DurationMS int64           `json:"duration_ms"`
	Assets     int             `json:"assets"`
	CacheHits  int             `json:"cache_hits"`
	TotalSize  int             `json:"total_size"`
	Bundles    []bundleSummary `json:"bundles"`
	Changed    []string        `json:"changed"`
	Removed    []string        `json:"removed"`
}

func newBuildSummary(r *build.BuildResult) buildSummary {
	s := buildSummary{
		Status:     "success",
		BuildID:    r.BuildID.String(),
		DurationMS: r.Duration.Milliseconds(),
		Assets:     r.Assets,
		CacheHits:  r.CacheHits,
		TotalSize:  r.TotalSize(),
		Bundles:    make([]bundleSummary, 0, len(r.Outputs)),
		Changed:    append([]string{}, r.Changed...),
		Removed:    append([]string{}, r.Removed...),
	}
	for _, o := range r.Outputs {
		s.Bundles = append(s.Bundles, bundleSummary{Name: o.Name, Path: o.Path, Kind: o.Kind.String(), Size: o.Size})
	}
	return s
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
