package build

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	cerrors "github.com/conduit-lang/bundler/compiler/errors"
	"github.com/conduit-lang/bundler/internal/bundler"
	"github.com/conduit-lang/bundler/internal/cache"
	"github.com/conduit-lang/bundler/internal/graph"
	"github.com/conduit-lang/bundler/internal/packager"
	"github.com/conduit-lang/bundler/internal/platform"
	"github.com/conduit-lang/bundler/internal/resolver"
	"github.com/conduit-lang/bundler/internal/transform"
	bundleruntime "github.com/conduit-lang/bundler/runtime"
)

// BuildMode represents the compilation mode
type BuildMode int

const (
	// Development mode keeps output readable
	ModeDevelopment BuildMode = iota
	// Production mode minifies output
	ModeProduction
)

func (m BuildMode) String() string {
	switch m {
	case ModeDevelopment:
		return "development"
	case ModeProduction:
		return "production"
	default:
		return "unknown"
	}
}

// BuildOptions configures the build process
type BuildOptions struct {
	Mode BuildMode

	// Entries are the files bundling starts from, relative to RootDir or
	// absolute
	Entries   []string
	RootDir   string
	OutDir    string
	PublicURL string
	Target    platform.Target
	// Global names the variable the entry's exports are assigned to
	Global string

	MaxJobs     int
	AutoInstall bool
	Installer   resolver.Installer
	ModuleField platform.ModuleField

	UseCache bool
	CacheDir string

	// EnvFiles are read after .env, .env.<mode> and .env.local
	EnvFiles []string

	Delegate graph.Delegate

	// DryRun stops after partitioning. Nothing is written and the previous
	// build state is left alone.
	DryRun bool

	// FS is the filesystem sources are read from and output is written to.
	// Defaults to the OS filesystem.
	FS     afero.Fs
	Logger *zap.Logger

	ProgressFunc func(current, total int, message string)
}

// DefaultBuildOptions returns sensible defaults
func DefaultBuildOptions() *BuildOptions {
	return &BuildOptions{
		Mode:        ModeDevelopment,
		RootDir:     ".",
		OutDir:      "dist",
		PublicURL:   "/",
		Target:      platform.Browser,
		MaxJobs:     runtime.NumCPU(),
		AutoInstall: true,
		ModuleField: platform.ModuleFieldAuto,
		UseCache:    false,
		CacheDir:    ".bundler-cache",
	}
}

// BuildResult contains information about the build
type BuildResult struct {
	BuildID  uuid.UUID
	Tree     *bundler.Tree
	Outputs  []packager.Output
	Duration time.Duration

	Assets    int
	CacheHits int

	// Changed lists the sources that differ from the previous build
	Changed []string
	// Removed lists stale outputs of the previous build that were deleted
	Removed []string
}

// TotalSize is the number of bytes written
func (r *BuildResult) TotalSize() int {
	total := 0
	for _, o := range r.Outputs {
		total += o.Size
	}
	return total
}

// System coordinates the entire build process: resolution and
// transformation into an asset graph, partitioning into bundles, and
// packaging. A System runs one build at a time.
type System struct {
	options *BuildOptions
	fs      afero.Fs
	log     *zap.Logger
}

// NewSystem validates opts and creates a build system
func NewSystem(opts *BuildOptions) (*System, error) {
	if opts == nil {
		opts = DefaultBuildOptions()
	}
	o := *opts

	if o.FS == nil {
		o.FS = afero.NewOsFs()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.MaxJobs <= 0 {
		o.MaxJobs = runtime.NumCPU()
	}
	if o.Target == "" {
		o.Target = platform.Browser
	}
	if o.ModuleField == "" {
		o.ModuleField = platform.ModuleFieldAuto
	}
	if o.AutoInstall && o.Installer == nil {
		o.Installer = resolver.NPMInstaller{}
	}

	if err := validate(&o); err != nil {
		return nil, err
	}

	return &System{
		options: &o,
		fs:      o.FS,
		log:     o.Logger.Named("build"),
	}, nil
}

func validate(o *BuildOptions) error {
	if len(o.Entries) == 0 {
		return &cerrors.ConfigurationError{Field: "entries", Message: "at least one entry is required"}
	}
	if _, err := platform.ParseTarget(string(o.Target)); err != nil {
		return &cerrors.ConfigurationError{Field: "target", Message: err.Error()}
	}
	if _, err := platform.ParseModuleField(string(o.ModuleField)); err != nil {
		return &cerrors.ConfigurationError{Field: "moduleField", Message: err.Error()}
	}
	if o.Mode != ModeDevelopment && o.Mode != ModeProduction {
		return &cerrors.ConfigurationError{Field: "production", Message: fmt.Sprintf("unknown build mode %d", o.Mode)}
	}
	if o.Global != "" && !isIdentifier(o.Global) {
		return &cerrors.ConfigurationError{Field: "global", Message: fmt.Sprintf("%q is not a valid identifier", o.Global)}
	}
	if o.OutDir == "" {
		return &cerrors.ConfigurationError{Field: "outDir", Message: "must not be empty"}
	}
	if o.UseCache && o.CacheDir == "" {
		return &cerrors.ConfigurationError{Field: "cache.dir", Message: "must not be empty when the cache is enabled"}
	}

	root, err := filepath.Abs(o.RootDir)
	if err != nil {
		return &cerrors.ConfigurationError{Field: "rootDir", Message: err.Error()}
	}
	o.RootDir = root
	if !filepath.IsAbs(o.OutDir) {
		o.OutDir = filepath.Join(root, o.OutDir)
	}
	if !filepath.IsAbs(o.CacheDir) && o.CacheDir != "" {
		o.CacheDir = filepath.Join(root, o.CacheDir)
	}

	entries := make([]string, 0, len(o.Entries))
	for _, e := range o.Entries {
		if !filepath.IsAbs(e) {
			e = filepath.Join(root, e)
		}
		entries = append(entries, e)
	}
	o.Entries = entries
	return nil
}

func isIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return s != ""
}

// Options returns the validated options
func (s *System) Options() BuildOptions {
	return *s.options
}

// Build performs a full build. Nothing is written to the output directory
// unless every stage succeeds.
func (s *System) Build(ctx context.Context) (*BuildResult, error) {
	startTime := time.Now()
	opts := s.options

	result := &BuildResult{BuildID: uuid.New()}
	log := s.log.With(zap.String("build_id", result.BuildID.String()))
	log.Info("build started",
		zap.Strings("entries", opts.Entries),
		zap.String("target", opts.Target.String()),
		zap.String("mode", opts.Mode.String()))

	s.progress(0, 4, "Resolving configuration...")

	env, err := transform.LoadEnv(s.fs, opts.RootDir, opts.Mode.String(), opts.EnvFiles...)
	if err != nil {
		return nil, &cerrors.ConfigurationError{Field: "envFiles", Message: err.Error()}
	}

	topts := transform.Options{
		Target:     opts.Target,
		Production: opts.Mode == ModeProduction,
		PublicURL:  opts.PublicURL,
		RootDir:    opts.RootDir,
		Env:        env,
	}

	res, err := resolver.New(s.fs, resolver.Options{
		RootDir:     opts.RootDir,
		Target:      opts.Target,
		ModuleField: opts.ModuleField,
		Builtins:    bundleruntime.Specifiers(opts.Target),
		AutoInstall: opts.AutoInstall,
		Installer:   opts.Installer,
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	var store *cache.Store[transform.Result]
	if opts.UseCache {
		store, err = cache.Open[transform.Result](s.fs, opts.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
	}
	pipeline := transform.NewPipeline(transform.NewRegistry(), topts, store)

	s.progress(1, 4, "Building asset graph...")
	builder := graph.NewBuilder(s.fs, res, pipeline, graph.Options{
		RootDir:     opts.RootDir,
		Fingerprint: topts.Fingerprint(),
		Concurrency: opts.MaxJobs,
		Delegate:    opts.Delegate,
		Logger:      opts.Logger,
	})
	g, err := builder.Build(ctx, opts.Entries)
	if err != nil {
		return nil, err
	}
	result.Assets = g.Len()

	s.progress(2, 4, "Partitioning bundles...")
	tree, err := bundler.Partition(g, bundler.Options{Logger: opts.Logger})
	if err != nil {
		return nil, fmt.Errorf("failed to partition bundles: %w", err)
	}
	result.Tree = tree

	if opts.DryRun {
		result.Duration = time.Since(startTime)
		s.progress(4, 4, "Build complete")
		log.Info("dry run finished", zap.Int("assets", result.Assets), zap.Duration("duration", result.Duration))
		return result, nil
	}

	s.progress(3, 4, "Writing bundles...")
	writer := packager.NewWriter(s.fs, packager.Options{
		Target:      opts.Target,
		Production:  topts.Production,
		PublicURL:   opts.PublicURL,
		RootDir:     opts.RootDir,
		Global:      opts.Global,
		OutDir:      opts.OutDir,
		Concurrency: opts.MaxJobs,
		Logger:      opts.Logger,
	})
	outputs, err := writer.Write(ctx, tree)
	if err != nil {
		return nil, err
	}
	result.Outputs = outputs

	if store != nil {
		result.CacheHits = store.Stats().Hits
		if err := store.Save(); err != nil {
			log.Warn("failed to save transform cache", zap.Error(err))
		}
	}

	if err := s.updateState(g, result); err != nil {
		log.Warn("failed to update build state", zap.Error(err))
	}

	result.Duration = time.Since(startTime)
	s.progress(4, 4, "Build complete")
	log.Info("build finished",
		zap.Int("assets", result.Assets),
		zap.Int("bundles", len(result.Outputs)),
		zap.Int("cache_hits", result.CacheHits),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// updateState compares the build with the previous one, deletes outputs the
// new build no longer produces and records the new state
func (s *System) updateState(g *graph.Graph, result *BuildResult) error {
	opts := s.options
	state, err := LoadState(s.fs, opts.OutDir)
	if err != nil {
		return err
	}

	if state.BuildOptions != snapshot(opts) {
		state.FileHashes = make(map[string]string)
	}

	hasher := cache.NewFileHasher(s.fs)
	hashes := make(map[string]string, g.Len())
	for _, a := range g.Assets() {
		if a.Synthetic || bundleruntime.IsVirtual(a.Path) {
			continue
		}
		hash, err := hasher.HashFile(a.Path)
		if err != nil {
			continue
		}
		hashes[a.Path] = hash
	}

	result.Changed = state.ChangedFiles(hashes)
	for _, name := range state.StaleOutputs(result.Outputs) {
		if err := s.fs.Remove(filepath.Join(opts.OutDir, name)); err != nil {
			s.log.Debug("failed to remove stale output", zap.String("name", name), zap.Error(err))
			continue
		}
		result.Removed = append(result.Removed, name)
	}
	sort.Strings(result.Removed)

	state.UpdateFromBuild(result, hashes, opts)
	return state.SaveState(s.fs, opts.OutDir)
}

func (s *System) progress(current, total int, message string) {
	if s.options.ProgressFunc != nil {
		s.options.ProgressFunc(current, total, message)
	}
}
