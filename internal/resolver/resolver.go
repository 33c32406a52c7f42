// Package resolver maps module specifiers to files using node_modules lookup
// with per-target package entry selection.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	cerrors "github.com/conduit-lang/bundler/compiler/errors"
	"github.com/conduit-lang/bundler/internal/platform"
)

// DefaultExtensions are tried, in order, for extensionless specifiers
var DefaultExtensions = []string{".js", ".jsx", ".mjs", ".ts", ".tsx", ".json", ".yaml", ".yml", ".toml", ".css"}

const packageCacheSize = 1024

// Options configures a Resolver
type Options struct {
	RootDir     string
	Target      platform.Target
	ModuleField platform.ModuleField
	Extensions  []string

	// Builtins maps reserved specifiers to virtual paths served by the caller
	Builtins map[string]string

	AutoInstall bool
	Installer   Installer

	// Realpath resolves symlinks. Defaults to filepath.EvalSymlinks on an
	// OS filesystem and to the identity otherwise.
	Realpath func(string) (string, error)

	Logger *zap.Logger
}

// Request is one resolution
type Request struct {
	Specifier string
	From      string // importing file; empty for entries
	ESM       bool   // the importing file uses import/export syntax
}

// Result is a resolved specifier
type Result struct {
	Path string

	// Empty means the file was mapped to false by a browser field, or is a
	// core module with no browser implementation.
	Empty bool

	// External means the host runtime provides the module: it lives in
	// node_modules or is a core module, and the target is not browser.
	External bool

	Package *Package
}

// Resolver resolves specifiers for one build. It is safe for concurrent use.
type Resolver struct {
	fs       afero.Fs
	opts     Options
	log      *zap.Logger
	packages *lru.Cache[string, *Package]
	aliases  map[string]string

	installMu sync.Mutex
	installed map[string]error
}

// New creates a resolver reading from fs
func New(fs afero.Fs, opts Options) (*Resolver, error) {
	if opts.RootDir == "" {
		return nil, &cerrors.ConfigurationError{Field: "rootDir", Message: "must not be empty"}
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	if opts.ModuleField == "" {
		opts.ModuleField = platform.ModuleFieldAuto
	}
	if opts.Realpath == nil {
		opts.Realpath = defaultRealpath(fs)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	cache, err := lru.New[string, *Package](packageCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create package cache: %w", err)
	}

	r := &Resolver{
		fs:        fs,
		opts:      opts,
		log:       opts.Logger.Named("resolver"),
		packages:  cache,
		installed: make(map[string]error),
	}

	root, err := r.readPackage(opts.RootDir)
	if err != nil {
		return nil, err
	}
	if root != nil {
		r.aliases = root.Alias
	}
	return r, nil
}

// Resolve maps req to a file. Failures are *errors.ResolutionError naming the
// specifier as written.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	res, err := r.resolve(ctx, req, true)
	if err != nil {
		var resErr *cerrors.ResolutionError
		if !errors.As(err, &resErr) {
			err = &cerrors.ResolutionError{Specifier: req.Specifier, From: req.From, Err: err}
		}
		return nil, err
	}

	r.log.Debug("resolved",
		zap.String("specifier", req.Specifier),
		zap.String("from", req.From),
		zap.String("path", res.Path),
		zap.Bool("external", res.External),
		zap.Bool("empty", res.Empty))
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, req Request, allowInstall bool) (*Result, error) {
	spec := req.Specifier
	notFound := func(err error) error {
		return &cerrors.ResolutionError{Specifier: req.Specifier, From: req.From, Err: err}
	}

	if virtual, ok := r.opts.Builtins[spec]; ok {
		return &Result{Path: virtual}, nil
	}

	// Virtual importers, such as embedded runtime modules, resolve from the root
	fromDir := r.opts.RootDir
	if filepath.IsAbs(req.From) {
		fromDir = filepath.Dir(req.From)
	}

	if aliased, ok := r.applyAlias(spec); ok {
		spec = aliased
		if !isBare(spec) {
			fromDir = r.opts.RootDir
		}
	}

	// A browser map in the importing package may redirect or disable a bare name
	if r.opts.Target.IsBrowser() && isBare(spec) && filepath.IsAbs(req.From) {
		if owner, _ := r.findPackage(fromDir); owner != nil {
			if t, ok := owner.Browser.lookup(spec); ok {
				if t.Disabled {
					return &Result{Empty: true, Package: owner}, nil
				}
				spec = t.Path
				if !isBare(spec) {
					fromDir = owner.Dir
				}
			}
		}
	}

	if !isBare(spec) {
		base := filepath.Join(fromDir, spec)
		switch {
		case req.From == "" && filepath.IsAbs(spec):
			base = filepath.Clean(spec)
		case strings.HasPrefix(spec, "/"):
			base = filepath.Join(r.opts.RootDir, spec)
		}
		file, err := r.loadPath(base, req.ESM)
		if err != nil {
			return nil, notFound(err)
		}
		if file == "" {
			resErr := &cerrors.ResolutionError{Specifier: req.Specifier, From: req.From}
			resErr.Suggestions = r.suggest(base)
			return nil, resErr
		}
		return r.finish(file)
	}

	if isCoreModule(spec) {
		if r.opts.Target.IsBrowser() {
			return &Result{Empty: true}, nil
		}
		return &Result{Path: spec, External: true}, nil
	}
	if spec == "electron" && r.opts.Target == platform.Electron {
		return &Result{Path: spec, External: true}, nil
	}

	name, subpath := splitPackageName(spec)
	pkgDir, err := r.findPackageDir(fromDir, name)
	if err != nil {
		return nil, notFound(err)
	}

	if pkgDir == "" {
		if allowInstall && r.opts.AutoInstall && r.opts.Installer != nil {
			if err := r.install(ctx, name); err != nil {
				return nil, notFound(err)
			}
			return r.resolve(ctx, req, false)
		}
		return nil, notFound(nil)
	}

	var file string
	if subpath == "" {
		file, err = r.loadDirectory(pkgDir, req.ESM)
	} else {
		file, err = r.loadPath(filepath.Join(pkgDir, subpath), req.ESM)
	}
	if err != nil {
		return nil, notFound(err)
	}
	if file == "" {
		// The package is installed but the subpath is not; installing again
		// cannot help.
		return nil, notFound(nil)
	}
	return r.finish(file)
}

// finish applies the owning package's browser map to a resolved file and
// classifies the result
func (r *Resolver) finish(file string) (*Result, error) {
	owner, err := r.findPackage(filepath.Dir(file))
	if err != nil {
		return nil, err
	}

	if r.opts.Target.IsBrowser() && owner != nil {
		rel, relErr := filepath.Rel(owner.Dir, file)
		if relErr == nil {
			if t, ok := owner.Browser.lookup("./" + filepath.ToSlash(rel)); ok {
				if t.Disabled {
					return &Result{Empty: true, Package: owner}, nil
				}
				if mapped, _ := r.loadPath(filepath.Join(owner.Dir, t.Path), false); mapped != "" {
					file = mapped
				}
			}
		}
	}

	resolved, err := r.opts.Realpath(file)
	if err != nil {
		resolved = file
	}

	return &Result{
		Path:     resolved,
		External: !r.opts.Target.IsBrowser() && inNodeModules(resolved),
		Package:  owner,
	}, nil
}

// applyAlias rewrites spec using the longest matching key of the root
// package.json alias map. Relative targets are relative to the root.
func (r *Resolver) applyAlias(spec string) (string, bool) {
	best := ""
	for from := range r.aliases {
		if (spec == from || strings.HasPrefix(spec, from+"/")) && len(from) > len(best) {
			best = from
		}
	}
	if best == "" {
		return spec, false
	}
	return r.aliases[best] + strings.TrimPrefix(spec, best), true
}

// loadPath tries path as a file, then with each extension, then as a
// directory. It returns "" when nothing matches.
func (r *Resolver) loadPath(path string, esm bool) (string, error) {
	if file := r.loadAsFile(path); file != "" {
		return file, nil
	}
	return r.loadDirectory(path, esm)
}

func (r *Resolver) loadAsFile(path string) string {
	if r.isFile(path) {
		return path
	}
	for _, ext := range r.opts.Extensions {
		if r.isFile(path + ext) {
			return path + ext
		}
	}
	return ""
}

// loadDirectory resolves a directory through its package.json entry or an
// index file
func (r *Resolver) loadDirectory(dir string, esm bool) (string, error) {
	if !r.isDir(dir) {
		return "", nil
	}

	pkg, err := r.readPackage(dir)
	if err != nil {
		return "", err
	}
	if pkg != nil {
		for _, entry := range r.entryCandidates(pkg, esm) {
			if entry == "" {
				continue
			}
			if file := r.loadAsFile(filepath.Join(dir, entry)); file != "" {
				return file, nil
			}
			if file := r.loadIndex(filepath.Join(dir, entry)); file != "" {
				return file, nil
			}
		}
	}
	return r.loadIndex(dir), nil
}

func (r *Resolver) loadIndex(dir string) string {
	return r.loadAsFile(filepath.Join(dir, "index"))
}

// entryCandidates orders the package entry fields for the current target.
// source is only honoured for linked packages so published copies keep
// using their built entry.
func (r *Resolver) entryCandidates(pkg *Package, esm bool) []string {
	var entries []string
	if pkg.Source != "" && r.isLinked(pkg.Dir) {
		entries = append(entries, string(pkg.Source))
	}
	if r.opts.Target.IsBrowser() && pkg.Browser.Entry != "" {
		entries = append(entries, pkg.Browser.Entry)
	}
	if r.opts.ModuleField.PreferModule(r.opts.Target, esm) {
		entries = append(entries, pkg.Module)
	}
	return append(entries, pkg.Main)
}

// isLinked reports whether dir is a symlink to a directory outside any
// node_modules tree
func (r *Resolver) isLinked(dir string) bool {
	resolved, err := r.opts.Realpath(dir)
	if err != nil {
		return false
	}
	return filepath.Clean(resolved) != filepath.Clean(dir) && !inNodeModules(resolved)
}

// findPackageDir walks up from dir looking for node_modules/name
func (r *Resolver) findPackageDir(dir, name string) (string, error) {
	for {
		if filepath.Base(dir) != "node_modules" {
			candidate := filepath.Join(dir, "node_modules", name)
			if r.isDir(candidate) {
				return candidate, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// findPackage returns the nearest package.json at or above dir
func (r *Resolver) findPackage(dir string) (*Package, error) {
	for {
		pkg, err := r.readPackage(dir)
		if err != nil || pkg != nil {
			return pkg, err
		}
		if filepath.Base(dir) == "node_modules" {
			return nil, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// readPackage parses dir/package.json, returning nil when there is none.
// Results, including misses, are cached for the lifetime of the resolver.
func (r *Resolver) readPackage(dir string) (*Package, error) {
	if pkg, ok := r.packages.Get(dir); ok {
		return pkg, nil
	}

	data, err := afero.ReadFile(r.fs, filepath.Join(dir, "package.json"))
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, afero.ErrFileNotFound) {
			r.packages.Add(dir, nil)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read package.json: %w", err)
	}

	pkg, err := parsePackage(dir, data)
	if err != nil {
		return nil, err
	}
	r.packages.Add(dir, pkg)
	return pkg, nil
}

func (r *Resolver) install(ctx context.Context, name string) error {
	r.installMu.Lock()
	defer r.installMu.Unlock()

	if err, done := r.installed[name]; done {
		return err
	}

	r.log.Info("installing missing package", zap.String("package", name))
	err := r.opts.Installer.Install(ctx, r.opts.RootDir, name)
	if err != nil {
		err = &cerrors.InstallError{Package: name, Err: err}
	}
	r.installed[name] = err

	// Directory listings may have been cached as misses before the install
	r.packages.Purge()
	return err
}

func (r *Resolver) suggest(base string) []string {
	entries, err := afero.ReadDir(r.fs, filepath.Dir(base))
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return cerrors.SuggestSimilar(filepath.Base(base), names)
}

func (r *Resolver) isFile(path string) bool {
	info, err := r.fs.Stat(path)
	return err == nil && !info.IsDir()
}

func (r *Resolver) isDir(path string) bool {
	info, err := r.fs.Stat(path)
	return err == nil && info.IsDir()
}

func isBare(spec string) bool {
	return !strings.HasPrefix(spec, "./") &&
		!strings.HasPrefix(spec, "../") &&
		!strings.HasPrefix(spec, "/") &&
		spec != "." && spec != ".."
}

// splitPackageName separates "@scope/name/sub/path" into the package name and
// the subpath within it
func splitPackageName(spec string) (name, subpath string) {
	parts := strings.SplitN(spec, "/", 3)
	if strings.HasPrefix(spec, "@") && len(parts) >= 2 {
		name = parts[0] + "/" + parts[1]
		if len(parts) == 3 {
			subpath = parts[2]
		}
		return name, subpath
	}
	name = parts[0]
	if len(parts) > 1 {
		subpath = strings.Join(parts[1:], "/")
	}
	return name, subpath
}

func inNodeModules(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == "node_modules" {
			return true
		}
	}
	return false
}

func defaultRealpath(fs afero.Fs) func(string) (string, error) {
	if _, ok := fs.(*afero.OsFs); ok {
		return filepath.EvalSymlinks
	}
	return func(p string) (string, error) { return p, nil }
}
