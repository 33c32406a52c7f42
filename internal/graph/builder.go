package graph

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	goruntime "runtime"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	cerrors "github.com/conduit-lang/bundler/compiler/errors"
	"github.com/conduit-lang/bundler/internal/cache"
	"github.com/conduit-lang/bundler/internal/resolver"
	"github.com/conduit-lang/bundler/internal/transform"
	"github.com/conduit-lang/bundler/runtime"
)

// Resolver maps a specifier to a file
type Resolver interface {
	Resolve(ctx context.Context, req resolver.Request) (*resolver.Result, error)
}

// Transformer converts one file and reports its asset type
type Transformer interface {
	Transform(ctx context.Context, path string, content []byte) (*transform.Result, string, error)
}

// ImplicitDependency is an extra edge requested by a Delegate
type ImplicitDependency struct {
	Name string
}

// Delegate adds dependencies that do not appear in an asset's source. It is
// called once per asset, possibly from several goroutines at once.
type Delegate interface {
	ImplicitDependencies(asset *Asset) []ImplicitDependency
}

// DelegateFunc adapts a function to Delegate
type DelegateFunc func(asset *Asset) []ImplicitDependency

// ImplicitDependencies calls f
func (f DelegateFunc) ImplicitDependencies(asset *Asset) []ImplicitDependency {
	return f(asset)
}

// Options configures a Builder
type Options struct {
	RootDir string
	// Fingerprint identifies the generation options; it is part of every
	// asset id
	Fingerprint string
	// Concurrency bounds the number of files resolved and transformed at
	// once. Zero means the number of CPUs.
	Concurrency int
	Delegate    Delegate
	Logger      *zap.Logger
}

// Builder drives resolution and transformation from the entries
type Builder struct {
	fs          afero.Fs
	resolver    Resolver
	transformer Transformer
	opts        Options
	log         *zap.Logger
}

// NewBuilder creates a graph builder reading files from fs
func NewBuilder(fs afero.Fs, r Resolver, t Transformer, opts Options) *Builder {
	if opts.Concurrency <= 0 {
		opts.Concurrency = goruntime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Builder{
		fs:          fs,
		resolver:    r,
		transformer: t,
		opts:        opts,
		log:         opts.Logger.Named("graph"),
	}
}

// Build resolves every entry and walks the dependency graph from them. The
// first fatal error cancels the remaining work and is returned.
func (b *Builder) Build(ctx context.Context, entries []string) (*Graph, error) {
	if len(entries) == 0 {
		return nil, &cerrors.ConfigurationError{Field: "entries", Message: "at least one entry is required"}
	}

	// Entries resolve before any work starts so a bad entry fails fast
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		res, err := b.resolver.Resolve(ctx, resolver.Request{Specifier: entry})
		if err != nil {
			return nil, err
		}
		if res.Empty || res.External {
			return nil, &cerrors.ConfigurationError{
				Field:   "entries",
				Message: fmt.Sprintf("%s does not resolve to a bundleable file", entry),
			}
		}
		paths = append(paths, res.Path)
	}

	start := time.Now()
	eg, egCtx := errgroup.WithContext(ctx)
	run := &walk{
		Builder: b,
		ctx:     egCtx,
		eg:      eg,
		sem:     semaphore.NewWeighted(int64(b.opts.Concurrency)),
		memo:    make(map[string]*Asset),
		ids:     make(map[string]string),
	}

	roots := make([]*Asset, 0, len(paths))
	for _, path := range paths {
		roots = append(roots, run.visit(path, nil))
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	g := run.finish(roots)
	b.log.Debug("graph complete",
		zap.Int("assets", g.Len()),
		zap.Int("entries", len(roots)),
		zap.Duration("duration", time.Since(start)))
	return g, nil
}

// walk is the state of one Build call. The memo table is the only state
// shared between workers.
type walk struct {
	*Builder

	ctx context.Context
	eg  *errgroup.Group
	sem *semaphore.Weighted

	mu   sync.Mutex
	memo map[string]*Asset // resolved path -> asset, possibly in progress
	ids  map[string]string // asset id -> path
}

// visit returns the asset for path, scheduling its construction the first
// time path is seen. The returned asset may still be in progress; only its
// ID and Path may be read before the walk completes. content is non-nil for
// synthetic assets.
func (w *walk) visit(path string, content []byte) *Asset {
	w.mu.Lock()
	if a, ok := w.memo[path]; ok {
		w.mu.Unlock()
		return a
	}
	a := &Asset{
		ID:        w.assetID(path),
		Path:      path,
		Synthetic: content != nil,
	}
	w.memo[path] = a
	w.mu.Unlock()

	w.eg.Go(func() error {
		return w.process(a, content)
	})
	return a
}

// assetID derives a stable id from the root-relative path and the
// generation options. Callers hold w.mu.
func (w *walk) assetID(path string) string {
	rel := path
	if !runtime.IsVirtual(path) && w.opts.RootDir != "" {
		if r, err := filepath.Rel(w.opts.RootDir, path); err == nil {
			rel = filepath.ToSlash(r)
		}
	}
	key := w.opts.Fingerprint + "\x00" + rel

	id := cache.ShortHash(key)
	if other, taken := w.ids[id]; taken && other != path {
		id = cache.NewFileHasher(nil).HashString(key)[:16]
	}
	w.ids[id] = path
	return id
}

func (w *walk) process(a *Asset, content []byte) error {
	if err := w.sem.Acquire(w.ctx, 1); err != nil {
		return err
	}
	defer w.sem.Release(1)
	if err := w.ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	if content == nil {
		var err error
		if content, err = w.read(a.Path); err != nil {
			return err
		}
	}

	res, assetType, err := w.transformer.Transform(w.ctx, a.Path, content)
	if err != nil {
		return err
	}
	a.Type = assetType
	a.Generated = res.Generated
	a.Meta = res.Meta

	for _, d := range res.Dependencies {
		if d.Excluded {
			continue
		}
		dep := &Dependency{
			Specifier: d.Specifier,
			Line:      d.Line,
			Async:     d.Async,
			Optional:  d.Optional,
			Worker:    d.Worker,
			Media:     d.Media,
		}
		if err := w.resolve(a, dep); err != nil {
			return err
		}
		a.Dependencies = append(a.Dependencies, dep)
	}

	for _, child := range res.Children {
		path := filepath.Join(filepath.Dir(a.Path), child.Name)
		body := child.Content
		if body == nil {
			body = []byte{}
		}
		c := w.visit(path, body)
		a.Dependencies = append(a.Dependencies, &Dependency{
			Specifier: "./" + filepath.ToSlash(child.Name),
			Target:    c.ID,
			Implicit:  true,
		})
	}

	if w.opts.Delegate != nil {
		for _, imp := range w.opts.Delegate.ImplicitDependencies(a) {
			dep := &Dependency{Specifier: imp.Name, Implicit: true}
			if err := w.resolve(a, dep); err != nil {
				return err
			}
			a.Dependencies = append(a.Dependencies, dep)
		}
	}

	w.log.Debug("asset built",
		zap.String("path", a.Path),
		zap.String("type", a.Type),
		zap.Int("dependencies", len(a.Dependencies)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// resolve fills in the target of dep, scheduling the target asset. Optional
// references that fail to resolve become missing edges.
func (w *walk) resolve(a *Asset, dep *Dependency) error {
	res, err := w.resolver.Resolve(w.ctx, resolver.Request{
		Specifier: dep.Specifier,
		From:      a.Path,
		ESM:       a.Meta.ESModule,
	})
	if err != nil {
		var resErr *cerrors.ResolutionError
		if !errors.As(err, &resErr) {
			return err
		}
		resErr.Line = dep.Line
		if dep.Optional {
			dep.Missing = true
			dep.Err = resErr.Error()
			w.log.Debug("optional dependency missing",
				zap.String("specifier", dep.Specifier),
				zap.String("from", a.Path))
			return nil
		}
		return resErr
	}

	switch {
	case res.Empty:
		dep.Empty = true
	case res.External:
		dep.External = true
	default:
		dep.Target = w.visit(res.Path, nil).ID
	}
	return nil
}

func (w *walk) read(path string) ([]byte, error) {
	if runtime.IsVirtual(path) {
		return runtime.ReadFile(path)
	}
	content, err := afero.ReadFile(w.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return content, nil
}

// finish assembles the graph once every worker has returned and marks
// bundle roots
func (w *walk) finish(entries []*Asset) *Graph {
	g := New()

	paths := make([]string, 0, len(w.memo))
	for path := range w.memo {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		g.Add(w.memo[path])
	}
	for _, path := range paths {
		for _, dep := range w.memo[path].Dependencies {
			if !dep.Async || !dep.Resolved() {
				continue
			}
			target, _ := g.Get(dep.Target)
			target.BundleRoot = true
			if dep.Worker {
				target.Isolated = true
			}
		}
	}
	for _, a := range entries {
		g.MarkEntry(a.ID)
	}
	return g
}
