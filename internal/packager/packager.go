// Package packager serializes bundles into output files.
package packager

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	goruntime "runtime"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/conduit-lang/bundler/internal/bundler"
	"github.com/conduit-lang/bundler/internal/graph"
	"github.com/conduit-lang/bundler/internal/platform"
)

// Options configures packaging for one build
type Options struct {
	Target     platform.Target
	Production bool
	PublicURL  string
	RootDir    string

	// Global is the name the entry's exports are assigned to
	Global string

	OutDir      string
	Concurrency int
	Logger      *zap.Logger
}

// Packager turns one bundle into the bytes of its output file
type Packager interface {
	Package(ctx context.Context, b *bundler.Bundle) ([]byte, error)
}

// PackagerFunc adapts a function to Packager
type PackagerFunc func(ctx context.Context, b *bundler.Bundle) ([]byte, error)

// Package calls f
func (f PackagerFunc) Package(ctx context.Context, b *bundler.Bundle) ([]byte, error) {
	return f(ctx, b)
}

// Registry maps bundle types to packagers. Bundles of unregistered types
// are packaged by the raw packager.
type Registry struct {
	packagers map[string]Packager
	raw       Packager
	sourceMap Packager
}

// NewRegistry returns the built-in packagers for tree
func NewRegistry(fs afero.Fs, tree *bundler.Tree, opts Options) *Registry {
	return &Registry{
		packagers: map[string]Packager{
			"js":  &JSPackager{tree: tree, opts: opts},
			"css": &CSSPackager{assets: indexAssets(tree), opts: opts},
		},
		raw:       &RawPackager{fs: fs},
		sourceMap: &MapPackager{opts: opts},
	}
}

// Register sets the packager for a bundle type
func (r *Registry) Register(bundleType string, p Packager) {
	r.packagers[bundleType] = p
}

// Lookup returns the packager for b
func (r *Registry) Lookup(b *bundler.Bundle) Packager {
	switch b.Kind {
	case bundler.KindMap:
		return r.sourceMap
	case bundler.KindRaw:
		return r.raw
	}
	if p, ok := r.packagers[b.Type]; ok {
		return p
	}
	return r.raw
}

// Output describes one written file
type Output struct {
	Name string
	Path string
	Type string
	Kind bundler.Kind
	Size int
}

// Writer packages a bundle tree and writes it to the output directory
type Writer struct {
	fs   afero.Fs
	opts Options
	log  *zap.Logger
}

// NewWriter creates a writer for fs
func NewWriter(fs afero.Fs, opts Options) *Writer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = goruntime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Writer{fs: fs, opts: opts, log: opts.Logger.Named("packager")}
}

// Write packages every bundle of tree. Nothing is written unless every
// bundle packages successfully.
func (w *Writer) Write(ctx context.Context, tree *bundler.Tree) ([]Output, error) {
	return w.WriteWith(ctx, tree, NewRegistry(w.fs, tree, w.opts))
}

// WriteWith is Write with a caller supplied registry
func (w *Writer) WriteWith(ctx context.Context, tree *bundler.Tree, registry *Registry) ([]Output, error) {
	bundles := tree.Bundles()
	contents := make([][]byte, len(bundles))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(w.opts.Concurrency)
	for i, b := range bundles {
		i, b := i, b
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			data, err := registry.Lookup(b).Package(egCtx, b)
			if err != nil {
				return fmt.Errorf("failed to package %s: %w", b.Name, err)
			}
			contents[i] = data
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if err := w.fs.MkdirAll(w.opts.OutDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	outputs := make([]Output, 0, len(bundles))
	seen := make(map[string]bool, len(bundles))
	for i, b := range bundles {
		if seen[b.Name] {
			continue
		}
		seen[b.Name] = true

		path := filepath.Join(w.opts.OutDir, b.Name)
		if err := afero.WriteFile(w.fs, path, contents[i], 0644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", b.Name, err)
		}
		outputs = append(outputs, Output{
			Name: b.Name,
			Path: path,
			Type: b.Type,
			Kind: b.Kind,
			Size: len(contents[i]),
		})
		w.log.Debug("wrote bundle",
			zap.String("name", b.Name),
			zap.String("kind", b.Kind.String()),
			zap.Int("bytes", len(contents[i])))
	}
	return outputs, nil
}

// indexAssets maps every member of tree by id
func indexAssets(tree *bundler.Tree) map[string]*graph.Asset {
	assets := make(map[string]*graph.Asset)
	for _, b := range tree.Bundles() {
		for _, a := range b.Assets {
			assets[a.ID] = a
		}
	}
	return assets
}

func trimNewline(data []byte) []byte {
	return bytes.TrimRight(data, "\n")
}
