// Package transform turns one file's content into generated code and the
// list of dependencies it references. Transformers are looked up by file
// extension; every transformer is a pure function of its Input.
package transform

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/conduit-lang/bundler/internal/cache"
	"github.com/conduit-lang/bundler/internal/platform"
)

// Options is the build configuration visible to transformers
type Options struct {
	Target     platform.Target
	Production bool
	PublicURL  string
	RootDir    string

	// Env is substituted for process.env.* on browser builds
	Env map[string]string
}

// Fingerprint identifies the options for memoization and cache keys. Two
// transforms of the same content with equal fingerprints produce equal
// results.
func (o Options) Fingerprint() string {
	var sb strings.Builder
	sb.WriteString(o.Target.String())
	sb.WriteString("|" + strconv.FormatBool(o.Production))
	sb.WriteString("|" + o.PublicURL)
	sb.WriteString("|" + o.RootDir)

	keys := make([]string, 0, len(o.Env))
	for k := range o.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString("|" + k + "=" + o.Env[k])
	}
	return cache.ShortHash(sb.String())
}

// Input is one file to transform
type Input struct {
	Path    string
	Content []byte
	Options Options
}

// Dependency is one outgoing reference found in a file
type Dependency struct {
	Specifier string `json:"specifier"`

	// Async marks a dynamic import or worker boundary
	Async bool `json:"async,omitempty"`
	// Optional marks a reference inside a try block
	Optional bool `json:"optional,omitempty"`
	// Excluded marks a reference only reachable through a statically false branch
	Excluded bool `json:"excluded,omitempty"`
	// Worker marks the async boundary as a worker or service worker script
	Worker bool `json:"worker,omitempty"`
	// Media is the media query list of a CSS @import
	Media string `json:"media,omitempty"`

	Line int `json:"line,omitempty"`
}

// Child is a synthetic asset produced as a side artifact of a transform. It
// is transformed like a file named Name next to its parent.
type Child struct {
	Name    string
	Content []byte
}

// Meta carries facts about the source that later stages need
type Meta struct {
	// ESModule is set when the file uses import/export syntax
	ESModule bool
	// Exports lists the named exports of an ES module, "default" included
	Exports []string
	// ExportAll is set for `export * from`, whose names are not known statically
	ExportAll bool
	// OutputName is the hashed file name of a raw asset
	OutputName string
}

// Result is the output of a transformer
type Result struct {
	// Generated maps an output type ("js", "css") to code
	Generated    map[string]string
	Dependencies []Dependency
	Children     []Child
	Meta         Meta
}

// Transformer converts one file
type Transformer interface {
	Transform(ctx context.Context, in Input) (*Result, error)
}

// TransformerFunc adapts a function to Transformer
type TransformerFunc func(ctx context.Context, in Input) (*Result, error)

// Transform calls f
func (f TransformerFunc) Transform(ctx context.Context, in Input) (*Result, error) {
	return f(ctx, in)
}

type entry struct {
	assetType   string
	transformer Transformer
}

// Registry maps extensions to transformers. Extensions with no entry are
// raw assets.
type Registry struct {
	entries map[string]entry
	raw     Transformer
}

// NewRegistry returns a registry with the built-in transformers
func NewRegistry() *Registry {
	r := &Registry{
		entries: make(map[string]entry),
		raw:     &RawTransformer{},
	}

	js := &JSTransformer{}
	for _, ext := range []string{".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx"} {
		r.Register(ext, "js", js)
	}
	r.Register(".json", "js", &DataTransformer{Format: FormatJSON})
	r.Register(".json5", "js", &DataTransformer{Format: FormatJSON5})
	r.Register(".yaml", "js", &DataTransformer{Format: FormatYAML})
	r.Register(".yml", "js", &DataTransformer{Format: FormatYAML})
	r.Register(".toml", "js", &DataTransformer{Format: FormatTOML})
	r.Register(".css", "css", &CSSTransformer{})
	return r
}

// Register sets the transformer and asset type for ext. ext includes the dot.
func (r *Registry) Register(ext, assetType string, t Transformer) {
	r.entries[strings.ToLower(ext)] = entry{assetType: assetType, transformer: t}
}

// Lookup returns the transformer and asset type for path
func (r *Registry) Lookup(path string) (Transformer, string) {
	ext := strings.ToLower(filepath.Ext(path))
	if e, ok := r.entries[ext]; ok {
		return e.transformer, e.assetType
	}
	return r.raw, RawType(path)
}

// Extensions lists the registered extensions, sorted so script types are tried first
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.entries))
	for ext := range r.entries {
		exts = append(exts, ext)
	}
	sort.Slice(exts, func(i, j int) bool {
		pi, pj := extPriority(exts[i]), extPriority(exts[j])
		if pi != pj {
			return pi < pj
		}
		return exts[i] < exts[j]
	})
	return exts
}

var extOrder = []string{".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx", ".json"}

func extPriority(ext string) int {
	for i, e := range extOrder {
		if e == ext {
			return i
		}
	}
	return len(extOrder)
}

// RawType is the asset type of a file with no registered transformer
func RawType(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return "raw"
	}
	return ext
}

// Pipeline runs transformers for a build, optionally backed by a
// cross-build cache keyed by content hash.
type Pipeline struct {
	registry *Registry
	options  Options
	store    *cache.Store[Result]
	hasher   *cache.FileHasher
	finger   string
}

// NewPipeline creates a pipeline. store may be nil.
func NewPipeline(registry *Registry, options Options, store *cache.Store[Result]) *Pipeline {
	return &Pipeline{
		registry: registry,
		options:  options,
		store:    store,
		hasher:   cache.NewFileHasher(nil),
		finger:   options.Fingerprint(),
	}
}

// Options returns the options every transform of this pipeline sees
func (p *Pipeline) Options() Options {
	return p.options
}

// Registry returns the registry the pipeline dispatches through
func (p *Pipeline) Registry() *Registry {
	return p.registry
}

// Transform runs the transformer registered for path over content
func (p *Pipeline) Transform(ctx context.Context, path string, content []byte) (*Result, string, error) {
	t, assetType := p.registry.Lookup(path)

	var hash string
	if p.store != nil {
		hash = p.hasher.HashContent(append([]byte(p.finger+"\x00"), content...))
		if cached, ok := p.store.Get(path, hash); ok {
			return &cached, assetType, nil
		}
	}

	res, err := t.Transform(ctx, Input{Path: path, Content: content, Options: p.options})
	if err != nil {
		return nil, assetType, err
	}
	if res == nil {
		return nil, assetType, fmt.Errorf("transformer for %s returned no result", path)
	}

	if p.store != nil {
		p.store.Put(path, hash, *res)
	}
	return res, assetType, nil
}
