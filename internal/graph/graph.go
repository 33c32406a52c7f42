// Package graph builds the asset graph of a build: every file reachable from
// the entries, transformed once, with its outgoing dependencies resolved to
// other assets.
package graph

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/conduit-lang/bundler/internal/transform"
	"github.com/conduit-lang/bundler/runtime"
)

// Dependency is a directed edge from an asset to a specifier
type Dependency struct {
	Specifier string
	Line      int

	Async    bool // dynamic import or worker boundary
	Optional bool // reference guarded by try/catch
	Worker   bool // the async boundary starts a worker script
	Implicit bool // added by the delegate or by a synthetic child

	// Media is the media query list of a stylesheet import
	Media string

	// Target is the id of the resolved asset. It is empty for external,
	// empty and missing edges.
	Target string

	// External edges name a module the host runtime provides
	External bool
	// Empty edges were mapped to false by a browser field
	Empty bool
	// Missing edges are optional references that failed to resolve. Err
	// holds the resolution message.
	Missing bool
	Err     string
}

// Resolved reports whether the edge points at an asset of the graph
func (d *Dependency) Resolved() bool {
	return d.Target != ""
}

// String formats the edge for debug output
func (d *Dependency) String() string {
	var flags []string
	for name, on := range map[string]bool{
		"async": d.Async, "optional": d.Optional, "worker": d.Worker, "implicit": d.Implicit,
		"external": d.External, "empty": d.Empty, "missing": d.Missing,
	} {
		if on {
			flags = append(flags, name)
		}
	}
	sort.Strings(flags)
	if len(flags) == 0 {
		return fmt.Sprintf("%s -> %s", d.Specifier, d.Target)
	}
	return fmt.Sprintf("%s -> %s [%s]", d.Specifier, d.Target, strings.Join(flags, ","))
}

// Asset is one resolved, transformed file
type Asset struct {
	ID   string
	Path string
	// Type is the asset's declared type: "js", "css", or the extension of a
	// raw file
	Type string

	Generated    map[string]string
	Dependencies []*Dependency
	Meta         transform.Meta

	// Synthetic assets were produced by another asset's transform
	Synthetic bool

	Entry bool
	// BundleRoot is set on entries and on targets of async edges
	BundleRoot bool
	// Isolated is set on worker roots, whose bundles share nothing with
	// their ancestors
	Isolated bool
}

// Name is the base name of the asset's file. Runtime builtins drop their
// virtual prefix.
func (a *Asset) Name() string {
	return filepath.Base(strings.TrimPrefix(a.Path, runtime.VirtualPrefix))
}

// Graph is the completed set of assets of one build
type Graph struct {
	assets  map[string]*Asset
	entries []string
	mu      sync.RWMutex
}

// New creates an empty graph
func New() *Graph {
	return &Graph{
		assets: make(map[string]*Asset),
	}
}

// Add inserts an asset. An asset with the same id replaces the old one.
func (g *Graph) Add(a *Asset) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.assets[a.ID] = a
}

// MarkEntry records id as an entry. Entries keep the order they are marked in.
func (g *Graph) MarkEntry(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, e := range g.entries {
		if e == id {
			return
		}
	}
	g.entries = append(g.entries, id)
	if a, ok := g.assets[id]; ok {
		a.Entry = true
		a.BundleRoot = true
	}
}

// Get retrieves an asset by id
func (g *Graph) Get(id string) (*Asset, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	a, ok := g.assets[id]
	return a, ok
}

// Entries returns the entry assets in the order they were requested
func (g *Graph) Entries() []*Asset {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make([]*Asset, 0, len(g.entries))
	for _, id := range g.entries {
		result = append(result, g.assets[id])
	}
	return result
}

// Assets returns every asset sorted by path
func (g *Graph) Assets() []*Asset {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make([]*Asset, 0, len(g.assets))
	for _, a := range g.assets {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result
}

// Len returns the number of assets
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.assets)
}

// Dependents returns the ids of all assets with an edge to id, sorted
func (g *Graph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	dependents := make([]string, 0)
	for _, a := range g.assets {
		for _, dep := range a.Dependencies {
			if dep.Target == id {
				dependents = append(dependents, a.ID)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents
}
