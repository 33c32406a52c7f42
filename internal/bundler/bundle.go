// Package bundler partitions a completed asset graph into a tree of bundles.
package bundler

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/conduit-lang/bundler/internal/graph"
)

// Kind says why a bundle exists
type Kind int

const (
	// KindEntry bundles are rooted at a build entry
	KindEntry Kind = iota
	// KindSplit bundles are rooted at a dynamic import target
	KindSplit
	// KindWorker bundles are rooted at a worker script and share nothing with
	// their ancestors
	KindWorker
	// KindSibling bundles hold the assets of another packaged type, such as
	// the stylesheet of a script bundle
	KindSibling
	// KindRaw bundles hold one file copied verbatim
	KindRaw
	// KindMap bundles are the debug map of their parent
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindEntry:
		return "entry"
	case KindSplit:
		return "split"
	case KindWorker:
		return "worker"
	case KindSibling:
		return "sibling"
	case KindRaw:
		return "raw"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Bundle is one output file
type Bundle struct {
	Name string
	// Type is the entry asset's type, or "map"
	Type string
	Kind Kind

	// Entry is the root asset of entry, split and worker bundles
	Entry *graph.Asset
	// Assets lists the members in dependency order
	Assets   []*graph.Asset
	Children []*Bundle
	Parent   *Bundle

	// Isolated bundles start a new hoisting scope
	Isolated bool
}

// Contains reports whether the asset is a member of the bundle
func (b *Bundle) Contains(id string) bool {
	for _, a := range b.Assets {
		if a.ID == id {
			return true
		}
	}
	return false
}

// Siblings returns the children that are packaged next to b and must be
// loaded with it
func (b *Bundle) Siblings() []*Bundle {
	var siblings []*Bundle
	for _, c := range b.Children {
		if c.Kind == KindSibling {
			siblings = append(siblings, c)
		}
	}
	return siblings
}

// Map returns the map child of b, or nil
func (b *Bundle) Map() *Bundle {
	for _, c := range b.Children {
		if c.Kind == KindMap {
			return c
		}
	}
	return nil
}

// Walk calls fn for b and its descendants, parents first
func (b *Bundle) Walk(fn func(*Bundle) error) error {
	if err := fn(b); err != nil {
		return err
	}
	for _, c := range b.Children {
		if err := c.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// scope returns the bundle that starts b's hoisting scope
func (b *Bundle) scope() *Bundle {
	for cur := b; ; cur = cur.Parent {
		if cur.Parent == nil || cur.Isolated {
			return cur
		}
	}
}

func (b *Bundle) depth() int {
	d := 0
	for cur := b.Parent; cur != nil; cur = cur.Parent {
		d++
	}
	return d
}

// Tree is the result of partitioning one build
type Tree struct {
	Roots []*Bundle

	byRoot map[string]*Bundle
	splits map[scopedAsset]*Bundle
}

type scopedAsset struct {
	scope *Bundle
	asset string
}

// Bundles returns every bundle, parents before children
func (t *Tree) Bundles() []*Bundle {
	var all []*Bundle
	for _, r := range t.Roots {
		_ = r.Walk(func(b *Bundle) error {
			all = append(all, b)
			return nil
		})
	}
	return all
}

// BundleFor returns the bundle rooted at the given asset. A target split in
// several scopes returns the first one.
func (t *Tree) BundleFor(assetID string) (*Bundle, bool) {
	b, ok := t.byRoot[assetID]
	return b, ok
}

// AsyncBundle returns the bundle that a dynamic import of assetID from a
// member of b loads. It reports false when the target is already loaded
// together with b.
func (t *Tree) AsyncBundle(b *Bundle, assetID string) (*Bundle, bool) {
	scope := b.scope()
	if s, ok := t.splits[scopedAsset{scope: scope, asset: assetID}]; ok {
		return s, true
	}
	if r, ok := t.byRoot[assetID]; ok && r.scope() != scope {
		return r, true
	}
	return nil, false
}

// Node is the serializable shape of a bundle
type Node struct {
	Name         string   `json:"name"`
	Type         string   `json:"type,omitempty"`
	Assets       []string `json:"assets"`
	ChildBundles []Node   `json:"childBundles"`
}

// Describe returns the bundle and its descendants as a Node tree
func (b *Bundle) Describe() Node {
	n := Node{
		Name:         b.Name,
		Type:         b.Type,
		Assets:       make([]string, 0, len(b.Assets)),
		ChildBundles: make([]Node, 0, len(b.Children)),
	}
	for _, a := range b.Assets {
		n.Assets = append(n.Assets, a.Name())
	}
	for _, c := range b.Children {
		n.ChildBundles = append(n.ChildBundles, c.Describe())
	}
	return n
}

// Describe returns one Node per root
func (t *Tree) Describe() []Node {
	nodes := make([]Node, 0, len(t.Roots))
	for _, r := range t.Roots {
		nodes = append(nodes, r.Describe())
	}
	return nodes
}

// MarshalJSON encodes the tree as its list of root nodes
func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Describe())
}

// withExt replaces the extension of name
func withExt(name, ext string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + "." + ext
}
