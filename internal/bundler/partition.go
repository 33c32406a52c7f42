package bundler

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/bundler/internal/cache"
	"github.com/conduit-lang/bundler/internal/graph"
)

// DefaultTypes are the asset types with a packager. Assets of any other
// type are copied verbatim into a bundle of their own.
var DefaultTypes = []string{"js", "css"}

// ExecutableType is the type whose bundles get a map companion
const ExecutableType = "js"

// Options configures Partition
type Options struct {
	// Types lists the packaged asset types. Defaults to DefaultTypes.
	Types  []string
	Logger *zap.Logger
}

// node is a bundle candidate while the tree is being settled
type node struct {
	root  *graph.Asset
	kind  Kind
	scope *node // entry or worker node that starts the hoisting scope
	// parent is nil for entries
	parent *node
	seq    int

	comp    []string
	members map[string]bool
	// importers are the assets of the scope with a dynamic import of root
	importers []string

	// dropped splits are statically loaded wherever they are imported
	dropped bool
	bundle  *Bundle
}

type splitKey struct {
	scope string
	asset string
}

type homeKey struct {
	scope *node
	asset string
}

type partitioner struct {
	g        *graph.Graph
	packaged map[string]bool
	log      *zap.Logger

	order  map[string]int // asset id -> position in a depth first walk from the entries
	nodes  []*node
	roots  map[string]*node   // entries and workers by asset id
	splits map[splitKey]*node // dynamic import targets by scope and asset id
	tree   *Tree
}

// Partition builds the bundle tree of a completed graph. Every entry starts
// a root bundle and every worker script an isolated one. A dynamic import
// target gets a child bundle under the closest common ancestor of the
// bundles its importers live in, unless those bundles already load it
// statically. Assets reachable from several bundles of one scope live in the
// closest common ancestor of those bundles and nowhere below it.
func Partition(g *graph.Graph, opts Options) (*Tree, error) {
	if len(opts.Types) == 0 {
		opts.Types = DefaultTypes
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	p := &partitioner{
		g:        g,
		packaged: make(map[string]bool, len(opts.Types)),
		log:      opts.Logger.Named("bundler"),
		order:    make(map[string]int),
		roots:    make(map[string]*node),
		splits:   make(map[splitKey]*node),
		tree: &Tree{
			byRoot: make(map[string]*Bundle),
			splits: make(map[scopedAsset]*Bundle),
		},
	}
	for _, t := range opts.Types {
		p.packaged[t] = true
	}

	entries := g.Entries()
	if len(entries) == 0 {
		return nil, fmt.Errorf("graph has no entries")
	}

	p.computeOrder(entries)
	p.discover(entries)
	p.settle()
	p.createBundles()
	p.placeAssets()
	p.addCompanions()

	p.log.Debug("partitioned",
		zap.Int("bundles", len(p.tree.Bundles())),
		zap.Int("assets", g.Len()))
	return p.tree, nil
}

// computeOrder numbers assets in depth first pre-order from the entries
func (p *partitioner) computeOrder(entries []*graph.Asset) {
	var visit func(a *graph.Asset)
	visit = func(a *graph.Asset) {
		if _, seen := p.order[a.ID]; seen {
			return
		}
		p.order[a.ID] = len(p.order)
		for _, dep := range a.Dependencies {
			if !dep.Resolved() {
				continue
			}
			if target, ok := p.g.Get(dep.Target); ok {
				visit(target)
			}
		}
	}
	for _, e := range entries {
		visit(e)
	}
}

// component lists the assets reachable from root through synchronous edges
func (p *partitioner) component(root *graph.Asset) []string {
	var ids []string
	seen := map[string]bool{}

	var visit func(a *graph.Asset)
	visit = func(a *graph.Asset) {
		if seen[a.ID] {
			return
		}
		seen[a.ID] = true
		ids = append(ids, a.ID)
		for _, dep := range a.Dependencies {
			if dep.Async || !dep.Resolved() {
				continue
			}
			if target, ok := p.g.Get(dep.Target); ok {
				visit(target)
			}
		}
	}
	visit(root)
	return ids
}

func (p *partitioner) addNode(n *node) {
	n.seq = len(p.nodes)
	n.comp = p.component(n.root)
	n.members = make(map[string]bool, len(n.comp))
	for _, id := range n.comp {
		n.members[id] = true
	}
	p.nodes = append(p.nodes, n)
}

// discover creates a node for every entry, every worker script and every
// dynamic import target of each scope, breadth first. A new node starts
// under the node it was first reached from.
func (p *partitioner) discover(entries []*graph.Asset) {
	var queue []*node
	for _, e := range entries {
		n := &node{root: e, kind: KindEntry}
		n.scope = n
		p.addNode(n)
		p.roots[e.ID] = n
		queue = append(queue, n)
	}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		for _, id := range n.comp {
			a, _ := p.g.Get(id)
			for _, dep := range a.Dependencies {
				if !dep.Async || !dep.Resolved() {
					continue
				}
				target, ok := p.g.Get(dep.Target)
				if !ok {
					continue
				}

				if dep.Worker {
					if _, exists := p.roots[target.ID]; exists {
						continue
					}
					w := &node{root: target, kind: KindWorker, parent: n}
					w.scope = w
					p.addNode(w)
					p.roots[target.ID] = w
					queue = append(queue, w)
					continue
				}

				if _, isRoot := p.roots[target.ID]; isRoot || target.Entry {
					continue
				}
				key := splitKey{scope: n.scope.root.ID, asset: target.ID}
				if _, exists := p.splits[key]; exists {
					continue
				}
				s := &node{root: target, kind: KindSplit, scope: n.scope, parent: n}
				p.addNode(s)
				p.splits[key] = s
				queue = append(queue, s)
			}
		}
	}

	for _, n := range p.nodes {
		if n.kind != KindSplit {
			continue
		}
		for _, id := range p.g.Dependents(n.root.ID) {
			a, _ := p.g.Get(id)
			for _, dep := range a.Dependencies {
				if dep.Target == n.root.ID && dep.Async && !dep.Worker {
					n.importers = append(n.importers, id)
					break
				}
			}
		}
	}
}

// settle moves every split under the closest common ancestor of its
// importers' homes and drops the ones their importers already load, until
// nothing changes
func (p *partitioner) settle() {
	limit := 4*len(p.nodes) + 8
	for i := 0; i < limit; i++ {
		if !p.settleOnce() {
			return
		}
	}
	p.log.Warn("bundle tree did not settle", zap.Int("passes", limit))
}

func (p *partitioner) settleOnce() bool {
	homes := p.homes()
	changed := false

	for _, n := range p.nodes {
		if n.kind != KindSplit {
			continue
		}
		var importerHomes []*node
		for _, id := range n.importers {
			h, ok := homes[homeKey{scope: n.scope, asset: id}]
			if !ok || isAncestor(n, h) {
				continue
			}
			importerHomes = append(importerHomes, h)
		}
		if len(importerHomes) == 0 {
			continue
		}
		want := lca(importerHomes)

		if n.dropped {
			if p.covered(n, importerHomes) {
				continue
			}
			n.dropped = false
			n.parent = want
			changed = true
			p.log.Debug("restored split", zap.String("asset", n.root.Path))
			continue
		}
		if want != n.parent {
			n.parent = want
			changed = true
			continue
		}
		if p.covered(n, importerHomes) {
			p.drop(n)
			changed = true
		}
	}
	return changed
}

// covered reports whether the bundles that require n's root synchronously
// are loaded wherever n's root is dynamically imported
func (p *partitioner) covered(n *node, importerHomes []*node) bool {
	var refs []*node
	for _, m := range p.nodes {
		if m == n || m.dropped || m.scope != n.scope {
			continue
		}
		if m.members[n.root.ID] {
			refs = append(refs, m)
		}
	}
	if len(refs) == 0 {
		return false
	}
	home := lca(refs)
	for _, h := range importerHomes {
		if !isAncestor(home, h) {
			return false
		}
	}
	return true
}

func (p *partitioner) drop(n *node) {
	n.dropped = true
	for _, c := range p.nodes {
		if c.parent == n {
			c.parent = n.parent
		}
	}
	p.log.Debug("split already loaded statically", zap.String("asset", n.root.Path))
}

// homes maps every asset of every scope to the closest common ancestor of
// the live nodes whose components contain it
func (p *partitioner) homes() map[homeKey]*node {
	refs := make(map[homeKey][]*node)
	for _, n := range p.nodes {
		if n.dropped {
			continue
		}
		for _, id := range n.comp {
			k := homeKey{scope: n.scope, asset: id}
			refs[k] = append(refs[k], n)
		}
	}
	homes := make(map[homeKey]*node, len(refs))
	for k, ns := range refs {
		homes[k] = lca(ns)
	}
	return homes
}

// createBundles turns the live nodes into bundles. Children keep discovery
// order.
func (p *partitioner) createBundles() {
	names := make(map[string]bool)
	for _, n := range p.nodes {
		if n.dropped {
			continue
		}
		b := &Bundle{
			Type:     n.root.Type,
			Kind:     n.kind,
			Entry:    n.root,
			Isolated: n.kind == KindWorker,
		}
		switch {
		case !p.packaged[n.root.Type]:
			b.Name = rawName(n.root)
		case n.kind == KindEntry:
			b.Name = withExt(n.root.Name(), n.root.Type)
		default:
			b.Name = childName(n.root, n.scope.root, names)
		}
		names[b.Name] = true
		n.bundle = b
	}

	for _, n := range p.nodes {
		if n.dropped {
			continue
		}
		switch n.kind {
		case KindEntry:
			p.tree.Roots = append(p.tree.Roots, n.bundle)
			p.tree.byRoot[n.root.ID] = n.bundle
		case KindWorker:
			p.tree.byRoot[n.root.ID] = n.bundle
		case KindSplit:
			p.tree.splits[scopedAsset{scope: n.scope.bundle, asset: n.root.ID}] = n.bundle
			if _, ok := p.tree.byRoot[n.root.ID]; !ok {
				p.tree.byRoot[n.root.ID] = n.bundle
			}
		}
		if n.parent != nil {
			n.bundle.Parent = n.parent.bundle
			n.parent.bundle.Children = append(n.parent.bundle.Children, n.bundle)
		}
	}
}

// childName names a split or worker bundle after its root and the hash of
// the root's path. A root split again in a later scope hashes the scope's
// path too.
func childName(root, scope *graph.Asset, taken map[string]bool) string {
	base := strings.TrimSuffix(root.Name(), filepath.Ext(root.Name()))
	name := base + "." + cache.ShortHash(root.Path) + "." + root.Type
	if taken[name] {
		name = base + "." + cache.ShortHash(scope.Path+"\x00"+root.Path) + "." + root.Type
	}
	return name
}

// placeAssets assigns every asset to its home bundle, separately within
// each scope
func (p *partitioner) placeAssets() {
	refs := make(map[homeKey][]*node)
	var keys []homeKey
	for _, n := range p.nodes {
		if n.dropped {
			continue
		}
		for _, id := range n.comp {
			k := homeKey{scope: n.scope, asset: id}
			if _, ok := refs[k]; !ok {
				keys = append(keys, k)
			}
			refs[k] = append(refs[k], n)
		}
	}

	for _, k := range keys {
		home := lca(refs[k]).bundle
		a, _ := p.g.Get(k.asset)
		home.Assets = append(home.Assets, a)
		if len(refs[k]) > 1 {
			p.log.Debug("hoisted",
				zap.String("asset", a.Path),
				zap.String("bundle", home.Name),
				zap.Int("references", len(refs[k])))
		}
	}

	// Members reached from the bundle's own root come first, in walk order,
	// followed by assets hoisted from below
	for _, n := range p.nodes {
		if n.dropped {
			continue
		}
		pos := make(map[string]int, len(n.comp))
		for i, id := range n.comp {
			pos[id] = i
		}
		rank := func(id string) int {
			if i, ok := pos[id]; ok {
				return i
			}
			return len(pos) + p.order[id]
		}
		assets := n.bundle.Assets
		sort.SliceStable(assets, func(i, j int) bool {
			return rank(assets[i].ID) < rank(assets[j].ID)
		})
	}
}

func (n *node) depth() int {
	d := 0
	for cur := n.parent; cur != nil; cur = cur.parent {
		d++
	}
	return d
}

// isAncestor reports whether a is x or one of x's ancestors
func isAncestor(a, x *node) bool {
	for cur := x; cur != nil; cur = cur.parent {
		if cur == a {
			return true
		}
	}
	return false
}

// lca returns the deepest node that is an ancestor of, or equal to, every
// node in ns
func lca(ns []*node) *node {
	result := ns[0]
	for _, n := range ns[1:] {
		x, y := result, n
		for x.depth() > y.depth() {
			x = x.parent
		}
		for y.depth() > x.depth() {
			y = y.parent
		}
		for x != y {
			x, y = x.parent, y.parent
		}
		result = x
	}
	return result
}

// addCompanions gives every packaged bundle its typed siblings, raw leaves
// and map child. Children end up ordered siblings, raw files, async
// children, map.
func (p *partitioner) addCompanions() {
	rawDone := make(map[string]bool)

	for _, b := range p.tree.Bundles() {
		if b.Kind != KindEntry && b.Kind != KindSplit && b.Kind != KindWorker {
			continue
		}
		if !p.packaged[b.Type] {
			if b.Kind != KindEntry {
				b.Kind = KindRaw
			}
			continue
		}

		var siblings, raws []*Bundle
		byType := make(map[string]*Bundle)
		hasReal := false
		for _, a := range b.Assets {
			if !a.Synthetic {
				hasReal = true
			}
			switch {
			case a.Type == b.Type:
			case p.packaged[a.Type]:
				s, ok := byType[a.Type]
				if !ok {
					s = &Bundle{Name: withExt(b.Name, a.Type), Type: a.Type, Kind: KindSibling, Parent: b}
					byType[a.Type] = s
					siblings = append(siblings, s)
				}
				s.Assets = append(s.Assets, a)
			default:
				if rawDone[a.ID] {
					continue
				}
				rawDone[a.ID] = true
				raws = append(raws, &Bundle{
					Name:   rawName(a),
					Type:   a.Type,
					Kind:   KindRaw,
					Entry:  a,
					Assets: []*graph.Asset{a},
					Parent: b,
				})
			}
		}

		children := append(append(siblings, raws...), b.Children...)
		if b.Type == ExecutableType && hasReal {
			children = append(children, &Bundle{Name: b.Name + ".map", Type: "map", Kind: KindMap, Parent: b})
		}
		b.Children = children
	}
}

func rawName(a *graph.Asset) string {
	if a.Meta.OutputName != "" {
		return a.Meta.OutputName
	}
	return a.Name()
}
