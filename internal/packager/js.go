package packager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/conduit-lang/bundler/internal/bundler"
	"github.com/conduit-lang/bundler/internal/graph"
	"github.com/conduit-lang/bundler/runtime"
)

// EmptyModule is the registry id of the stub that browser field false
// mappings resolve to
const EmptyModule = "_empty"

// Shape is how an entry bundle exposes its entry's exports
type Shape int

const (
	// ShapeCommonJS assigns module.exports
	ShapeCommonJS Shape = iota
	// ShapeESModule assigns module.exports to the entry's namespace object,
	// which carries __esModule and its named and default exports
	ShapeESModule
	// ShapeUMD assigns module.exports under a CommonJS host and otherwise
	// registers an AMD module
	ShapeUMD
	// ShapeGlobal assigns a global variable
	ShapeGlobal
)

func (s Shape) String() string {
	switch s {
	case ShapeCommonJS:
		return "commonjs"
	case ShapeESModule:
		return "esmodule"
	case ShapeUMD:
		return "umd"
	case ShapeGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// ShapeFor picks the export shape of an entry bundle
func ShapeFor(opts Options, entry *graph.Asset) Shape {
	switch {
	case opts.Global != "":
		return ShapeGlobal
	case opts.Target.IsBrowser():
		return ShapeUMD
	case entry != nil && entry.Meta.ESModule:
		return ShapeESModule
	default:
		return ShapeCommonJS
	}
}

// JSPackager writes script bundles: the registry prelude called with every
// member module and its dependency map
type JSPackager struct {
	tree *bundler.Tree
	opts Options
}

// Package implements Packager
func (p *JSPackager) Package(ctx context.Context, b *bundler.Bundle) ([]byte, error) {
	var buf bytes.Buffer

	if b.Kind == bundler.KindEntry {
		buf.WriteString("var " + runtime.GlobalRequire + "Entry = ")
	}
	fmt.Fprintf(&buf, "%s = %s({", runtime.GlobalRequire, runtime.Prelude())

	needsEmpty := false
	for i, a := range b.Assets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i > 0 {
			buf.WriteString(",")
		}
		deps, empty, err := p.dependencyMap(b, a)
		if err != nil {
			return nil, err
		}
		needsEmpty = needsEmpty || empty

		fmt.Fprintf(&buf, "\n%s: [function (require, module, exports) {\n%s\n}, %s]",
			quote(a.ID), trimNewline([]byte(a.Generated["js"])), deps)
	}
	if needsEmpty {
		if len(b.Assets) > 0 {
			buf.WriteString(",")
		}
		fmt.Fprintf(&buf, "\n%s: [function (require, module, exports) {}, {}]", quote(EmptyModule))
	}

	entries := "[]"
	if b.Entry != nil && b.Contains(b.Entry.ID) {
		entries = "[" + quote(b.Entry.ID) + "]"
	}
	fmt.Fprintf(&buf, "\n}, {}, %s);\n", entries)

	if b.Kind == bundler.KindEntry && b.Entry != nil {
		buf.WriteString(p.exportShape(b.Entry))
	}
	if m := b.Map(); m != nil {
		fmt.Fprintf(&buf, "//# sourceMappingURL=%s\n", m.Name)
	}
	return buf.Bytes(), nil
}

func (p *JSPackager) exportShape(entry *graph.Asset) string {
	main := fmt.Sprintf("var mainExports = %sEntry(%s);\n", runtime.GlobalRequire, quote(entry.ID))

	switch ShapeFor(p.opts, entry) {
	case ShapeGlobal:
		return main + fmt.Sprintf(
			"(typeof globalThis !== \"undefined\" ? globalThis : this)[%s] = mainExports;\n",
			quote(p.opts.Global))
	case ShapeUMD:
		return main + `if (typeof exports === "object" && typeof module !== "undefined") {
  module.exports = mainExports;
} else if (typeof define === "function" && define.amd) {
  define(function () {
    return mainExports;
  });
}
`
	default:
		return main + "module.exports = mainExports;\n"
	}
}

// dependencyMap encodes the specifier to registry value map of a, a member
// of b. The second result reports whether the empty stub is referenced.
func (p *JSPackager) dependencyMap(b *bundler.Bundle, a *graph.Asset) (string, bool, error) {
	deps := make(map[string]any, len(a.Dependencies))
	empty := false

	for _, dep := range a.Dependencies {
		switch {
		case dep.Empty:
			deps[dep.Specifier] = EmptyModule
			empty = true
		case !dep.Resolved():
			// External and missing modules fall through to the host
			// require, which reports MODULE_NOT_FOUND
		case dep.Worker:
			child, ok := p.tree.BundleFor(dep.Target)
			if !ok {
				return "", false, fmt.Errorf("no bundle for worker %s in %s", dep.Specifier, a.Path)
			}
			deps[dep.Specifier] = child.Name
		case dep.Async:
			child, ok := p.tree.AsyncBundle(b, dep.Target)
			if !ok {
				// Already loaded with b; the loader requires it directly
				deps[dep.Specifier] = dep.Target
				continue
			}
			files := []any{child.Name}
			for _, s := range child.Siblings() {
				files = append(files, s.Name)
			}
			deps[dep.Specifier] = append(files, dep.Target)
		default:
			deps[dep.Specifier] = dep.Target
		}
	}

	data, err := marshalSorted(deps)
	return data, empty, err
}

func marshalSorted(m map[string]any) (string, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			buf.WriteString(",")
		}
		v, err := json.Marshal(m[k])
		if err != nil {
			return "", err
		}
		buf.WriteString(quote(k) + ":")
		buf.Write(v)
	}
	buf.WriteString("}")
	return buf.String(), nil
}

func quote(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
