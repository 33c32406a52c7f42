package packager

import (
	"bytes"
	"context"
	"sort"
	"strings"

	"github.com/conduit-lang/bundler/internal/bundler"
	"github.com/conduit-lang/bundler/internal/graph"
	"github.com/conduit-lang/bundler/internal/transform"
)

// CSSPackager concatenates the stylesheets of a bundle in member order and
// points their url() references at the public path of the copied files. A
// stylesheet imported only with media query lists is wrapped in @media.
type CSSPackager struct {
	assets map[string]*graph.Asset
	opts   Options
}

// Package implements Packager
func (p *CSSPackager) Package(ctx context.Context, b *bundler.Bundle) ([]byte, error) {
	var buf bytes.Buffer
	for _, a := range b.Assets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		css, ok := a.Generated["css"]
		if !ok {
			continue
		}
		css = p.rewriteURLs(a, css)
		if media := p.importMedia(a.ID); len(media) > 0 {
			css = "@media " + strings.Join(media, ", ") + " {\n" + strings.TrimSpace(css) + "\n}\n"
		}
		buf.WriteString(css)
		if !strings.HasSuffix(css, "\n") {
			buf.WriteString("\n")
		}
	}
	return buf.Bytes(), nil
}

func (p *CSSPackager) rewriteURLs(a *graph.Asset, css string) string {
	var pairs []string
	for _, dep := range a.Dependencies {
		if !dep.Resolved() {
			continue
		}
		target, ok := p.assets[dep.Target]
		if !ok || target.Meta.OutputName == "" {
			continue
		}
		public := transform.PublicPath(p.opts.PublicURL, target.Meta.OutputName)
		pairs = append(pairs, transform.CSSURL(dep.Specifier), "url("+quote(public)+")")
	}
	if len(pairs) == 0 {
		return css
	}
	return strings.NewReplacer(pairs...).Replace(css)
}

// importMedia returns the media query lists id is imported with, or nil when
// any import is unconditional
func (p *CSSPackager) importMedia(id string) []string {
	seen := map[string]bool{}
	for _, a := range p.assets {
		if a.Type != "css" {
			continue
		}
		for _, dep := range a.Dependencies {
			if dep.Target != id || dep.Async {
				continue
			}
			if dep.Media == "" {
				return nil
			}
			seen[dep.Media] = true
		}
	}
	media := make([]string, 0, len(seen))
	for m := range seen {
		media = append(media, m)
	}
	sort.Strings(media)
	return media
}
