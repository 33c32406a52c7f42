package packager

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/conduit-lang/bundler/internal/bundler"
	"github.com/conduit-lang/bundler/runtime"
)

// SourceMap is a version 3 map listing the sources of a bundle. Mappings
// are left empty.
type SourceMap struct {
	Version  int      `json:"version"`
	File     string   `json:"file"`
	Sources  []string `json:"sources"`
	Names    []string `json:"names"`
	Mappings string   `json:"mappings"`
}

// MapPackager writes the map companion of a script bundle
type MapPackager struct {
	opts Options
}

// Package implements Packager
func (p *MapPackager) Package(_ context.Context, b *bundler.Bundle) ([]byte, error) {
	parent := b.Parent
	if parent == nil {
		return nil, fmt.Errorf("map bundle %s has no parent", b.Name)
	}

	sm := SourceMap{
		Version: 3,
		File:    parent.Name,
		Sources: make([]string, 0, len(parent.Assets)),
		Names:   []string{},
	}
	for _, a := range parent.Assets {
		if a.Synthetic {
			continue
		}
		sm.Sources = append(sm.Sources, p.sourcePath(a.Path))
	}
	return json.Marshal(sm)
}

func (p *MapPackager) sourcePath(path string) string {
	if runtime.IsVirtual(path) || p.opts.RootDir == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(p.opts.RootDir, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
