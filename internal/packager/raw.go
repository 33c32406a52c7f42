package packager

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/conduit-lang/bundler/internal/bundler"
	"github.com/conduit-lang/bundler/runtime"
)

// RawPackager copies the single file of a bundle unchanged
type RawPackager struct {
	fs afero.Fs
}

// Package implements Packager
func (p *RawPackager) Package(_ context.Context, b *bundler.Bundle) ([]byte, error) {
	a := b.Entry
	if a == nil && len(b.Assets) > 0 {
		a = b.Assets[0]
	}
	if a == nil {
		return nil, fmt.Errorf("raw bundle %s has no asset", b.Name)
	}
	if runtime.IsVirtual(a.Path) {
		return runtime.ReadFile(a.Path)
	}
	return afero.ReadFile(p.fs, a.Path)
}
