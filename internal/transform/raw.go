package transform

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/conduit-lang/bundler/internal/cache"
)

// RawTransformer handles files with no registered transformer. The file is
// copied to the output under a content-hashed name and its module exports
// the public URL of the copy.
type RawTransformer struct{}

// Transform implements Transformer
func (t *RawTransformer) Transform(_ context.Context, in Input) (*Result, error) {
	name := HashedName(in.Path, string(in.Content))
	return &Result{
		Generated: map[string]string{
			"js": fmt.Sprintf("module.exports = %s;", quote(PublicPath(in.Options.PublicURL, name))),
		},
		Meta: Meta{OutputName: name},
	}, nil
}

// HashedName returns <basename>.<hash>.<ext> for a file, hashing key
func HashedName(path, key string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)
	return base + "." + cache.ShortHash(key) + ext
}

// PublicPath joins the public URL and a bundle name
func PublicPath(publicURL, name string) string {
	if publicURL == "" {
		publicURL = "/"
	}
	return strings.TrimSuffix(publicURL, "/") + "/" + name
}
