// Package runtime embeds the JavaScript that ships inside every bundle: the
// module registry prelude and the modules behind the reserved specifiers
// used for dynamic loading.
package runtime

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/conduit-lang/bundler/internal/platform"
)

//go:embed js
var files embed.FS

// Reserved specifiers. Transforms add dependencies on these; the resolver maps
// them to virtual paths through Specifiers.
const (
	BundleLoader = "_bundle_loader"
	BundleURL    = "_bundle_url"
	Loaders      = "_loaders"

	// Process and Buffer stand in for the node globals on browser targets
	Process = "_process"
	Buffer  = "_buffer"
)

// GlobalRequire is the global each bundle installs its registry under
const GlobalRequire = "__bundleRequire"

// VirtualPrefix marks paths that are served from this package instead of disk
const VirtualPrefix = "builtin:"

// Prelude returns the registry function expression without its header comment
func Prelude() string {
	data, err := files.ReadFile("js/prelude.js")
	if err != nil {
		panic(fmt.Sprintf("runtime: missing prelude: %v", err))
	}
	lines := strings.Split(string(data), "\n")
	for len(lines) > 0 && strings.HasPrefix(lines[0], "//") {
		lines = lines[1:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Specifiers maps the reserved specifiers to virtual paths for target
func Specifiers(target platform.Target) map[string]string {
	dir := "node"
	if target.IsBrowser() {
		dir = "browser"
	}
	specs := map[string]string{
		BundleLoader: VirtualPrefix + "bundle-loader.js",
		BundleURL:    VirtualPrefix + dir + "/bundle-url.js",
		Loaders:      VirtualPrefix + dir + "/loaders.js",
	}
	if target.IsBrowser() {
		specs[Process] = VirtualPrefix + "browser/process.js"
		specs[Buffer] = VirtualPrefix + "browser/buffer.js"
	}
	return specs
}

// Shim returns the reserved specifier of the shim for a node global and the
// member expression that selects the global from the shim's exports
func Shim(global string) (specifier, member string) {
	switch global {
	case "process":
		return Process, ""
	case "Buffer":
		return Buffer, ".Buffer"
	}
	return "", ""
}

// IsVirtual reports whether path names an embedded module
func IsVirtual(path string) bool {
	return strings.HasPrefix(path, VirtualPrefix)
}

// ReadFile returns the source of an embedded module
func ReadFile(path string) ([]byte, error) {
	if !IsVirtual(path) {
		return nil, fmt.Errorf("not a runtime module: %s", path)
	}
	data, err := files.ReadFile("js/" + strings.TrimPrefix(path, VirtualPrefix))
	if err != nil {
		return nil, fmt.Errorf("unknown runtime module %s: %w", path, fs.ErrNotExist)
	}
	return data, nil
}
