package build

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/spf13/afero"

	cerrors "github.com/conduit-lang/bundler/compiler/errors"
	"github.com/conduit-lang/bundler/internal/bundler"
	"github.com/conduit-lang/bundler/internal/cache"
	"github.com/conduit-lang/bundler/internal/platform"
)

func writeFiles(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()
	for path, content := range files {
		if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := afero.WriteFile(fs, path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

// splitProject is an entry with two local requires, one of which loads a
// module dynamically. With the runtime loader modules it spans eight files.
func splitProject(t *testing.T) afero.Fs {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/project/src/index.js": `var local = require('./local');
var other = require('./other');
module.exports = function () {
  return local.a + other.b;
};
`,
		"/project/src/local.js": "exports.a = require('./one');\n",
		"/project/src/one.js":   "module.exports = 1;\n",
		"/project/src/other.js": `exports.b = 2;
exports.load = function () {
  return import('./lazy');
};
`,
		"/project/src/lazy.js": "module.exports = 'lazy';\n",
	})
	return fs
}

func testOptions(fs afero.Fs, entries ...string) *BuildOptions {
	opts := DefaultBuildOptions()
	opts.FS = fs
	opts.RootDir = "/project"
	opts.Entries = entries
	opts.AutoInstall = false
	return opts
}

func runBuild(t *testing.T, opts *BuildOptions) *BuildResult {
	t.Helper()
	sys, err := NewSystem(opts)
	if err != nil {
		t.Fatalf("NewSystem failed: %v", err)
	}
	result, err := sys.Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return result
}

func sortedNames(b *bundler.Bundle) []string {
	var names []string
	for _, a := range b.Assets {
		names = append(names, a.Name())
	}
	sort.Strings(names)
	return names
}

func TestBuildMode_String(t *testing.T) {
	tests := []struct {
		mode BuildMode
		want string
	}{
		{ModeDevelopment, "development"},
		{ModeProduction, "production"},
		{BuildMode(99), "unknown"},
	}

	for _, tt := range tests {
		got := tt.mode.String()
		if got != tt.want {
			t.Errorf("BuildMode.String() = %q, want %q", got, tt.want)
		}
	}
}

func TestNewSystem_Defaults(t *testing.T) {
	sys, err := NewSystem(testOptions(afero.NewMemMapFs(), "src/index.js"))
	if err != nil {
		t.Fatalf("NewSystem failed: %v", err)
	}

	opts := sys.Options()
	if opts.Mode != ModeDevelopment {
		t.Errorf("Expected development mode, got %v", opts.Mode)
	}
	if opts.Target != platform.Browser {
		t.Errorf("Expected browser target, got %v", opts.Target)
	}
	if opts.OutDir != "/project/dist" {
		t.Errorf("Expected out dir under the root, got %s", opts.OutDir)
	}
	if len(opts.Entries) != 1 || opts.Entries[0] != "/project/src/index.js" {
		t.Errorf("Expected absolute entry, got %v", opts.Entries)
	}
}

func TestNewSystem_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*BuildOptions)
		field  string
	}{
		{"no entries", func(o *BuildOptions) { o.Entries = nil }, "entries"},
		{"unknown target", func(o *BuildOptions) { o.Target = "deno" }, "target"},
		{"unknown module field", func(o *BuildOptions) { o.ModuleField = "sometimes" }, "moduleField"},
		{"bad global", func(o *BuildOptions) { o.Global = "my-lib" }, "global"},
		{"empty out dir", func(o *BuildOptions) { o.OutDir = "" }, "outDir"},
		{"cache without dir", func(o *BuildOptions) { o.UseCache = true; o.CacheDir = "" }, "cache.dir"},
		{"unknown mode", func(o *BuildOptions) { o.Mode = BuildMode(7) }, "production"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(afero.NewMemMapFs(), "src/index.js")
			tt.modify(opts)

			_, err := NewSystem(opts)
			var cfgErr *cerrors.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Expected ConfigurationError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, cfgErr.Field)
			}
		})
	}
}

func TestBuild_DynamicSplit(t *testing.T) {
	fs := splitProject(t)
	result := runBuild(t, testOptions(fs, "src/index.js"))

	if result.Assets != 8 {
		t.Errorf("Expected 8 assets, got %d", result.Assets)
	}
	if len(result.Tree.Roots) != 1 {
		t.Fatalf("Expected one root bundle, got %d", len(result.Tree.Roots))
	}

	root := result.Tree.Roots[0]
	if root.Name != "index.js" {
		t.Errorf("Expected root bundle index.js, got %s", root.Name)
	}
	want := []string{"bundle-loader.js", "bundle-url.js", "index.js", "loaders.js", "local.js", "one.js", "other.js"}
	if got := sortedNames(root); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Root assets = %v, want %v", got, want)
	}

	if len(root.Children) != 2 {
		t.Fatalf("Expected split and map children, got %d", len(root.Children))
	}
	split, rootMap := root.Children[0], root.Children[1]

	wantSplit := "lazy." + cache.ShortHash("/project/src/lazy.js") + ".js"
	if split.Name != wantSplit || split.Kind != bundler.KindSplit {
		t.Errorf("Expected split bundle %s, got %s (%s)", wantSplit, split.Name, split.Kind)
	}
	if got := sortedNames(split); len(got) != 1 || got[0] != "lazy.js" {
		t.Errorf("Split assets = %v", got)
	}
	if split.Map() == nil || split.Map().Name != wantSplit+".map" {
		t.Errorf("Expected split bundle to have a map child")
	}
	if rootMap.Kind != bundler.KindMap || rootMap.Name != "index.js.map" {
		t.Errorf("Expected index.js.map, got %s", rootMap.Name)
	}

	for _, name := range []string{"index.js", "index.js.map", wantSplit, wantSplit + ".map"} {
		exists, err := afero.Exists(fs, filepath.Join("/project/dist", name))
		if err != nil || !exists {
			t.Errorf("Expected output %s to be written", name)
		}
	}

	data, err := afero.ReadFile(fs, "/project/dist/index.js")
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, "module.exports = mainExports;") {
		t.Error("Expected entry bundle to export its entry")
	}
	if !strings.Contains(out, `"./lazy":["`+wantSplit+`",`) {
		t.Error("Expected dynamic import to map to the split bundle")
	}
}

func TestBuild_NodeExcludesPackages(t *testing.T) {
	files := map[string]string{
		"/project/index.js":                           "var pad = require('left-pad');\nmodule.exports = pad('x', 3);\n",
		"/project/node_modules/left-pad/package.json": `{"name": "left-pad", "main": "lib/pad.js"}`,
		"/project/node_modules/left-pad/lib/pad.js":   "module.exports = function (s, n) { return s; };\n",
	}

	browserFS := afero.NewMemMapFs()
	writeFiles(t, browserFS, files)
	browser := runBuild(t, testOptions(browserFS, "index.js"))

	nodeFS := afero.NewMemMapFs()
	writeFiles(t, nodeFS, files)
	nodeOpts := testOptions(nodeFS, "index.js")
	nodeOpts.Target = platform.Node
	node := runBuild(t, nodeOpts)

	if got := sortedNames(browser.Tree.Roots[0]); strings.Join(got, ",") != "index.js,pad.js" {
		t.Errorf("Browser assets = %v, want the package inlined", got)
	}
	if got := sortedNames(node.Tree.Roots[0]); strings.Join(got, ",") != "index.js" {
		t.Errorf("Node assets = %v, want the package left to the host", got)
	}
}

func TestBuild_MissingDependencyWritesNothing(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/project/index.js": "require('./nope');\n",
	})

	sys, err := NewSystem(testOptions(fs, "index.js"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = sys.Build(context.Background())

	var resErr *cerrors.ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("Expected ResolutionError, got %v", err)
	}
	if resErr.Specifier != "./nope" {
		t.Errorf("Expected specifier ./nope, got %s", resErr.Specifier)
	}
	if exists, _ := afero.DirExists(fs, "/project/dist"); exists {
		t.Error("Expected no output directory after a failed build")
	}
}

func TestBuild_GlobalExport(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/project/lib.js": "exports.answer = 42;\n",
	})
	opts := testOptions(fs, "lib.js")
	opts.Global = "MyLib"
	runBuild(t, opts)

	data, err := afero.ReadFile(fs, "/project/dist/lib.js")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `["MyLib"] = mainExports;`) {
		t.Errorf("Expected global assignment in:\n%s", data)
	}
}

func TestBuild_TransformCache(t *testing.T) {
	fs := splitProject(t)
	opts := testOptions(fs, "src/index.js")
	opts.UseCache = true

	first := runBuild(t, opts)
	if first.CacheHits != 0 {
		t.Errorf("Expected a cold cache, got %d hits", first.CacheHits)
	}

	second := runBuild(t, opts)
	if second.CacheHits != second.Assets {
		t.Errorf("Expected every asset from cache, got %d of %d", second.CacheHits, second.Assets)
	}
}

func TestBuild_StaleOutputsRemoved(t *testing.T) {
	fs := splitProject(t)
	opts := testOptions(fs, "src/index.js")

	first := runBuild(t, opts)
	if len(first.Changed) != 5 {
		t.Errorf("Expected every source changed on the first build, got %v", first.Changed)
	}
	split := "lazy." + cache.ShortHash("/project/src/lazy.js") + ".js"

	writeFiles(t, fs, map[string]string{
		"/project/src/other.js": "exports.b = 2;\n",
	})
	second := runBuild(t, opts)

	if len(second.Changed) != 1 || second.Changed[0] != "/project/src/other.js" {
		t.Errorf("Expected only other.js changed, got %v", second.Changed)
	}
	want := []string{split, split + ".map"}
	if strings.Join(second.Removed, ",") != strings.Join(want, ",") {
		t.Errorf("Removed = %v, want %v", second.Removed, want)
	}
	if exists, _ := afero.Exists(fs, "/project/dist/"+split); exists {
		t.Error("Expected the split bundle to be deleted")
	}

	state, err := LoadState(fs, "/project/dist")
	if err != nil {
		t.Fatal(err)
	}
	if state.BuildID != second.BuildID.String() {
		t.Errorf("Expected state of the second build, got %s", state.BuildID)
	}
}

func TestBuild_Progress(t *testing.T) {
	fs := splitProject(t)
	opts := testOptions(fs, "src/index.js")

	var messages []string
	last := 0
	opts.ProgressFunc = func(current, total int, message string) {
		messages = append(messages, message)
		last = current
	}
	runBuild(t, opts)

	if last != 4 || len(messages) != 5 {
		t.Errorf("Expected five progress reports ending at 4, got %v", messages)
	}
}

func TestBuild_DryRun(t *testing.T) {
	fs := splitProject(t)
	opts := testOptions(fs, "src/index.js")
	opts.DryRun = true

	result := runBuild(t, opts)

	if result.Tree == nil || len(result.Tree.Roots) != 1 {
		t.Fatalf("Expected a single root bundle, got %+v", result.Tree)
	}
	if len(result.Outputs) != 0 {
		t.Errorf("Expected no outputs, got %d", len(result.Outputs))
	}
	if exists, _ := afero.DirExists(fs, "/project/dist"); exists {
		t.Error("Expected dry run not to create the output directory")
	}
}

func TestBuildResult_TotalSize(t *testing.T) {
	fs := splitProject(t)
	result := runBuild(t, testOptions(fs, "src/index.js"))

	total := 0
	for _, o := range result.Outputs {
		total += o.Size
	}
	if total == 0 || result.TotalSize() != total {
		t.Errorf("TotalSize() = %d, want %d", result.TotalSize(), total)
	}
}
