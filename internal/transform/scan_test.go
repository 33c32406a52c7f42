package transform

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/bundler/runtime"
)

func scanString(t *testing.T, src string) *scanResult {
	t.Helper()
	res, err := scan(context.Background(), []byte(src))
	require.NoError(t, err)
	return res
}

func depsBySpecifier(deps []Dependency) map[string]Dependency {
	out := make(map[string]Dependency, len(deps))
	for _, d := range deps {
		d.Line = 0
		out[d.Specifier] = d
	}
	return out
}

func TestScan_StaticDependencies(t *testing.T) {
	res := scanString(t, `
import a from "./a";
import { b } from './b';
export { c } from "./c";
export * from "./d";
const e = require("./e");
require(`+"`./f`"+`);
`)

	var specs []string
	for _, d := range res.deps {
		specs = append(specs, d.Specifier)
	}
	if diff := cmp.Diff([]string{"./a", "./b", "./c", "./d", "./e", "./f"}, specs); diff != "" {
		t.Errorf("dependency order mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, res.meta.ESModule)
	assert.True(t, res.meta.ExportAll)
	assert.Contains(t, res.meta.Exports, "c")
}

func TestScan_NonLiteralRequireIgnored(t *testing.T) {
	res := scanString(t, "var name = './x'; require(name); require(`./${name}`);")
	assert.Empty(t, res.deps)
	assert.False(t, res.meta.ESModule)
}

func TestScan_DynamicImport(t *testing.T) {
	src := `module.exports = function () { return import("./lazy").then(m => m.default); };`
	res := scanString(t, src)

	deps := depsBySpecifier(res.deps)
	assert.Equal(t, Dependency{Specifier: "./lazy", Async: true}, deps["./lazy"])
	assert.Equal(t, Dependency{Specifier: runtime.BundleLoader}, deps[runtime.BundleLoader])

	out := string(applyRewrites([]byte(src), res.rewrites))
	assert.Contains(t, out, `require("_bundle_loader")(require.resolve("./lazy")).then`)
	assert.NotContains(t, out, "import(")
}

func TestScan_Workers(t *testing.T) {
	src := `
var w = new Worker("./worker.js");
var s = new SharedWorker('./shared.js');
navigator.serviceWorker.register("./sw.js");
`
	res := scanString(t, src)
	deps := depsBySpecifier(res.deps)

	for _, spec := range []string{"./worker.js", "./shared.js", "./sw.js"} {
		assert.Equal(t, Dependency{Specifier: spec, Async: true, Worker: true}, deps[spec], spec)
	}
	assert.Contains(t, deps, runtime.BundleURL)

	out := string(applyRewrites([]byte(src), res.rewrites))
	assert.Contains(t, out, `new Worker(require("_bundle_url").getBundleURL() + require.resolve("./worker.js"))`)
	assert.Contains(t, out, `navigator.serviceWorker.register(require("_bundle_url").getBundleURL() + require.resolve("./sw.js"))`)
}

func TestScan_OptionalInsideTry(t *testing.T) {
	res := scanString(t, `
try {
  var dep = require("optional-dep");
} catch (err) {
  require("./fallback");
} finally {
  require("./always");
}
`)
	deps := depsBySpecifier(res.deps)
	assert.True(t, deps["optional-dep"].Optional)
	assert.False(t, deps["./fallback"].Optional)
	assert.False(t, deps["./always"].Optional)
}

func TestScan_OptionalMergedWithRequired(t *testing.T) {
	res := scanString(t, `
try { require("./x"); } catch (e) {}
require("./x");
`)
	require.Len(t, res.deps, 1)
	assert.False(t, res.deps[0].Optional)
}

func TestScan_StaticallyFalseBranches(t *testing.T) {
	res := scanString(t, `
if (false) { require("./dead-if"); } else { require("./live-else"); }
if ("production" !== "production") require("./dead-env");
if (!true) require("./dead-not");
var x = 0 ? require("./dead-ternary") : require("./live-ternary");
var y = false && require("./dead-and");
var z = true || require("./dead-or");
if (("a" === "a") && (1 == "1")) require("./live-folded");
if (unknown) require("./live-unknown");
if (1 != "1") require("./dead-loose");
`)
	deps := depsBySpecifier(res.deps)

	for _, spec := range []string{"./dead-if", "./dead-env", "./dead-not", "./dead-ternary", "./dead-and", "./dead-or", "./dead-loose"} {
		assert.True(t, deps[spec].Excluded, "%s should be excluded", spec)
	}
	for _, spec := range []string{"./live-else", "./live-ternary", "./live-folded", "./live-unknown"} {
		if assert.Contains(t, deps, spec) {
			assert.False(t, deps[spec].Excluded, "%s should be live", spec)
		}
	}
}

func TestScan_ExcludedOnlyWhenAllReferencesDead(t *testing.T) {
	res := scanString(t, `
if (false) require("./shared");
require("./shared");
`)
	require.Len(t, res.deps, 1)
	assert.False(t, res.deps[0].Excluded)
}

func TestScan_ShadowedRequire(t *testing.T) {
	res := scanString(t, `
function load(require) {
  return require("./ignored-param");
}
var wrapped = function () {
  var require = function () {};
  require("./ignored-local");
};
var arrow = require => require("./ignored-arrow");
require("./kept");
`)
	deps := depsBySpecifier(res.deps)
	assert.Len(t, deps, 1)
	assert.Contains(t, deps, "./kept")
}

func TestScan_TopLevelShadowedRequire(t *testing.T) {
	res := scanString(t, `
function require(x) { return x; }
require("./ignored");
`)
	assert.Empty(t, res.deps)
}

func TestScan_DefineUsage(t *testing.T) {
	res := scanString(t, `if (typeof define === "function" && define.amd) { define([], factory); }`)
	assert.True(t, res.usesDefine)

	res = scanString(t, `module.exports = 1;`)
	assert.False(t, res.usesDefine)
}

func TestScan_NodeGlobals(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{"both", "Buffer.from(process.argv[0]);", []string{"process", "Buffer"}},
		{"member names are not globals", "var o = { process: 1 }; o.process; o.Buffer;", nil},
		{"declared", "var process = {}; process.env;", nil},
		{"destructured", "const { Buffer } = require('buffer'); Buffer.alloc(1);", nil},
		{"imported", "import { Buffer } from 'buffer'; Buffer.alloc(1);", nil},
		{"imported under another name", "import { Buffer as B } from 'buffer'; Buffer.alloc(1);", []string{"Buffer"}},
		{"function", "function process() {} process();", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scanString(t, tt.src).globals)
		})
	}
}

func TestScan_ExportNames(t *testing.T) {
	res := scanString(t, `
export default function () {}
export const a = 1, b = 2;
export function c() {}
export class D {}
const e = 5;
export { e as renamed };
export * as ns from "./ns";
`)
	assert.ElementsMatch(t, []string{"default", "a", "b", "c", "D", "renamed", "ns"}, res.meta.Exports)
	assert.False(t, res.meta.ExportAll)
}

func TestConvertSingleQuoted(t *testing.T) {
	res := scanString(t, `require('./it\'s'); require('./say "hi"');`)
	var specs []string
	for _, d := range res.deps {
		specs = append(specs, d.Specifier)
	}
	assert.Equal(t, []string{"./it's", `./say "hi"`}, specs)
}

func TestApplyRewrites_Order(t *testing.T) {
	src := []byte("AAA BBB CCC")
	out := applyRewrites(src, []rewrite{
		{start: 0, end: 3, text: "x"},
		{start: 8, end: 11, text: "zzzz"},
		{start: 4, end: 7, text: "yy"},
	})
	assert.Equal(t, "x yy zzzz", string(out))
	assert.Equal(t, "AAA BBB CCC", string(src), "input must not be modified")
	assert.True(t, strings.HasPrefix(string(applyRewrites(src, nil)), "AAA"))
}
