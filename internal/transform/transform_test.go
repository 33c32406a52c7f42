package transform

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/conduit-lang/bundler/compiler/errors"
	"github.com/conduit-lang/bundler/internal/cache"
	"github.com/conduit-lang/bundler/internal/platform"
)

func run(t *testing.T, tr Transformer, path, content string, opts Options) *Result {
	t.Helper()
	res, err := tr.Transform(context.Background(), Input{Path: path, Content: []byte(content), Options: opts})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func specifiers(deps []Dependency, live bool) []string {
	var out []string
	for _, d := range deps {
		if live && d.Excluded {
			continue
		}
		out = append(out, d.Specifier)
	}
	return out
}

func TestJSTransformer_ConvertsESModules(t *testing.T) {
	res := run(t, &JSTransformer{}, "/app/index.js", `
import a from "./a";
export const answer = a + 1;
export default answer;
`, Options{})

	js := res.Generated["js"]
	assert.Contains(t, js, `require("./a")`)
	assert.NotContains(t, js, "import a from")
	assert.Equal(t, []string{"./a"}, specifiers(res.Dependencies, true))
	assert.True(t, res.Meta.ESModule)
	assert.ElementsMatch(t, []string{"answer", "default"}, res.Meta.Exports)
}

func TestJSTransformer_TypeScriptAndJSX(t *testing.T) {
	res := run(t, &JSTransformer{}, "/app/util.ts", `
import type { Thing } from "./types";
export function double(n: number): number { return n * 2; }
`, Options{})
	assert.NotContains(t, res.Generated["js"], ": number")
	assert.NotContains(t, specifiers(res.Dependencies, true), "./types")

	res = run(t, &JSTransformer{}, "/app/view.jsx", `
const React = require("react");
module.exports = () => <div className="x">hi</div>;
`, Options{})
	assert.Contains(t, res.Generated["js"], "React.createElement")
	assert.Equal(t, []string{"react"}, specifiers(res.Dependencies, true))
}

func TestJSTransformer_EnvironmentOnBrowser(t *testing.T) {
	src := `
if (process.env.NODE_ENV !== "production") { require("./dev-tools"); }
module.exports = process.env.API_URL;
`
	res := run(t, &JSTransformer{}, "/app/index.js", src, Options{
		Target:     platform.Browser,
		Production: true,
		Env:        map[string]string{"API_URL": "https://api.example.com", "NODE_ENV": "production"},
	})
	assert.Contains(t, res.Generated["js"], "https://api.example.com")
	assert.NotContains(t, specifiers(res.Dependencies, true), "./dev-tools")

	res = run(t, &JSTransformer{}, "/app/index.js", src, Options{
		Target: platform.Node,
		Env:    map[string]string{"API_URL": "https://api.example.com"},
	})
	assert.Contains(t, res.Generated["js"], "process.env.API_URL")
	assert.Contains(t, specifiers(res.Dependencies, true), "./dev-tools")
}

func TestJSTransformer_NodeGlobalShims(t *testing.T) {
	src := "module.exports = [process.env.NOT_SET, Buffer.from('x')];\n"

	res := run(t, &JSTransformer{}, "/app/index.js", src, Options{Target: platform.Browser})
	js := res.Generated["js"]
	assert.True(t, strings.HasPrefix(js, "var process = require(\"_process\");\nvar Buffer = require(\"_buffer\").Buffer;\n"), js)
	assert.Contains(t, specifiers(res.Dependencies, true), "_process")
	assert.Contains(t, specifiers(res.Dependencies, true), "_buffer")

	res = run(t, &JSTransformer{}, "/app/index.js", src, Options{Target: platform.Node})
	assert.NotContains(t, res.Generated["js"], "_process")
	assert.Empty(t, res.Dependencies)

	res = run(t, &JSTransformer{}, "/app/index.js", "var process = { env: {} };\nmodule.exports = process.env.X;\n", Options{Target: platform.Browser})
	assert.NotContains(t, res.Generated["js"], "_process")
}

func TestJSTransformer_DynamicImport(t *testing.T) {
	res := run(t, &JSTransformer{}, "/app/index.js", `export const load = () => import("./page");`, Options{})

	js := res.Generated["js"]
	assert.Contains(t, js, `require("_bundle_loader")(require.resolve("./page"))`)
	require.Len(t, res.Dependencies, 2)
	assert.Equal(t, "./page", res.Dependencies[0].Specifier)
	assert.True(t, res.Dependencies[0].Async)
}

func TestJSTransformer_DefinePrefix(t *testing.T) {
	res := run(t, &JSTransformer{}, "/app/umd.js", `
(function (root, factory) {
  if (typeof define === "function" && define.amd) define([], factory);
  else module.exports = factory();
})(this, function () { return 1; });
`, Options{})
	assert.True(t, strings.HasPrefix(res.Generated["js"], "var define;"))
}

func TestJSTransformer_SyntaxError(t *testing.T) {
	_, err := (&JSTransformer{}).Transform(context.Background(), Input{
		Path:    "/app/broken.js",
		Content: []byte("const a = 1;\nconst b = ;\n"),
	})
	require.Error(t, err)

	var terr *cerrors.TransformError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "/app/broken.js", terr.Path)
	assert.Equal(t, 2, terr.Location.Line)
	assert.Positive(t, terr.Location.Column)
}

func TestJSTransformer_Production(t *testing.T) {
	src := "function add(first, second) {\n  return first + second;\n}\nmodule.exports = add;\n"
	dev := run(t, &JSTransformer{}, "/app/add.js", src, Options{})
	prod := run(t, &JSTransformer{}, "/app/add.js", src, Options{Production: true})
	assert.Less(t, len(prod.Generated["js"]), len(dev.Generated["js"]))
}

func TestDataTransformer(t *testing.T) {
	tests := []struct {
		name    string
		format  DataFormat
		path    string
		content string
		want    string
	}{
		{"json", FormatJSON, "/d.json", `{"a": 1, "b": [true, null]}`, `module.exports = {"a":1,"b":[true,null]};`},
		{"json trailing whitespace", FormatJSON, "/d.json", "[1]\n\n", `module.exports = [1];`},
		{"json5", FormatJSON5, "/d.json5", "// settings\n{a: 1, 'b': [true, null,], c: 'x',}\n", `module.exports = {"a":1,"b":[true,null],"c":"x"};`},
		{"yaml", FormatYAML, "/d.yaml", "a: 1\nb:\n  - x\n  - y\n", `module.exports = {"a":1,"b":["x","y"]};`},
		{"toml", FormatTOML, "/d.toml", "title = \"demo\"\n[server]\nport = 8080\n", `module.exports = {"server":{"port":8080},"title":"demo"};`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, &DataTransformer{Format: tt.format}, tt.path, tt.content, Options{Production: true})
			assert.Equal(t, tt.want, res.Generated["js"])
			assert.Empty(t, res.Dependencies)
		})
	}
}

func TestDataTransformer_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		format  DataFormat
		content string
	}{
		{"truncated", FormatJSON, `{"a":`},
		{"trailing garbage", FormatJSON, `{"a": 1} trailing`},
		{"second value", FormatJSON, `{"a": 1} {"b": 2}`},
		{"json5 truncated", FormatJSON5, `{a: `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&DataTransformer{Format: tt.format}).Transform(context.Background(), Input{
				Path:    "/bad." + string(tt.format),
				Content: []byte(tt.content),
			})
			var terr *cerrors.TransformError
			require.True(t, errors.As(err, &terr))
			assert.Contains(t, terr.Message, "invalid "+string(tt.format))
		})
	}
}

func TestCSSTransformer(t *testing.T) {
	res := run(t, &CSSTransformer{}, "/app/style.css", `
@import "./reset.css";
@import url("https://fonts.example.com/font.css");
body { background: url(img/bg.png); }
.logo { background-image: url('../logo.svg?v=2'); }
.inline { background: url(data:image/png;base64,AAAA); }
.again { background: url("img/bg.png"); }
`, Options{})

	assert.Equal(t, []string{"./reset.css", "./img/bg.png", "../logo.svg"}, specifiers(res.Dependencies, false))

	css := res.Generated["css"]
	assert.NotContains(t, css, "reset.css")
	assert.Contains(t, css, "https://fonts.example.com/font.css")
	assert.Contains(t, css, `url("./img/bg.png")`)
	assert.Contains(t, css, `url("../logo.svg")`)
	assert.Contains(t, css, "url(data:image/png;base64,AAAA)")

	js, ok := res.Generated["js"]
	assert.True(t, ok)
	assert.Empty(t, js)
}

func TestCSSTransformer_IgnoresComments(t *testing.T) {
	res := run(t, &CSSTransformer{}, "/app/style.css", `/* @import "./old.css"; */
/* background: url(unused.png); */
a { color: red; /* url(also-unused.png) */ background: url(used.png); }
`, Options{})

	require.Len(t, res.Dependencies, 1)
	assert.Equal(t, "./used.png", res.Dependencies[0].Specifier)
	assert.Equal(t, 3, res.Dependencies[0].Line)
	assert.Contains(t, res.Generated["css"], `/* @import "./old.css"; */`)
	assert.Contains(t, res.Generated["css"], "url(also-unused.png)")
}

func TestCSSTransformer_ImportMedia(t *testing.T) {
	res := run(t, &CSSTransformer{}, "/app/style.css", `@import url(b.css) screen;
@import "print.css" print,   speech;
@import url("wide.css") screen and (min-width: 40em);
@import "both.css" print;
@import "both.css";
@import url("https://cdn.example.com/x.css") screen;
`, Options{})

	media := map[string]string{}
	for _, d := range res.Dependencies {
		media[d.Specifier] = d.Media
	}
	assert.Equal(t, map[string]string{
		"./b.css":     "screen",
		"./print.css": "print, speech",
		"./wide.css":  "screen and (min-width: 40em)",
		"./both.css":  "",
	}, media)
	assert.Equal(t, `@import url("https://cdn.example.com/x.css") screen;`+"\n", res.Generated["css"])
}

func TestRawTransformer(t *testing.T) {
	res := run(t, &RawTransformer{}, "/app/docs/readme.txt", "hello", Options{PublicURL: "/static/"})

	name := res.Meta.OutputName
	assert.Equal(t, "readme."+cache.ShortHash("hello")+".txt", name)
	assert.Equal(t, `module.exports = "/static/`+name+`";`, res.Generated["js"])

	other := run(t, &RawTransformer{}, "/app/docs/readme.txt", "changed", Options{})
	assert.NotEqual(t, name, other.Meta.OutputName)
	assert.Equal(t, "/x", PublicPath("", "x"))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		path     string
		wantType string
	}{
		{"/a/index.js", "js"},
		{"/a/App.TSX", "js"},
		{"/a/data.yml", "js"},
		{"/a/settings.json5", "js"},
		{"/a/style.css", "css"},
		{"/a/readme.txt", "txt"},
		{"/a/LICENSE", "raw"},
	}
	for _, tt := range tests {
		_, got := r.Lookup(tt.path)
		assert.Equal(t, tt.wantType, got, tt.path)
	}

	exts := r.Extensions()
	require.NotEmpty(t, exts)
	assert.Equal(t, ".js", exts[0])
	assert.Contains(t, exts, ".css")

	r.Register(".md", "js", TransformerFunc(func(context.Context, Input) (*Result, error) {
		return &Result{Generated: map[string]string{"js": ""}}, nil
	}))
	_, got := r.Lookup("/a/notes.md")
	assert.Equal(t, "js", got)
}

func TestPipeline_CachesByContentAndOptions(t *testing.T) {
	var calls atomic.Int32
	r := NewRegistry()
	r.Register(".js", "js", TransformerFunc(func(_ context.Context, in Input) (*Result, error) {
		calls.Add(1)
		return &Result{Generated: map[string]string{"js": string(in.Content)}}, nil
	}))

	store, err := cache.Open[Result](afero.NewMemMapFs(), "/cache")
	require.NoError(t, err)

	p := NewPipeline(r, Options{}, store)
	ctx := context.Background()

	res, typ, err := p.Transform(ctx, "/a.js", []byte("one"))
	require.NoError(t, err)
	assert.Equal(t, "js", typ)
	assert.Equal(t, "one", res.Generated["js"])

	_, _, err = p.Transform(ctx, "/a.js", []byte("one"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load(), "same content should hit the cache")

	_, _, err = p.Transform(ctx, "/a.js", []byte("two"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())

	prod := NewPipeline(r, Options{Production: true}, store)
	_, _, err = prod.Transform(ctx, "/a.js", []byte("two"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load(), "different options must not share entries")
}

func TestPipeline_NilResult(t *testing.T) {
	r := NewRegistry()
	r.Register(".js", "js", TransformerFunc(func(context.Context, Input) (*Result, error) {
		return nil, nil
	}))
	_, _, err := NewPipeline(r, Options{}, nil).Transform(context.Background(), "/a.js", nil)
	assert.Error(t, err)
}

func TestOptionsFingerprint(t *testing.T) {
	a := Options{Target: platform.Browser, Env: map[string]string{"A": "1", "B": "2"}}
	b := Options{Target: platform.Browser, Env: map[string]string{"B": "2", "A": "1"}}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.Env["A"] = "3"
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestLoadEnv(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/app/.env", []byte("A=base\nB=base\nC=base\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/app/.env.production", []byte("B=prod\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/app/.env.local", []byte("C=local\n"), 0o644))
	t.Setenv("BUNDLER_TEST_FROM_PROCESS", "proc")
	t.Setenv("A", "override")

	env, err := LoadEnv(fs, "/app", "production")
	require.NoError(t, err)
	assert.Equal(t, "override", env["A"])
	assert.Equal(t, "prod", env["B"])
	assert.Equal(t, "local", env["C"])
	assert.Equal(t, "proc", env["BUNDLER_TEST_FROM_PROCESS"])
}

func TestDefines(t *testing.T) {
	opts := Options{
		Target:  platform.Browser,
		RootDir: "/app",
		Env:     map[string]string{"KEY": "v", "not-valid": "x"},
	}
	d := defines("/app/src/index.js", opts)
	assert.Equal(t, `"v"`, d["process.env.KEY"])
	assert.NotContains(t, d, "process.env.not-valid")
	assert.Equal(t, `"development"`, d["process.env.NODE_ENV"])
	assert.Equal(t, "globalThis", d["global"])
	assert.Equal(t, `"/app/src/index.js"`, d["__filename"])
	assert.Equal(t, `"/app/src"`, d["__dirname"])

	assert.Equal(t, `"/app"`, defines("/app/index.js", opts)["__dirname"])
	assert.Nil(t, defines("/app/index.js", Options{Target: platform.Node}))
}
