package transform

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	cerrors "github.com/conduit-lang/bundler/compiler/errors"
	"github.com/conduit-lang/bundler/runtime"
)

// JSTransformer compiles script files to CommonJS module bodies. A first
// esbuild pass strips types and JSX and substitutes defines, the syntax tree
// of that output is scanned for dependencies, and a second pass converts
// import/export syntax to CommonJS.
type JSTransformer struct{}

// Transform implements Transformer
func (t *JSTransformer) Transform(ctx context.Context, in Input) (*Result, error) {
	first := api.Transform(string(in.Content), api.TransformOptions{
		Loader:     loaderFor(in.Path),
		Sourcefile: in.Path,
		Define:     defines(in.Path, in.Options),
		Target:     api.ESNext,
		JSX:        api.JSXTransform,
		LogLevel:   api.LogLevelSilent,
	})
	if len(first.Errors) > 0 {
		return nil, esbuildError(in.Path, string(in.Content), first.Errors[0])
	}

	scanned, err := scan(ctx, first.Code)
	if err != nil {
		return nil, &cerrors.TransformError{Path: in.Path, Message: err.Error(), Err: err}
	}

	code := applyRewrites(first.Code, scanned.rewrites)
	if scanned.usesDefine {
		// UMD wrappers inside modules must take their CommonJS branch
		code = append([]byte("var define;\n"), code...)
	}
	deps := scanned.deps
	if in.Options.Target.IsBrowser() {
		var header bytes.Buffer
		for _, name := range scanned.globals {
			spec, member := runtime.Shim(name)
			fmt.Fprintf(&header, "var %s = require(%s)%s;\n", name, quote(spec), member)
			deps = append(deps, Dependency{Specifier: spec, Line: 1})
		}
		code = append(header.Bytes(), code...)
	}

	prod := in.Options.Production
	second := api.Transform(string(code), api.TransformOptions{
		Loader:            api.LoaderJS,
		Format:            api.FormatCommonJS,
		Sourcefile:        in.Path,
		Target:            api.ESNext,
		MinifyWhitespace:  prod,
		MinifyIdentifiers: prod,
		MinifySyntax:      prod,
		LogLevel:          api.LogLevelSilent,
	})
	if len(second.Errors) > 0 {
		return nil, esbuildError(in.Path, string(code), second.Errors[0])
	}

	return &Result{
		Generated:    map[string]string{"js": string(second.Code)},
		Dependencies: deps,
		Meta:         scanned.meta,
	}, nil
}

func loaderFor(path string) api.Loader {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".cjs":
		return api.LoaderJS
	default:
		return api.LoaderJSX
	}
}

// esbuildError converts an esbuild message into a TransformError
func esbuildError(path, source string, msg api.Message) error {
	terr := &cerrors.TransformError{
		Path:    path,
		Message: msg.Text,
		Source:  source,
	}
	if loc := msg.Location; loc != nil {
		terr.Location = cerrors.SourceLocation{
			File:   path,
			Line:   loc.Line,
			Column: loc.Column + 1,
			Length: loc.Length,
		}
	}
	return terr
}
