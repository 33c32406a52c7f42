package transform

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"

	cerrors "github.com/conduit-lang/bundler/compiler/errors"
)

// CSSTransformer collects @import and url() references. Imports become
// dependencies whose content is bundled into the same stylesheet, wrapped
// in @media when every import of it names a media query list; url()
// targets become raw assets and are rewritten by the packager. Comments
// are copied through untouched.
type CSSTransformer struct{}

type cssToken struct {
	tt   css.TokenType
	text string
}

// Transform implements Transformer
func (t *CSSTransformer) Transform(_ context.Context, in Input) (*Result, error) {
	l := css.NewLexer(parse.NewInputBytes(in.Content))

	var (
		out     strings.Builder
		deps    []Dependency
		seen    = map[string]int{}
		line    = 1
		pending []cssToken
	)
	add := func(dep Dependency) {
		if i, ok := seen[dep.Specifier]; ok {
			if dep.Media == "" {
				deps[i].Media = ""
			}
			return
		}
		seen[dep.Specifier] = len(deps)
		deps = append(deps, dep)
	}

	next := func() (cssToken, error) {
		if len(pending) > 0 {
			tok := pending[0]
			pending = pending[1:]
			return tok, nil
		}
		tt, text := l.Next()
		if tt == css.ErrorToken {
			return cssToken{tt: tt}, l.Err()
		}
		return cssToken{tt: tt, text: string(text)}, nil
	}

	for {
		tok, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &cerrors.TransformError{Path: in.Path, Message: err.Error(), Err: err}
		}

		switch {
		case tok.tt == css.AtKeywordToken && strings.EqualFold(tok.text, "@import"):
			stmt := []cssToken{tok}
			for {
				tok, err := next()
				if err != nil {
					break
				}
				stmt = append(stmt, tok)
				if tok.tt == css.SemicolonToken || tok.tt == css.LeftBraceToken {
					break
				}
			}
			if dep, ok := cssImport(stmt); ok {
				dep.Line = line
				add(dep)
			} else {
				for _, s := range stmt {
					out.WriteString(s.text)
				}
			}
			line += countLines(stmt)
			continue

		case tok.tt == css.URLToken:
			ref := cssURLValue(tok.text)
			if ref != "" && !isExternalURL(ref) {
				spec := relativeSpecifier(ref)
				add(Dependency{Specifier: spec, Line: line})
				out.WriteString(CSSURL(spec))
				continue
			}

		case tok.tt == css.FunctionToken && strings.EqualFold(tok.text, "url("):
			// url( followed by a string argument
			arg := []cssToken{tok}
			for len(arg) < 5 {
				tok, err := next()
				if err != nil {
					break
				}
				arg = append(arg, tok)
				if tok.tt == css.RightParenthesisToken {
					break
				}
			}
			if ref, ok := cssURLArgument(arg); ok && !isExternalURL(ref) {
				spec := relativeSpecifier(ref)
				add(Dependency{Specifier: spec, Line: line})
				out.WriteString(CSSURL(spec))
				line += countLines(arg)
			} else {
				// Replay everything after url( through the main loop
				out.WriteString(tok.text)
				pending = append(arg[1:], pending...)
			}
			continue
		}

		out.WriteString(tok.text)
		line += strings.Count(tok.text, "\n")
	}

	src := out.String()
	if in.Options.Production {
		res := api.Transform(src, api.TransformOptions{
			Loader:           api.LoaderCSS,
			Sourcefile:       in.Path,
			MinifyWhitespace: true,
			MinifySyntax:     true,
			LogLevel:         api.LogLevelSilent,
		})
		if len(res.Errors) > 0 {
			return nil, esbuildError(in.Path, src, res.Errors[0])
		}
		src = string(res.Code)
	}

	return &Result{
		Generated:    map[string]string{"css": strings.TrimSpace(src) + "\n", "js": ""},
		Dependencies: deps,
	}, nil
}

// cssImport reads the target and media list of an @import statement. It
// reports false for external targets, which stay in the stylesheet.
func cssImport(stmt []cssToken) (Dependency, bool) {
	var (
		ref   string
		found bool
		media []string
	)
	for i := 1; i < len(stmt); i++ {
		tok := stmt[i]
		switch tok.tt {
		case css.WhitespaceToken, css.CommentToken:
			if found && tok.tt == css.WhitespaceToken {
				media = append(media, " ")
			}
			continue
		case css.SemicolonToken, css.LeftBraceToken:
			if tok.tt == css.LeftBraceToken {
				return Dependency{}, false
			}
			continue
		}
		if found {
			media = append(media, tok.text)
			continue
		}
		switch {
		case tok.tt == css.StringToken:
			ref = unquoteCSS(tok.text)
		case tok.tt == css.URLToken:
			ref = cssURLValue(tok.text)
		case tok.tt == css.FunctionToken && strings.EqualFold(tok.text, "url("):
			end := i + 1
			for end < len(stmt) && stmt[end].tt != css.RightParenthesisToken {
				end++
			}
			r, ok := cssURLArgument(stmt[i:min(end+1, len(stmt))])
			if !ok {
				return Dependency{}, false
			}
			ref = r
			i = end
		default:
			return Dependency{}, false
		}
		found = true
	}
	if ref == "" || isExternalURL(ref) {
		return Dependency{}, false
	}
	return Dependency{
		Specifier: relativeSpecifier(ref),
		Media:     strings.Join(strings.Fields(strings.Join(media, "")), " "),
	}, true
}

// cssURLValue returns the reference inside a url(...) token
func cssURLValue(text string) string {
	if len(text) < 4 {
		return ""
	}
	text = strings.TrimSuffix(text[4:], ")")
	return unquoteCSS(strings.TrimSpace(text))
}

// cssURLArgument reads url( "ref" ) split into function, string and
// closing tokens
func cssURLArgument(toks []cssToken) (string, bool) {
	var ref string
	var ok bool
	for _, tok := range toks[1:] {
		switch tok.tt {
		case css.WhitespaceToken:
		case css.StringToken:
			if ok {
				return "", false
			}
			ref, ok = unquoteCSS(tok.text), true
		case css.RightParenthesisToken:
			return ref, ok
		default:
			return "", false
		}
	}
	return "", false
}

func unquoteCSS(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func countLines(toks []cssToken) int {
	n := 0
	for _, tok := range toks {
		n += strings.Count(tok.text, "\n")
	}
	return n
}

// CSSURL is the url() token a stylesheet carries for a reference until the
// packager replaces it with the public URL of the target
func CSSURL(ref string) string {
	return "url(" + quote(ref) + ")"
}

func isExternalURL(ref string) bool {
	lower := strings.ToLower(ref)
	for _, prefix := range []string{"data:", "http:", "https:", "//", "#", "about:"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// relativeSpecifier makes a CSS reference resolvable as a file path. CSS has
// no bare module names, so "img.png" means "./img.png".
func relativeSpecifier(ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	if strings.HasPrefix(ref, "./") || strings.HasPrefix(ref, "../") || strings.HasPrefix(ref, "/") || strings.HasPrefix(ref, "~") {
		return strings.TrimPrefix(ref, "~")
	}
	return "./" + ref
}
