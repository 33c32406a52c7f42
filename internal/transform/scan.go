package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"

	"github.com/conduit-lang/bundler/runtime"
)

type occurrence struct {
	dep  Dependency
	node *sitter.Node
}

type rewrite struct {
	start, end uint32
	text       string
}

// scope is the context a node is visited in
type scope struct {
	optional bool // inside a try block
	excluded bool // inside a statically false branch
	shadowed bool // require is a local binding
}

type scanner struct {
	src         []byte
	occurrences []occurrence
	rewrites    []rewrite
	meta        Meta
	usesDefine  bool
	// free holds the node globals referenced without a top-level binding
	free map[string]bool
}

type scanResult struct {
	deps       []Dependency
	rewrites   []rewrite
	meta       Meta
	usesDefine bool
	// globals lists the node globals the module uses but does not declare,
	// in the order of nodeGlobals
	globals []string
}

// nodeGlobals are the node globals browser builds provide shims for
var nodeGlobals = []string{"process", "Buffer"}

// scan parses JavaScript and collects dependencies, the edits needed to turn
// dynamic imports and worker URLs into registry calls, and module metadata.
func scan(ctx context.Context, src []byte) (*scanResult, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	s := &scanner{src: src, free: make(map[string]bool)}
	s.walk(root, scope{shadowed: s.declaresInBody(root, "require")})

	result := &scanResult{
		deps:       mergeOccurrences(s.occurrences),
		rewrites:   s.rewrites,
		meta:       s.meta,
		usesDefine: s.usesDefine,
	}
	for _, name := range nodeGlobals {
		if s.free[name] && !s.declaresInBody(root, name) {
			result.globals = append(result.globals, name)
		}
	}
	return result, nil
}

func (s *scanner) text(n *sitter.Node) string {
	return string(s.src[n.StartByte():n.EndByte()])
}

func (s *scanner) walk(node *sitter.Node, sc scope) {
	if node == nil {
		return
	}

	switch node.Type() {
	case "function_declaration", "function_expression", "function", "arrow_function",
		"method_definition", "generator_function", "generator_function_declaration":
		if !sc.shadowed && s.declaresRequire(node) {
			sc.shadowed = true
		}

	case "try_statement":
		body := sc
		body.optional = true
		s.walk(node.ChildByFieldName("body"), body)
		s.walk(node.ChildByFieldName("handler"), sc)
		s.walk(node.ChildByFieldName("finalizer"), sc)
		return

	case "if_statement", "ternary_expression":
		cond := node.ChildByFieldName("condition")
		s.walk(cond, sc)
		v, known := s.evaluate(cond)
		s.walk(node.ChildByFieldName("consequence"), s.branch(sc, known && !v.truthy()))
		s.walk(node.ChildByFieldName("alternative"), s.branch(sc, known && v.truthy()))
		return

	case "binary_expression":
		op := node.ChildByFieldName("operator")
		if op != nil && (s.text(op) == "&&" || s.text(op) == "||") {
			left := node.ChildByFieldName("left")
			s.walk(left, sc)
			v, known := s.evaluate(left)
			dead := known && v.truthy() == (s.text(op) == "||")
			s.walk(node.ChildByFieldName("right"), s.branch(sc, dead))
			return
		}

	case "call_expression":
		s.visitCall(node, sc)

	case "new_expression":
		s.visitNew(node, sc)

	case "import_statement":
		s.meta.ESModule = true
		if src := node.ChildByFieldName("source"); src != nil {
			s.addString(src, node, sc, Dependency{})
		}
		return

	case "export_statement":
		s.meta.ESModule = true
		s.visitExport(node, sc)
		return

	case "identifier":
		switch name := s.text(node); name {
		case "define":
			s.usesDefine = true
		case "process", "Buffer":
			s.free[name] = true
		}
		return
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		s.walk(node.NamedChild(i), sc)
	}
}

func (s *scanner) branch(sc scope, dead bool) scope {
	if dead {
		sc.excluded = true
	}
	return sc
}

func (s *scanner) visitCall(node *sitter.Node, sc scope) {
	fn := node.ChildByFieldName("function")
	arg := firstArgument(node)
	if fn == nil || arg == nil {
		return
	}

	switch fn.Type() {
	case "identifier":
		if s.text(fn) == "require" && !sc.shadowed {
			s.addString(arg, node, sc, Dependency{})
		}

	case "import":
		spec, ok := s.stringValue(arg)
		if !ok {
			return
		}
		s.add(node, sc, Dependency{Specifier: spec, Async: true})
		s.add(node, sc, Dependency{Specifier: runtime.BundleLoader})
		s.rewrites = append(s.rewrites, rewrite{
			start: node.StartByte(),
			end:   node.EndByte(),
			text:  fmt.Sprintf("require(%s)(require.resolve(%s))", quote(runtime.BundleLoader), quote(spec)),
		})

	case "member_expression":
		if s.text(fn) == "navigator.serviceWorker.register" {
			s.addWorker(arg, node, sc)
		}
	}
}

func (s *scanner) visitNew(node *sitter.Node, sc scope) {
	ctor := node.ChildByFieldName("constructor")
	arg := firstArgument(node)
	if ctor == nil || arg == nil || ctor.Type() != "identifier" {
		return
	}
	if name := s.text(ctor); name == "Worker" || name == "SharedWorker" {
		s.addWorker(arg, node, sc)
	}
}

// addWorker records a worker script reference and rewrites the literal into
// the URL of the worker's bundle
func (s *scanner) addWorker(arg, node *sitter.Node, sc scope) {
	spec, ok := s.stringValue(arg)
	if !ok {
		return
	}
	s.add(node, sc, Dependency{Specifier: spec, Async: true, Worker: true})
	s.add(node, sc, Dependency{Specifier: runtime.BundleURL})
	s.rewrites = append(s.rewrites, rewrite{
		start: arg.StartByte(),
		end:   arg.EndByte(),
		text:  fmt.Sprintf("require(%s).getBundleURL() + require.resolve(%s)", quote(runtime.BundleURL), quote(spec)),
	})
}

func (s *scanner) visitExport(node *sitter.Node, sc scope) {
	source := node.ChildByFieldName("source")
	if source != nil {
		s.addString(source, node, sc, Dependency{})
	}

	star, namespaced := false, false
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "default":
			s.meta.Exports = append(s.meta.Exports, "default")
		case "*":
			star = true
		case "namespace_export":
			namespaced = true
			if child.NamedChildCount() > 0 {
				name, ok := s.stringValue(child.NamedChild(0))
				if !ok {
					name = s.text(child.NamedChild(0))
				}
				s.meta.Exports = append(s.meta.Exports, name)
			}
		case "export_clause":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				spec := child.NamedChild(j)
				if spec.Type() != "export_specifier" {
					continue
				}
				name := spec.ChildByFieldName("alias")
				if name == nil {
					name = spec.ChildByFieldName("name")
				}
				if name != nil {
					s.meta.Exports = append(s.meta.Exports, s.text(name))
				}
			}
		}
	}
	if star && !namespaced && source != nil {
		s.meta.ExportAll = true
	}

	decl := node.ChildByFieldName("declaration")
	if decl == nil {
		if value := node.ChildByFieldName("value"); value != nil {
			s.walk(value, sc)
		}
		return
	}
	switch decl.Type() {
	case "function_declaration", "generator_function_declaration", "class_declaration":
		if name := decl.ChildByFieldName("name"); name != nil {
			s.meta.Exports = append(s.meta.Exports, s.text(name))
		}
	case "lexical_declaration", "variable_declaration":
		for i := 0; i < int(decl.NamedChildCount()); i++ {
			d := decl.NamedChild(i)
			if d.Type() != "variable_declarator" {
				continue
			}
			if name := d.ChildByFieldName("name"); name != nil && name.Type() == "identifier" {
				s.meta.Exports = append(s.meta.Exports, s.text(name))
			}
		}
	}
	s.walk(decl, sc)
}

func (s *scanner) addString(lit, node *sitter.Node, sc scope, dep Dependency) {
	spec, ok := s.stringValue(lit)
	if !ok {
		return
	}
	dep.Specifier = spec
	s.add(node, sc, dep)
}

func (s *scanner) add(node *sitter.Node, sc scope, dep Dependency) {
	dep.Optional = sc.optional
	dep.Excluded = sc.excluded
	dep.Line = int(node.StartPoint().Row) + 1
	s.occurrences = append(s.occurrences, occurrence{dep: dep, node: node})
}

// declaresRequire reports whether a function binds require as a parameter or
// a top-level declaration of its body
func (s *scanner) declaresRequire(fn *sitter.Node) bool {
	if p := fn.ChildByFieldName("parameter"); p != nil && s.text(p) == "require" {
		return true
	}
	if params := fn.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.NamedChildCount()); i++ {
			p := params.NamedChild(i)
			switch p.Type() {
			case "assignment_pattern":
				p = p.ChildByFieldName("left")
			case "rest_pattern":
				if p.NamedChildCount() > 0 {
					p = p.NamedChild(0)
				}
			}
			if p != nil && p.Type() == "identifier" && s.text(p) == "require" {
				return true
			}
		}
	}
	return s.declaresInBody(fn.ChildByFieldName("body"), "require")
}

// declaresInBody reports whether a statement of body declares name
func (s *scanner) declaresInBody(body *sitter.Node, name string) bool {
	if body == nil {
		return false
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		stmt := body.NamedChild(i)
		switch stmt.Type() {
		case "function_declaration", "class_declaration":
			if id := stmt.ChildByFieldName("name"); id != nil && s.text(id) == name {
				return true
			}
		case "lexical_declaration", "variable_declaration":
			for j := 0; j < int(stmt.NamedChildCount()); j++ {
				d := stmt.NamedChild(j)
				if d.Type() != "variable_declarator" {
					continue
				}
				if id := d.ChildByFieldName("name"); id != nil && s.binds(id, name) {
					return true
				}
			}
		case "import_statement":
			for j := 0; j < int(stmt.NamedChildCount()); j++ {
				if c := stmt.NamedChild(j); c.Type() == "import_clause" && s.binds(c, name) {
					return true
				}
			}
		}
	}
	return false
}

// binds reports whether a binding pattern or import clause introduces name
func (s *scanner) binds(n *sitter.Node, name string) bool {
	switch n.Type() {
	case "identifier", "shorthand_property_identifier_pattern":
		return s.text(n) == name
	case "property_identifier", "string":
		return false
	case "import_specifier":
		if alias := n.ChildByFieldName("alias"); alias != nil {
			return s.text(alias) == name
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if s.binds(n.NamedChild(i), name) {
			return true
		}
	}
	return false
}

// stringValue returns the value of a string literal or a template literal
// without substitutions
func (s *scanner) stringValue(n *sitter.Node) (string, bool) {
	if n == nil {
		return "", false
	}
	raw := s.text(n)
	switch n.Type() {
	case "string":
		if len(raw) < 2 {
			return "", false
		}
		body := raw[1 : len(raw)-1]
		if raw[0] == '\'' {
			body = convertSingleQuoted(body)
		}
		v, err := strconv.Unquote(`"` + body + `"`)
		if err != nil {
			return body, true
		}
		return v, true
	case "template_string":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if n.NamedChild(i).Type() == "template_substitution" {
				return "", false
			}
		}
		if len(raw) < 2 {
			return "", false
		}
		return raw[1 : len(raw)-1], true
	}
	return "", false
}

// convertSingleQuoted rewrites the body of a single quoted literal so it can
// be unquoted as a double quoted one
func convertSingleQuoted(body string) string {
	out := make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '\\' && i+1 < len(body) && body[i+1] == '\'':
			out = append(out, '\'')
			i++
		case c == '\\' && i+1 < len(body):
			out = append(out, c, body[i+1])
			i++
		case c == '"':
			out = append(out, '\\', '"')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

func firstArgument(call *sitter.Node) *sitter.Node {
	args := call.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return nil
	}
	return args.NamedChild(0)
}

// mergeOccurrences folds repeated references to one specifier into a single
// dependency. A specifier is excluded only when every reference is, and
// optional or async only when every live reference is.
func mergeOccurrences(occs []occurrence) []Dependency {
	type merged struct {
		dep  Dependency
		live int
	}
	index := make(map[string]*merged)
	var order []string

	for _, o := range occs {
		m, ok := index[o.dep.Specifier]
		if !ok {
			m = &merged{dep: Dependency{
				Specifier: o.dep.Specifier,
				Line:      o.dep.Line,
				Excluded:  true,
				Optional:  true,
				Async:     true,
			}}
			index[o.dep.Specifier] = m
			order = append(order, o.dep.Specifier)
		}
		if o.dep.Excluded {
			continue
		}
		if m.live == 0 {
			m.dep.Line = o.dep.Line
		}
		m.live++
		m.dep.Excluded = false
		m.dep.Optional = m.dep.Optional && o.dep.Optional
		m.dep.Async = m.dep.Async && o.dep.Async
		m.dep.Worker = m.dep.Worker || o.dep.Worker
	}

	deps := make([]Dependency, 0, len(order))
	for _, spec := range order {
		m := index[spec]
		if m.live == 0 {
			m.dep.Optional = false
			m.dep.Async = false
		}
		deps = append(deps, m.dep)
	}
	return deps
}

func applyRewrites(src []byte, rewrites []rewrite) []byte {
	if len(rewrites) == 0 {
		return src
	}
	sorted := append([]rewrite(nil), rewrites...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start > sorted[j].start })

	out := append([]byte(nil), src...)
	for _, rw := range sorted {
		out = append(out[:rw.start], append([]byte(rw.text), out[rw.end:]...)...)
	}
	return out
}

func quote(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
