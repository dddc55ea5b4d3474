// ABOUTME: Tool Definition Synthesizer - turns JavaScript function source into
// ABOUTME: machine-checkable tool descriptors using the goja AST front end.

package synth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

// ErrNotAFunction indicates the submitted source contains no function declaration.
var ErrNotAFunction = errors.New("no function declaration found")

// ErrNameMismatch indicates the declared function name differs from the requested one.
var ErrNameMismatch = errors.New("declared function name does not match")

// ErrNoCallableFunctions indicates a submission where every declared function
// ended up auxiliary. Warning-grade: the user adds an annotation and retries.
var ErrNoCallableFunctions = errors.New("no callable functions in submission")

// SyntaxError wraps a parse failure from the JavaScript front end.
type SyntaxError struct {
	Msg string
}

func (e *SyntaxError) Error() string { return "syntax error: " + e.Msg }

// Param is one declared parameter, in declaration order. A parameter with a
// default-value expression is optional and excluded from the schema's
// required list.
type Param struct {
	Name     string
	Required bool
}

// Candidate is one function extracted from an editor submission: its own
// source slice (doc block included), its descriptor, and whether it is
// callable or merely an auxiliary helper.
type Candidate struct {
	Name       string
	Source     string
	Descriptor *Descriptor
	Params     []Param
	Callable   bool
}

// Synthesize processes source expected to declare exactly one function named
// name and returns its candidate. The declaration is located through the
// parser's AST, never by scanning text.
func Synthesize(name, source string) (*Candidate, error) {
	candidates, err := synthesizeAll(source)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if c.Name == name {
			return c, nil
		}
	}
	declared := make([]string, len(candidates))
	for i, c := range candidates {
		declared[i] = c.Name
	}
	return nil, fmt.Errorf("%w: want %q, declared %s", ErrNameMismatch, name, strings.Join(declared, ", "))
}

// SynthesizeBatch processes a whole editor submission. When at least one
// function carries a callable annotation, only annotated functions are
// callable and the rest become auxiliary helpers. Functions annotated
// internal are always auxiliary. A batch with zero callable functions is
// rejected with ErrNoCallableFunctions.
func SynthesizeBatch(source string) ([]*Candidate, error) {
	candidates, err := synthesizeAll(source)
	if err != nil {
		return nil, err
	}
	callable := 0
	for _, c := range candidates {
		if c.Callable {
			callable++
		}
	}
	if callable == 0 {
		return nil, ErrNoCallableFunctions
	}
	return candidates, nil
}

// synthesizeAll parses the source and builds a candidate per declaration,
// applying the callable/internal annotation rules across the batch.
func synthesizeAll(source string) ([]*Candidate, error) {
	normalized := normalizeIndent(source)

	program, err := parser.ParseFile(nil, "function.js", normalized, 0)
	if err != nil {
		return nil, &SyntaxError{Msg: err.Error()}
	}

	var decls []*ast.FunctionDeclaration
	for _, stmt := range program.Body {
		if decl, ok := stmt.(*ast.FunctionDeclaration); ok && decl.Function.Name != nil {
			decls = append(decls, decl)
		}
	}
	if len(decls) == 0 {
		return nil, ErrNotAFunction
	}

	type parsed struct {
		candidate *Candidate
		doc       *docBlock
	}
	all := make([]parsed, 0, len(decls))
	anyMarked := false
	for _, decl := range decls {
		c, doc := buildCandidate(decl, normalized)
		if doc != nil && doc.callable {
			anyMarked = true
		}
		all = append(all, parsed{candidate: c, doc: doc})
	}

	out := make([]*Candidate, 0, len(all))
	for _, p := range all {
		marked := p.doc != nil && p.doc.callable
		internal := p.doc != nil && p.doc.internal
		p.candidate.Callable = !internal && (!anyMarked || marked)
		out = append(out, p.candidate)
	}
	return out, nil
}

// buildCandidate assembles the descriptor for one declaration. Documentation
// only refines the result; its absence never gates validity.
func buildCandidate(decl *ast.FunctionDeclaration, source string) (*Candidate, *docBlock) {
	fn := decl.Function
	name := fn.Name.Name.String()

	start := int(fn.Idx0()) - 1
	end := int(fn.Idx1()) - 1
	if start < 0 {
		start = 0
	}
	if end > len(source) {
		end = len(source)
	}

	// The literal anchors at the function keyword; pull a preceding async
	// modifier into the extracted slice so the source re-executes as written.
	if head := strings.TrimRight(source[:start], " \t\r\n"); strings.HasSuffix(head, "async") {
		start = len(head) - len("async")
	}

	doc, docStart := docBlockBefore(source, start)
	snippetStart := start
	if doc != nil {
		snippetStart = docStart
	}

	description := fmt.Sprintf("Function %s for tool calling", name)
	if doc != nil && doc.description != "" {
		description = doc.description
	}

	params := extractParams(fn.ParameterList)
	schema := &Schema{
		Type:       "object",
		Properties: make(map[string]Property, len(params)),
	}
	for _, p := range params {
		prop := Property{
			Type:        "string",
			Description: fmt.Sprintf("Parameter %s for function %s", p.Name, name),
		}
		if doc != nil {
			if tag, ok := doc.params[p.Name]; ok {
				if tag.typ != "" {
					prop.Type = tag.typ
				}
				if tag.description != "" {
					prop.Description = tag.description
				}
			}
		}
		schema.Properties[p.Name] = prop
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}

	descriptor, err := NewDescriptor(name, description, schema)
	if err != nil {
		// Schema marshaling of plain string/Property maps cannot fail; keep
		// the candidate usable regardless.
		descriptor = &Descriptor{Type: "function", Function: Function{Name: name, Description: description, Parameters: EmptyObjectSchema()}}
	}

	return &Candidate{
		Name:       name,
		Source:     strings.TrimSpace(source[snippetStart:end]),
		Descriptor: descriptor,
		Params:     params,
	}, doc
}

// extractParams walks the parameter list in declaration order. A binding with
// an initializer is optional; destructuring targets get positional names.
func extractParams(list *ast.ParameterList) []Param {
	if list == nil {
		return nil
	}
	params := make([]Param, 0, len(list.List))
	for i, binding := range list.List {
		name := fmt.Sprintf("param%d", i)
		if ident, ok := binding.Target.(*ast.Identifier); ok {
			name = ident.Name.String()
		}
		params = append(params, Param{
			Name:     name,
			Required: binding.Initializer == nil,
		})
	}
	return params
}

// normalizeIndent strips the common leading whitespace shared by all
// non-empty lines, so code pasted from an indented context still parses with
// stable column positions.
func normalizeIndent(source string) string {
	lines := strings.Split(source, "\n")
	common := -1
	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			continue
		}
		indent := len(line) - len(trimmed)
		if common < 0 || indent < common {
			common = indent
		}
	}
	if common <= 0 {
		return source
	}
	for i, line := range lines {
		if len(line) >= common && strings.TrimLeft(line[:common], " \t") == "" {
			lines[i] = line[common:]
		}
	}
	return strings.Join(lines, "\n")
}
