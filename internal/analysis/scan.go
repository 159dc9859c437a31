package analysis

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

type BindingKind string

const (
	BindingNamed      BindingKind = "named"
	BindingDefault    BindingKind = "default"
	BindingNamespace  BindingKind = "namespace"
	BindingSideEffect BindingKind = "side-effect"
	BindingDynamic    BindingKind = "dynamic"
)

// Binding is one import edge found in a compiled chunk. Name is the export
// pulled from Module, "*" for namespace-like uses, or "" for bare imports.
type Binding struct {
	Module string
	Name   string
	Kind   BindingKind
	Line   int
}

func (b Binding) IsDynamic() bool {
	return b.Kind == BindingDynamic
}

// scanChunk parses compiled ESM and returns its import bindings in source
// order.
func scanChunk(ctx context.Context, code []byte) ([]Binding, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, code)
	if err != nil {
		return nil, fmt.Errorf("parse compiled chunk: %w", err)
	}
	if tree == nil {
		return nil, fmt.Errorf("parse compiled chunk: tree-sitter returned nil tree")
	}

	bindings := make([]Binding, 0)
	walkNode(tree.RootNode(), func(node *sitter.Node) {
		switch node.Type() {
		case "import_statement":
			bindings = append(bindings, parseImportStatement(node, code)...)
		case "export_statement":
			bindings = append(bindings, parseReexport(node, code)...)
		case "call_expression":
			if binding, ok := parseCall(node, code); ok {
				bindings = append(bindings, binding)
			}
		}
	})
	return bindings, nil
}

func walkNode(node *sitter.Node, visit func(*sitter.Node)) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		visit(child)
		walkNode(child, visit)
	}
}

func parseImportStatement(node *sitter.Node, content []byte) []Binding {
	module, ok := extractStringLiteral(node.ChildByFieldName("source"), content)
	if !ok {
		return nil
	}
	clause := firstNamedChildOfType(node, "import_clause")
	if clause == nil {
		return []Binding{makeBinding(module, "", BindingSideEffect, node)}
	}

	bindings := make([]Binding, 0)
	for i := 0; i < int(clause.NamedChildCount()); i++ {
		child := clause.NamedChild(i)
		switch child.Type() {
		case "identifier":
			bindings = append(bindings, makeBinding(module, "default", BindingDefault, child))
		case "namespace_import":
			bindings = append(bindings, makeBinding(module, "*", BindingNamespace, child))
		case "named_imports":
			for _, name := range specifierNames(child, "import_specifier", content) {
				kind := BindingNamed
				if name == "default" {
					kind = BindingDefault
				}
				bindings = append(bindings, makeBinding(module, name, kind, child))
			}
		}
	}
	if len(bindings) == 0 {
		bindings = append(bindings, makeBinding(module, "", BindingSideEffect, node))
	}
	return bindings
}

// parseReexport handles `export ... from "x"`. Declarations without a source
// are not imports.
func parseReexport(node *sitter.Node, content []byte) []Binding {
	module, ok := extractStringLiteral(node.ChildByFieldName("source"), content)
	if !ok {
		return nil
	}
	if clause := firstNamedChildOfType(node, "export_clause"); clause != nil {
		bindings := make([]Binding, 0)
		for _, name := range specifierNames(clause, "export_specifier", content) {
			bindings = append(bindings, makeBinding(module, name, BindingNamed, clause))
		}
		return bindings
	}
	return []Binding{makeBinding(module, "*", BindingNamespace, node)}
}

// specifierNames returns the source-side names of import or export
// specifiers, ignoring local aliases.
func specifierNames(node *sitter.Node, specType string, content []byte) []string {
	names := make([]string, 0)
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() != specType {
			continue
		}
		nameNode := child.ChildByFieldName("name")
		if nameNode == nil {
			nameNode = firstNamedChildOfType(child, "identifier", "property_identifier", "string")
		}
		name := nodeText(nameNode, content)
		if nameNode != nil && nameNode.Type() == "string" {
			name, _ = extractStringLiteral(nameNode, content)
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// parseCall recognises dynamic import() and require calls, including the
// __require helper bundlers emit for CommonJS interop.
func parseCall(node *sitter.Node, content []byte) (Binding, bool) {
	function := node.ChildByFieldName("function")
	args := node.ChildByFieldName("arguments")
	if function == nil || args == nil || args.NamedChildCount() == 0 {
		return Binding{}, false
	}
	module, ok := extractStringLiteral(args.NamedChild(0), content)
	if !ok {
		return Binding{}, false
	}
	switch {
	case function.Type() == "import":
		return makeBinding(module, "*", BindingDynamic, node), true
	case function.Type() == "identifier" && isRequireName(nodeText(function, content)):
		return makeBinding(module, "*", BindingNamespace, node), true
	default:
		return Binding{}, false
	}
}

func isRequireName(name string) bool {
	return name == "require" || name == "__require"
}

func makeBinding(module, name string, kind BindingKind, node *sitter.Node) Binding {
	return Binding{Module: module, Name: name, Kind: kind, Line: int(node.StartPoint().Row) + 1}
}

// extractStringLiteral accepts quoted strings and template strings without
// substitutions.
func extractStringLiteral(node *sitter.Node, content []byte) (string, bool) {
	if node == nil {
		return "", false
	}
	switch node.Type() {
	case "string":
	case "template_string":
		if firstNamedChildOfType(node, "template_substitution") != nil {
			return "", false
		}
	default:
		return "", false
	}
	text := nodeText(node, content)
	if len(text) < 2 {
		return "", false
	}
	text = text[1 : len(text)-1]
	if text == "" {
		return "", false
	}
	if strings.Contains(text, `\`) {
		text = unescape(text)
	}
	return text, true
}

func unescape(text string) string {
	replacer := strings.NewReplacer(`\'`, `'`, `\"`, `"`, "\\`", "`", `\\`, `\`)
	return replacer.Replace(text)
}

func nodeText(node *sitter.Node, content []byte) string {
	if node == nil {
		return ""
	}
	return string(content[node.StartByte():node.EndByte()])
}

func firstNamedChildOfType(node *sitter.Node, types ...string) *sitter.Node {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		for _, typ := range types {
			if child.Type() == typ {
				return child
			}
		}
	}
	return nil
}
