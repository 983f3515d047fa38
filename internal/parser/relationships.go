package parser

import (
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// annotationRe matches a `: Name` type annotation on a parameter or variable,
// capturing the bare class name (ignoring generic brackets).
var annotationRe = regexp.MustCompile(`:\s*([A-Z][A-Za-z0-9_]*)\s*[\[\]=,)]`)

// implementsRe matches a TypeScript `implements A, B` clause on a class
// declaration line.
var implementsRe = regexp.MustCompile(`\bimplements\s+([A-Za-z0-9_.,\s]+?)\s*\{`)

// reexportRe matches `export ... from 'module'` / `export * from "module"`.
var reexportRe = regexp.MustCompile(`\bexport\b[^;\n]*\bfrom\s+['"]([^'"]+)['"]`)

// RelationshipKind represents the type of code relationship. These map onto
// the two edge families the dependency graph stores: file-level
// (imports/reexport) and symbol-level (calls/extends/implements/uses_type).
type RelationshipKind string

const (
	RelationshipImports    RelationshipKind = "imports"
	RelationshipReexport   RelationshipKind = "reexport"
	RelationshipCalls      RelationshipKind = "calls"
	RelationshipExtends    RelationshipKind = "extends"
	RelationshipImplements RelationshipKind = "implements"
	RelationshipUsesType   RelationshipKind = "uses_type"
)

// IsFileLevel reports whether this relationship belongs in the file edge
// table (import/reexport) rather than the symbol edge table.
func (k RelationshipKind) IsFileLevel() bool {
	return k == RelationshipImports || k == RelationshipReexport
}

// Relationship represents a relationship between code elements.
type Relationship struct {
	Kind       RelationshipKind `json:"kind"`
	SourceFile string           `json:"source_file"`
	SourceName string           `json:"source_name,omitempty"` // Symbol name for calls/extends
	SourceLine int              `json:"source_line,omitempty"` // Line where relationship occurs
	TargetPath string           `json:"target_path,omitempty"` // For imports: module path
	TargetName string           `json:"target_name,omitempty"` // For calls/extends: target symbol
}

// ParseResult contains symbols and relationships from parsing.
type ParseResult struct {
	Symbols       []Symbol
	Relationships []Relationship
}

// extractPythonRelationships extracts imports, calls, and inheritance from Python AST.
func extractPythonRelationships(root *sitter.Node, source []byte, filePath string) []Relationship {
	var rels []Relationship

	cursor := sitter.NewTreeCursor(root)
	defer cursor.Close()

	extractPythonRels(cursor, source, filePath, "", &rels)
	rels = append(rels, extractPythonUsesType(source, filePath)...)
	return rels
}

// extractPythonUsesType catches type-hint relationships the AST walk above
// doesn't: parameter and return annotations naming a class defined elsewhere.
// This is a regex pass over the source rather than a cursor walk because
// annotation expressions (Optional[Foo], List[Bar]) are arbitrarily nested
// and a full type-expression walker is out of scope for a single-file parse.
func extractPythonUsesType(source []byte, filePath string) []Relationship {
	var rels []Relationship
	for i, line := range strings.Split(string(source), "\n") {
		for _, m := range annotationRe.FindAllStringSubmatch(line, -1) {
			name := m[1]
			if name == "" || isPythonBuiltinType(name) {
				continue
			}
			rels = append(rels, Relationship{
				Kind:       RelationshipUsesType,
				SourceFile: filePath,
				SourceLine: i + 1,
				TargetName: name,
			})
		}
	}
	return rels
}

func isPythonBuiltinType(name string) bool {
	switch name {
	case "str", "int", "float", "bool", "bytes", "list", "dict", "set", "tuple",
		"List", "Dict", "Set", "Tuple", "Optional", "Any", "Union", "Callable", "None":
		return true
	}
	return false
}

func extractPythonRels(cursor *sitter.TreeCursor, source []byte, filePath, currentFunc string, rels *[]Relationship) {
	node := cursor.CurrentNode()

	switch node.Type() {
	case "import_statement":
		// import foo, bar
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			if child.Type() == "dotted_name" {
				modulePath := nodeContent(child, source)
				*rels = append(*rels, Relationship{
					Kind:       RelationshipImports,
					SourceFile: filePath,
					SourceLine: int(node.StartPoint().Row) + 1,
					TargetPath: modulePath,
				})
			}
		}

	case "import_from_statement":
		// from foo import bar
		if moduleNode := findChild(node, "dotted_name"); moduleNode != nil {
			modulePath := nodeContent(moduleNode, source)
			*rels = append(*rels, Relationship{
				Kind:       RelationshipImports,
				SourceFile: filePath,
				SourceLine: int(node.StartPoint().Row) + 1,
				TargetPath: modulePath,
			})
		} else if moduleNode := findChild(node, "relative_import"); moduleNode != nil {
			// Handle relative imports like: from . import foo
			modulePath := nodeContent(moduleNode, source)
			*rels = append(*rels, Relationship{
				Kind:       RelationshipImports,
				SourceFile: filePath,
				SourceLine: int(node.StartPoint().Row) + 1,
				TargetPath: modulePath,
			})
		}

	case "class_definition":
		className := ""
		if nameNode := findChild(node, "identifier"); nameNode != nil {
			className = nodeContent(nameNode, source)
		}

		// Check for base classes (extends)
		if argList := findChild(node, "argument_list"); argList != nil {
			for i := 0; i < int(argList.ChildCount()); i++ {
				child := argList.Child(i)
				if child.Type() == "identifier" {
					baseName := nodeContent(child, source)
					*rels = append(*rels, Relationship{
						Kind:       RelationshipExtends,
						SourceFile: filePath,
						SourceName: className,
						SourceLine: int(node.StartPoint().Row) + 1,
						TargetName: baseName,
					})
				} else if child.Type() == "attribute" {
					// Handle qualified base class: module.ClassName
					baseName := nodeContent(child, source)
					*rels = append(*rels, Relationship{
						Kind:       RelationshipExtends,
						SourceFile: filePath,
						SourceName: className,
						SourceLine: int(node.StartPoint().Row) + 1,
						TargetName: baseName,
					})
				}
			}
		}

		// Continue extracting within class body
		if body := findChild(node, "block"); body != nil {
			bodyCursor := sitter.NewTreeCursor(body)
			defer bodyCursor.Close()
			extractPythonRels(bodyCursor, source, filePath, className, rels)
		}
		return

	case "function_definition":
		funcName := ""
		if nameNode := findChild(node, "identifier"); nameNode != nil {
			funcName = nodeContent(nameNode, source)
		}
		if currentFunc != "" {
			funcName = currentFunc + "." + funcName
		}

		// Extract calls within function body
		if body := findChild(node, "block"); body != nil {
			bodyCursor := sitter.NewTreeCursor(body)
			defer bodyCursor.Close()
			extractPythonRels(bodyCursor, source, filePath, funcName, rels)
		}
		return

	case "call":
		// Function call
		callTarget := extractCallTarget(node, source)
		if callTarget != "" && currentFunc != "" {
			*rels = append(*rels, Relationship{
				Kind:       RelationshipCalls,
				SourceFile: filePath,
				SourceName: currentFunc,
				SourceLine: int(node.StartPoint().Row) + 1,
				TargetName: callTarget,
			})
		}
	}

	// Recurse into children
	if cursor.GoToFirstChild() {
		extractPythonRels(cursor, source, filePath, currentFunc, rels)
		for cursor.GoToNextSibling() {
			extractPythonRels(cursor, source, filePath, currentFunc, rels)
		}
		cursor.GoToParent()
	}
}

func extractCallTarget(node *sitter.Node, source []byte) string {
	// call node has function as first child
	if node.ChildCount() == 0 {
		return ""
	}

	funcNode := node.Child(0)
	switch funcNode.Type() {
	case "identifier":
		return nodeContent(funcNode, source)
	case "attribute":
		// obj.method() - return the full attribute chain
		return nodeContent(funcNode, source)
	}
	return ""
}

// extractJavaScriptRelationships extracts imports, calls, and inheritance from JS/TS AST.
func extractJavaScriptRelationships(root *sitter.Node, source []byte, filePath string) []Relationship {
	var rels []Relationship

	cursor := sitter.NewTreeCursor(root)
	defer cursor.Close()

	extractJSRels(cursor, source, filePath, "", &rels)
	rels = append(rels, extractJSReexportsAndImplements(source, filePath)...)
	return rels
}

// extractJSReexportsAndImplements catches two relationship shapes the
// tree-sitter-javascript grammar's node set doesn't cleanly expose when also
// parsing TypeScript source through it: `export ... from` barrel reexports,
// and `implements` clauses on a class declaration. Both are line-oriented so
// a regex pass is simpler and more robust than walking grammar nodes that
// only exist in the TypeScript grammar.
func extractJSReexportsAndImplements(source []byte, filePath string) []Relationship {
	var rels []Relationship
	lines := strings.Split(string(source), "\n")
	for i, line := range lines {
		if m := reexportRe.FindStringSubmatch(line); m != nil {
			rels = append(rels, Relationship{
				Kind:       RelationshipReexport,
				SourceFile: filePath,
				SourceLine: i + 1,
				TargetPath: m[1],
			})
		}
		if m := implementsRe.FindStringSubmatch(line); m != nil {
			className := currentClassName(lines, i)
			for _, iface := range strings.Split(m[1], ",") {
				iface = strings.TrimSpace(iface)
				if iface == "" {
					continue
				}
				rels = append(rels, Relationship{
					Kind:       RelationshipImplements,
					SourceFile: filePath,
					SourceName: className,
					SourceLine: i + 1,
					TargetName: iface,
				})
			}
		}
	}
	return rels
}

var classDeclRe = regexp.MustCompile(`\bclass\s+([A-Za-z0-9_]+)`)

// currentClassName walks backward from line i to find the nearest enclosing
// `class Name` declaration, a cheap approximation that works for the common
// non-nested case.
func currentClassName(lines []string, i int) string {
	for j := i; j >= 0; j-- {
		if m := classDeclRe.FindStringSubmatch(lines[j]); m != nil {
			return m[1]
		}
	}
	return ""
}

func extractJSRels(cursor *sitter.TreeCursor, source []byte, filePath, currentFunc string, rels *[]Relationship) {
	node := cursor.CurrentNode()

	switch node.Type() {
	case "import_statement":
		// import X from 'module' or import { X } from 'module'
		if sourceNode := findChildByType(node, "string"); sourceNode != nil {
			modulePath := strings.Trim(nodeContent(sourceNode, source), `"'`)
			*rels = append(*rels, Relationship{
				Kind:       RelationshipImports,
				SourceFile: filePath,
				SourceLine: int(node.StartPoint().Row) + 1,
				TargetPath: modulePath,
			})
		}

	case "call_expression":
		// require('module')
		if funcNode := node.Child(0); funcNode != nil {
			if funcNode.Type() == "identifier" && nodeContent(funcNode, source) == "require" {
				if args := findChildByType(node, "arguments"); args != nil {
					if strArg := findChildByType(args, "string"); strArg != nil {
						modulePath := strings.Trim(nodeContent(strArg, source), `"'`)
						*rels = append(*rels, Relationship{
							Kind:       RelationshipImports,
							SourceFile: filePath,
							SourceLine: int(node.StartPoint().Row) + 1,
							TargetPath: modulePath,
						})
					}
				}
			} else if currentFunc != "" {
				// Regular function call
				callTarget := extractJSCallTarget(funcNode, source)
				if callTarget != "" {
					*rels = append(*rels, Relationship{
						Kind:       RelationshipCalls,
						SourceFile: filePath,
						SourceName: currentFunc,
						SourceLine: int(node.StartPoint().Row) + 1,
						TargetName: callTarget,
					})
				}
			}
		}

	case "class_declaration":
		className := ""
		if nameNode := findChildByType(node, "identifier"); nameNode != nil {
			className = nodeContent(nameNode, source)
		}

		// Check for extends - class_heritage contains "extends" keyword and identifier directly
		if heritage := findChildByType(node, "class_heritage"); heritage != nil {
			for i := 0; i < int(heritage.ChildCount()); i++ {
				child := heritage.Child(i)
				if child.Type() == "identifier" {
					baseName := nodeContent(child, source)
					*rels = append(*rels, Relationship{
						Kind:       RelationshipExtends,
						SourceFile: filePath,
						SourceName: className,
						SourceLine: int(node.StartPoint().Row) + 1,
						TargetName: baseName,
					})
				} else if child.Type() == "member_expression" {
					// Handle qualified names like React.Component
					baseName := nodeContent(child, source)
					*rels = append(*rels, Relationship{
						Kind:       RelationshipExtends,
						SourceFile: filePath,
						SourceName: className,
						SourceLine: int(node.StartPoint().Row) + 1,
						TargetName: baseName,
					})
				}
			}
		}

		// Extract within class body
		if body := findChildByType(node, "class_body"); body != nil {
			bodyCursor := sitter.NewTreeCursor(body)
			defer bodyCursor.Close()
			extractJSRels(bodyCursor, source, filePath, className, rels)
		}
		return

	case "function_declaration":
		funcName := ""
		if nameNode := findChildByType(node, "identifier"); nameNode != nil {
			funcName = nodeContent(nameNode, source)
		}
		if currentFunc != "" && funcName != "" {
			funcName = currentFunc + "." + funcName
		}

		// Extract within function body
		if body := findChildByType(node, "statement_block"); body != nil {
			bodyCursor := sitter.NewTreeCursor(body)
			defer bodyCursor.Close()
			extractJSRels(bodyCursor, source, filePath, funcName, rels)
		}
		return

	case "method_definition":
		methodName := ""
		if nameNode := findChildByType(node, "property_identifier"); nameNode != nil {
			methodName = nodeContent(nameNode, source)
		}
		fullName := methodName
		if currentFunc != "" && methodName != "" {
			fullName = currentFunc + "." + methodName
		}

		// Extract within method body
		if body := findChildByType(node, "statement_block"); body != nil {
			bodyCursor := sitter.NewTreeCursor(body)
			defer bodyCursor.Close()
			extractJSRels(bodyCursor, source, filePath, fullName, rels)
		}
		return

	case "arrow_function", "function":
		// Anonymous functions - use parent context
		if body := findChildByType(node, "statement_block"); body != nil {
			bodyCursor := sitter.NewTreeCursor(body)
			defer bodyCursor.Close()
			extractJSRels(bodyCursor, source, filePath, currentFunc, rels)
		}
		return
	}

	// Recurse into children
	if cursor.GoToFirstChild() {
		extractJSRels(cursor, source, filePath, currentFunc, rels)
		for cursor.GoToNextSibling() {
			extractJSRels(cursor, source, filePath, currentFunc, rels)
		}
		cursor.GoToParent()
	}
}

func extractJSCallTarget(node *sitter.Node, source []byte) string {
	switch node.Type() {
	case "identifier":
		return nodeContent(node, source)
	case "member_expression":
		// obj.method - return full expression
		return nodeContent(node, source)
	}
	return ""
}

func findChildByType(node *sitter.Node, nodeType string) *sitter.Node {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == nodeType {
			return child
		}
	}
	return nil
}
