// Package parser is the default concrete implementation of the pluggable
// AST parser backend the search/graph/chunk layers depend on: given a file's
// bytes, it returns a canonical Symbol/Relationship structure. Swapping in a
// different backend (another language, a language-server-backed one) only
// requires satisfying the same Backend interface.
package parser

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Language is a supported source language.
type Language string

const (
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
)

// SymbolKind mirrors the Symbol.kind enum from the data model:
// {function, method, class, interface, type, variable, constant}.
type SymbolKind string

const (
	SymbolFunction  SymbolKind = "function"
	SymbolMethod    SymbolKind = "method"
	SymbolClass     SymbolKind = "class"
	SymbolInterface SymbolKind = "interface"
	SymbolType      SymbolKind = "type"
	SymbolVariable  SymbolKind = "variable"
	SymbolConstant  SymbolKind = "constant"
)

// Symbol is a parsed code symbol: name, kind, file-relative range, and
// enough surrounding detail (signature, docstring, parent) to build a chunk
// or a graph node from it.
type Symbol struct {
	Name      string
	Kind      SymbolKind
	FilePath  string
	StartLine int
	EndLine   int
	Content   string
	Docstring string
	Parent    string // enclosing class/module name, if any
	Signature string
}

// Backend is the contract a pluggable parser implementation must satisfy.
type Backend interface {
	Parse(source []byte, filePath string) (*ParseResult, error)
}

// Parser wraps a tree-sitter grammar for one language and implements Backend.
type Parser struct {
	language Language
	parser   *sitter.Parser
	lang     *sitter.Language
}

// NewParser creates a parser for the given language.
func NewParser(lang Language) (*Parser, error) {
	p := sitter.NewParser()

	var l *sitter.Language
	switch lang {
	case LanguagePython:
		l = getPythonLanguage()
	case LanguageJavaScript, LanguageTypeScript:
		l = getJavaScriptLanguage()
	default:
		return nil, fmt.Errorf("unsupported language: %s", lang)
	}

	p.SetLanguage(l)

	return &Parser{language: lang, parser: p, lang: l}, nil
}

// Parse implements Backend: parses source and returns symbols plus the
// relationships discoverable from a single-file AST walk. Full call and
// type resolution across files happens later in the dependency graph,
// not here.
func (p *Parser) Parse(source []byte, filePath string) (*ParseResult, error) {
	tree, err := p.parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filePath, err)
	}
	defer tree.Close()

	var symbols []Symbol
	var rels []Relationship

	switch p.language {
	case LanguagePython:
		symbols, err = extractPythonSymbols(tree.RootNode(), source, filePath)
		rels = extractPythonRelationships(tree.RootNode(), source, filePath)
	case LanguageJavaScript, LanguageTypeScript:
		symbols, err = extractJavaScriptSymbols(tree.RootNode(), source, filePath)
		rels = extractJavaScriptRelationships(tree.RootNode(), source, filePath)
	default:
		return nil, fmt.Errorf("extraction not implemented for: %s", p.language)
	}
	if err != nil {
		return nil, err
	}

	return &ParseResult{Symbols: symbols, Relationships: rels}, nil
}

// DetectLanguage determines language from file extension; ok is false for
// anything the default backend doesn't cover (those files still get
// file-header-only code chunks or plain-text chunking upstream).
func DetectLanguage(filePath string) (Language, bool) {
	switch {
	case hasExtension(filePath, ".py"):
		return LanguagePython, true
	case hasExtension(filePath, ".js", ".jsx", ".mjs", ".cjs"):
		return LanguageJavaScript, true
	case hasExtension(filePath, ".ts", ".tsx"):
		return LanguageTypeScript, true
	default:
		return "", false
	}
}

func hasExtension(path string, exts ...string) bool {
	for _, ext := range exts {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
