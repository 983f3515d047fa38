// Package graph answers dependency queries over the file and symbol edge
// tables: direct neighbors, transitive closures, call/type graphs, and the
// impact analysis that decorates edit responses.
package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/randalmurphy/smart-context-mcp/internal/store"
)

// Direction selects which way edges are followed.
type Direction string

const (
	// Downstream follows outgoing edges: what does this file/symbol use.
	Downstream Direction = "downstream"
	// Upstream follows incoming edges: who uses this file/symbol.
	Upstream Direction = "upstream"
)

// Graph wraps the store's edge tables with BFS traversals and a memo for
// transitive closures. Memo entries carry the store's graph generation at
// compute time and are discarded when the generation moves, so a reindex
// of any file invalidates every cached closure.
type Graph struct {
	store *store.Store

	mu   sync.Mutex
	memo map[closureKey]closureEntry
}

type closureKey struct {
	path      string
	direction Direction
	depth     int
}

type closureEntry struct {
	generation int64
	paths      []string
}

// New creates a graph over the store.
func New(s *store.Store) *Graph {
	return &Graph{store: s, memo: make(map[closureKey]closureEntry)}
}

// Direct returns the file edges touching path in the given direction,
// sorted by target path, then source file, then kind for deterministic
// output.
func (g *Graph) Direct(ctx context.Context, path string, direction Direction) ([]store.FileEdge, error) {
	var (
		edges []store.FileEdge
		err   error
	)
	if direction == Upstream {
		edges, err = g.store.FileEdgesTo(ctx, path)
	} else {
		edges, err = g.store.FileEdgesFrom(ctx, path)
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.TargetPath != b.TargetPath {
			return a.TargetPath < b.TargetPath
		}
		if a.SourceFile != b.SourceFile {
			return a.SourceFile < b.SourceFile
		}
		return a.Kind < b.Kind
	})
	return edges, nil
}

// Transitive returns the set of paths reachable from path within maxDepth
// BFS levels, excluding path itself, sorted ascending. Results are
// memoized per (path, direction, depth) until the graph generation moves.
func (g *Graph) Transitive(ctx context.Context, path string, direction Direction, maxDepth int) ([]string, error) {
	if maxDepth <= 0 {
		return nil, nil
	}

	gen, err := g.store.Generation(ctx, "graph")
	if err != nil {
		return nil, err
	}

	key := closureKey{path: path, direction: direction, depth: maxDepth}
	g.mu.Lock()
	if e, ok := g.memo[key]; ok && e.generation == gen {
		g.mu.Unlock()
		return append([]string(nil), e.paths...), nil
	}
	g.mu.Unlock()

	visited := map[string]bool{path: true}
	frontier := []string{path}
	var reached []string

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, p := range frontier {
			edges, err := g.Direct(ctx, p, direction)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				target := e.TargetPath
				if direction == Upstream {
					target = e.SourceFile
				}
				if visited[target] {
					continue
				}
				visited[target] = true
				reached = append(reached, target)
				next = append(next, target)
			}
		}
		frontier = next
	}

	sort.Strings(reached)

	g.mu.Lock()
	g.memo[key] = closureEntry{generation: gen, paths: append([]string(nil), reached...)}
	g.mu.Unlock()

	return reached, nil
}

// Node is a symbol-graph vertex.
type Node struct {
	Name string `json:"name"`
	File string `json:"file,omitempty"`
}

// Edge is a symbol-graph edge with its relation kind.
type Edge struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Relation string `json:"relation"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
}

// SymbolCallGraph walks calls edges from a symbol, up to maxDepth levels.
func (g *Graph) SymbolCallGraph(ctx context.Context, symbol string, direction Direction, maxDepth int) ([]Node, []Edge, error) {
	return g.symbolWalk(ctx, symbol, direction, maxDepth, map[string]bool{"calls": true})
}

// TypeGraph walks type-shaped edges (extends, implements, uses_type).
func (g *Graph) TypeGraph(ctx context.Context, symbol string, direction Direction, maxDepth int) ([]Node, []Edge, error) {
	return g.symbolWalk(ctx, symbol, direction, maxDepth, map[string]bool{
		"extends": true, "implements": true, "uses_type": true,
	})
}

// symbolWalk is the shared BFS over symbol edges, filtered by relation
// kind, with deterministic (sorted) expansion order.
func (g *Graph) symbolWalk(ctx context.Context, symbol string, direction Direction, maxDepth int, kinds map[string]bool) ([]Node, []Edge, error) {
	if maxDepth <= 0 {
		maxDepth = 1
	}

	visited := map[string]bool{symbol: true}
	nodes := []Node{{Name: symbol}}
	var edges []Edge
	frontier := []string{symbol}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, name := range frontier {
			var raw []store.SymbolEdge
			var err error
			if direction == Upstream {
				raw, err = g.store.SymbolEdgesTo(ctx, name)
			} else {
				raw, err = g.store.SymbolEdgesFrom(ctx, name)
			}
			if err != nil {
				return nil, nil, err
			}

			sort.Slice(raw, func(i, j int) bool {
				a, b := raw[i], raw[j]
				if a.TargetName != b.TargetName {
					return a.TargetName < b.TargetName
				}
				if a.SourceName != b.SourceName {
					return a.SourceName < b.SourceName
				}
				return a.Line < b.Line
			})

			for _, e := range raw {
				if !kinds[e.Kind] {
					continue
				}
				edges = append(edges, Edge{
					From:     e.SourceName,
					To:       e.TargetName,
					Relation: e.Kind,
					File:     e.SourceFile,
					Line:     e.Line,
				})
				other := e.TargetName
				if direction == Upstream {
					other = e.SourceName
				}
				if visited[other] {
					continue
				}
				visited[other] = true
				nodes = append(nodes, Node{Name: other, File: edgeFile(e, direction)})
				next = append(next, other)
			}
		}
		frontier = next
	}

	return nodes, edges, nil
}

func edgeFile(e store.SymbolEdge, direction Direction) string {
	if direction == Upstream {
		return e.SourceFile
	}
	// The target symbol's defining file is not recorded on the edge; the
	// router resolves it against the symbols table when needed.
	return ""
}

// DataFlow approximates where a variable's value travels from a starting
// location: it finds the symbol enclosing (file, line), then follows calls
// and uses_type edges outward up to maxSteps, reporting each hop. This is
// a structural walk over the stored graph, not a dataflow solver; it gives
// the agent the set of functions the value can plausibly reach.
func (g *Graph) DataFlow(ctx context.Context, variable, file string, line, maxSteps int) ([]Node, []Edge, error) {
	if maxSteps <= 0 {
		maxSteps = 3
	}

	syms, err := g.store.SymbolsForFile(ctx, file)
	if err != nil {
		return nil, nil, err
	}

	enclosing := ""
	for _, s := range syms {
		if line >= s.StartLine && line <= s.EndLine {
			enclosing = s.Name
			// Prefer the innermost enclosing symbol.
		}
	}
	if enclosing == "" {
		return nil, nil, fmt.Errorf("no symbol encloses %s:%d", file, line)
	}

	nodes, edges, err := g.symbolWalk(ctx, enclosing, Downstream, maxSteps, map[string]bool{
		"calls": true, "uses_type": true,
	})
	if err != nil {
		return nil, nil, err
	}

	// The variable itself heads the result so the caller sees what the
	// walk was anchored on.
	nodes = append([]Node{{Name: variable, File: file}}, nodes...)
	return nodes, edges, nil
}
