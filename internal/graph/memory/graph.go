// Package memory provides an in-process referrer graph for small logs and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/chainmap/internal/chain"
)

// Graph stores edges in insertion order with url and referrer indexes. It serves as
// both the Builder and, once sealed, the Graph.
type Graph struct {
	mu       sync.RWMutex
	edges    []chain.ReferrerEdge
	byURL    map[string]int
	children map[string][]int
	sealed   bool
}

// New constructs an empty graph.
func New() *Graph {
	return &Graph{
		byURL:    make(map[string]int),
		children: make(map[string][]int),
	}
}

// Append records an edge.
func (g *Graph) Append(_ context.Context, edge chain.ReferrerEdge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sealed {
		return chain.ErrSealed
	}
	idx := len(g.edges)
	g.edges = append(g.edges, edge)
	if _, ok := g.byURL[edge.URL]; !ok {
		g.byURL[edge.URL] = idx
	}
	if edge.HasReferrer() {
		g.children[edge.ReferrerURL] = append(g.children[edge.ReferrerURL], idx)
	}
	return nil
}

// Seal freezes the graph.
func (g *Graph) Seal(_ context.Context) (chain.Graph, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sealed = true
	return g, nil
}

// Len returns the number of stored edges.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// LookupEdge returns the first edge recorded for url.
func (g *Graph) LookupEdge(_ context.Context, url string) (chain.ReferrerEdge, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.sealed {
		return chain.ReferrerEdge{}, false, chain.ErrNotBuilt
	}
	idx, ok := g.byURL[url]
	if !ok {
		return chain.ReferrerEdge{}, false, nil
	}
	return g.edges[idx], true, nil
}

// LookupChildren returns the edges referred by referrer in insertion order.
func (g *Graph) LookupChildren(_ context.Context, referrer string) ([]chain.ReferrerEdge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.sealed {
		return nil, chain.ErrNotBuilt
	}
	if referrer == "" {
		return nil, nil
	}
	idxs := g.children[referrer]
	if len(idxs) == 0 {
		return nil, nil
	}
	out := make([]chain.ReferrerEdge, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, g.edges[idx])
	}
	return out, nil
}
