package chain

import (
	"context"
	"iter"
)

// Builder ingests referrer edges during the build phase. Seal finishes indexing and
// hands back a read-only Graph; Append after Seal fails with ErrSealed.
type Builder interface {
	Append(ctx context.Context, edge ReferrerEdge) error
	Seal(ctx context.Context) (Graph, error)
}

// Graph answers read-only lookups over a sealed referrer graph.
type Graph interface {
	// LookupEdge returns the first inserted edge for url.
	LookupEdge(ctx context.Context, url string) (ReferrerEdge, bool, error)
	// LookupChildren returns every edge whose referrer equals referrer, in insertion
	// order. An empty referrer never matches.
	LookupChildren(ctx context.Context, referrer string) ([]ReferrerEdge, error)
}

// ResultStore persists CrawlResult rows keyed by initial URL.
type ResultStore interface {
	FindByInitialURL(ctx context.Context, initialURL string) (CrawlResult, bool, error)
	HasPair(ctx context.Context, initialURL, finalURL string) (bool, error)
	Insert(ctx context.Context, result CrawlResult) error
	SetIdentifier(ctx context.Context, initialURL, identifier string) error
	// SetPostprocStatus updates every row with the given final sha1 and returns the
	// number of rows touched.
	SetPostprocStatus(ctx context.Context, sha1, status string) (int64, error)
	// Iterate streams rows ordered by identifier, then insertion order.
	Iterate(ctx context.Context, opts IterateOptions) iter.Seq2[CrawlResult, error]
	// Checkpoint makes pending writes durable.
	Checkpoint(ctx context.Context) error
	Close() error
}

// IterateOptions filters ResultStore.Iterate.
type IterateOptions struct {
	// OnlyIdentifierHits restricts output to hit rows with an identifier.
	OnlyIdentifierHits bool
}

// Observer receives per-record outcomes, typically to feed metrics.
type Observer interface {
	ObserveOutcome(pass, outcome string)
	ObserveChain(pass string, hops int)
}

type nopObserver struct{}

func (nopObserver) ObserveOutcome(string, string) {}
func (nopObserver) ObserveChain(string, int)      {}

// NopObserver discards every observation.
func NopObserver() Observer {
	return nopObserver{}
}
