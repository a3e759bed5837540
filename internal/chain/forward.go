package chain

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/chainmap/internal/mimetype"
	"github.com/JakeFAU/chainmap/internal/urlnorm"
)

// DefaultForwardMaxHops bounds forward descent.
const DefaultForwardMaxHops = 40

// ForwardResolution is the terminal reached from a seed edge.
type ForwardResolution struct {
	Terminal     ReferrerEdge
	Hops         int
	LimitReached bool
}

// ForwardResolver descends from a seed edge through its fan-out children.
type ForwardResolver struct {
	graph   Graph
	maxHops int
}

// NewForwardResolver constructs a resolver. A non-positive maxHops uses
// DefaultForwardMaxHops.
func NewForwardResolver(graph Graph, maxHops int) *ForwardResolver {
	if maxHops <= 0 {
		maxHops = DefaultForwardMaxHops
	}
	return &ForwardResolver{graph: graph, maxHops: maxHops}
}

// Resolve moves from first to a selected child until no child qualifies or the hop
// budget is spent.
func (r *ForwardResolver) Resolve(ctx context.Context, first ReferrerEdge) (ForwardResolution, error) {
	current := first
	remaining := r.maxHops
	hops := 0
	for {
		children, err := r.graph.LookupChildren(ctx, current.URL)
		if err != nil {
			return ForwardResolution{}, fmt.Errorf("lookup children %q: %w", current.URL, err)
		}
		next, ok := SelectChild(children)
		if !ok {
			return ForwardResolution{Terminal: current, Hops: hops}, nil
		}
		current = next
		hops++
		remaining--
		if remaining <= 0 {
			return ForwardResolution{Terminal: current, Hops: hops, LimitReached: true}, nil
		}
	}
}

// SelectChild picks the next hop among fan-out children. Embeds, errors and
// cross-domain redirects (breadcrumb codes E, X, I) are skipped unless they carry a
// fulltext payload. The last admitted child wins.
func SelectChild(children []ReferrerEdge) (ReferrerEdge, bool) {
	var (
		selected ReferrerEdge
		found    bool
	)
	for _, child := range children {
		if strings.ContainsAny(child.Breadcrumbs, "EXI") && !mimetype.IsFulltext(child.Mimetype) {
			continue
		}
		selected, found = child, true
	}
	return selected, found
}

type forwardPass struct {
	graph        Graph
	resolver     *ForwardResolver
	materializer *Materializer
	opts         Options
	counters     Counters
	logger       *zap.Logger
}

const passForward = "forward"

func (p *forwardPass) run(ctx context.Context, seeds iter.Seq2[Seed, error]) error {
	seen := 0
	for seed, err := range seeds {
		if err != nil {
			if skip, ok := AsSkip(err); ok {
				p.materializer.count(skip.Reason)
				p.logger.Debug("skipping seed", zap.String("reason", skip.Reason), zap.String("detail", skip.Detail))
				continue
			}
			return fmt.Errorf("read seeds: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.handle(ctx, seed); err != nil {
			return err
		}
		seen++
		if p.opts.ProgressEvery > 0 && seen%p.opts.ProgressEvery == 0 {
			p.logger.Info("forward progress", zap.Int("seeds", seen), zap.Int("inserted", p.counters[CounterInserted]))
		}
	}
	return p.materializer.Flush(ctx)
}

func (p *forwardPass) handle(ctx context.Context, seed Seed) error {
	url, err := urlnorm.Normalize(seed.URL)
	if err != nil {
		p.materializer.count(CounterBadSeedURL)
		return nil
	}
	if url != seed.URL {
		p.materializer.count(CounterNormalizedSeedURL)
	}

	existed, err := p.materializer.Existing(ctx, url, seed.Identifier)
	if err != nil || existed {
		return err
	}

	first, ok, err := p.graph.LookupEdge(ctx, url)
	if err != nil {
		return fmt.Errorf("lookup seed %q: %w", url, err)
	}
	if !ok {
		p.materializer.count(CounterMapURLMissing)
		return p.materializer.Insert(ctx, CrawlResult{
			InitialURL:    url,
			Identifier:    OptionalString(seed.Identifier),
			InitialDomain: urlnorm.Host(url),
		})
	}

	res, err := p.resolver.Resolve(ctx, first)
	if err != nil {
		return err
	}
	if res.LimitReached {
		p.materializer.count(CounterRecursionLimit)
		p.logger.Debug("forward hop limit reached", zap.String("seed", url), zap.String("stopped_at", res.Terminal.URL))
	}
	p.opts.Observer.ObserveChain(passForward, res.Hops)

	final := res.Terminal
	return p.materializer.Insert(ctx, CrawlResult{
		InitialURL:      url,
		Identifier:      OptionalString(seed.Identifier),
		InitialDomain:   urlnorm.Host(url),
		Breadcrumbs:     Ptr(final.Breadcrumbs),
		FinalURL:        Ptr(final.URL),
		FinalDomain:     Ptr(urlnorm.Host(final.URL)),
		FinalStatusCode: Ptr(final.StatusCode),
		FinalMimetype:   Ptr(final.Mimetype),
		FinalWasDedupe:  Ptr(final.IsDedupe),
	})
}
