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

// BackwardResolution is the root reached from a terminal edge.
type BackwardResolution struct {
	Root ReferrerEdge
	Hops int
	Loop bool
}

// BackwardResolver walks referrer links from a terminal edge up to its root.
type BackwardResolver struct {
	graph Graph
}

// NewBackwardResolver constructs a resolver over a sealed graph.
func NewBackwardResolver(graph Graph) *BackwardResolver {
	return &BackwardResolver{graph: graph}
}

// Resolve follows referrers until an edge has none, the referrer is not in the graph,
// or a referrer repeats. On a repeat the current edge is reported as root with Loop set.
func (r *BackwardResolver) Resolve(ctx context.Context, terminal ReferrerEdge) (BackwardResolution, error) {
	current := terminal
	visited := make(map[string]struct{})
	hops := 0
	for current.HasReferrer() {
		parent, ok, err := r.graph.LookupEdge(ctx, current.ReferrerURL)
		if err != nil {
			return BackwardResolution{}, fmt.Errorf("lookup referrer %q: %w", current.ReferrerURL, err)
		}
		if !ok {
			break
		}
		if _, seen := visited[current.ReferrerURL]; seen {
			return BackwardResolution{Root: current, Hops: hops, Loop: true}, nil
		}
		visited[current.ReferrerURL] = struct{}{}
		current = parent
		hops++
	}
	return BackwardResolution{Root: current, Hops: hops}, nil
}

type backwardPass struct {
	graph        Graph
	resolver     *BackwardResolver
	materializer *Materializer
	opts         Options
	counters     Counters
	logger       *zap.Logger
}

const passBackward = "backward"

func (p *backwardPass) run(ctx context.Context, hits iter.Seq2[Hit, error]) error {
	seen := 0
	for hit, err := range hits {
		if err != nil {
			if skip, ok := AsSkip(err); ok {
				p.count(skip.Reason)
				p.logger.Debug("skipping record", zap.String("reason", skip.Reason), zap.String("detail", skip.Detail))
				continue
			}
			return fmt.Errorf("read hits: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.handle(ctx, hit); err != nil {
			return err
		}
		seen++
		if p.opts.ProgressEvery > 0 && seen%p.opts.ProgressEvery == 0 {
			p.logger.Info("backward progress", zap.Int("records", seen), zap.Int("inserted", p.counters[CounterInserted]))
		}
	}
	return p.materializer.Flush(ctx)
}

func (p *backwardPass) handle(ctx context.Context, hit Hit) error {
	if isPrereq(hit.URL) {
		p.count(PrereqCounter(hit.Source))
		return nil
	}
	admitted := p.opts.Scope.Admits(hit.StatusCode, hit.Mimetype) ||
		(hit.Source == HitSourceCDX && hit.Mimetype == mimetype.Revisit)
	if !admitted {
		p.count(ScopeCounter(hit.Source))
		return nil
	}
	if hit.Mimetype == mimetype.OctetStream && hit.Size >= 0 && hit.Size < p.opts.TinyOctetStreamBytes {
		p.count(CounterTinyOctetStream)
		return nil
	}
	if (hit.Source == HitSourceLog && hit.Size == 0) || hit.SHA1 == EmptySHA1 {
		p.count(CounterEmptyFile)
		return nil
	}

	url, err := urlnorm.Normalize(hit.URL)
	if err != nil {
		p.count(CounterBadURL)
		return nil
	}
	terminal, ok, err := p.graph.LookupEdge(ctx, url)
	if err != nil {
		return fmt.Errorf("lookup terminal %q: %w", url, err)
	}
	if !ok {
		p.count(CounterMapURLMissing)
		p.logger.Debug("terminal url missing from map", zap.String("url", url))
		return nil
	}
	if !p.opts.Scope.Admits(terminal.StatusCode, terminal.Mimetype) {
		p.count(CounterMapScope)
		return nil
	}

	res, err := p.resolver.Resolve(ctx, terminal)
	if err != nil {
		return err
	}
	if res.Loop {
		p.count(CounterRedirectLoop)
		p.logger.Debug("redirect loop", zap.String("terminal", terminal.URL), zap.String("root", res.Root.URL))
	}
	p.opts.Observer.ObserveChain(passBackward, res.Hops)

	row := CrawlResult{
		InitialURL:      res.Root.URL,
		InitialDomain:   urlnorm.Host(res.Root.URL),
		Breadcrumbs:     Ptr(terminal.Breadcrumbs),
		FinalURL:        Ptr(terminal.URL),
		FinalDomain:     Ptr(urlnorm.Host(terminal.URL)),
		FinalTimestamp:  OptionalString(hit.Timestamp),
		FinalStatusCode: Ptr(terminal.StatusCode),
		FinalSHA1:       OptionalString(hit.SHA1),
		FinalMimetype:   Ptr(terminal.Mimetype),
		FinalWasDedupe:  Ptr(terminal.IsDedupe),
		Hit:             true,
	}
	return p.materializer.InsertHit(ctx, row)
}

func (p *backwardPass) count(outcome string) {
	p.materializer.count(outcome)
}

func isPrereq(url string) bool {
	return strings.HasPrefix(url, "dns:") || strings.HasPrefix(url, "whois:")
}
