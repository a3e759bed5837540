package chain

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/JakeFAU/chainmap/internal/urlnorm"
)

// Phase is a stage of a Run.
type Phase int

// Run phases, in the only order they may be visited.
const (
	PhaseEmpty Phase = iota
	PhaseBuilding
	PhaseBuilt
	PhaseResolving
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseEmpty:
		return "empty"
	case PhaseBuilding:
		return "building"
	case PhaseBuilt:
		return "built"
	case PhaseResolving:
		return "resolving"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Options tunes a Run.
type Options struct {
	Scope                Scope
	ForwardMaxHops       int
	TinyOctetStreamBytes int64
	CheckpointEvery      int
	ProgressEvery        int
	Observer             Observer
	Logger               *zap.Logger
}

// DefaultOptions returns the fulltext scope with the stock thresholds.
func DefaultOptions() Options {
	scope, _ := NewScope("fulltext", nil)
	return Options{
		Scope:                scope,
		ForwardMaxHops:       DefaultForwardMaxHops,
		TinyOctetStreamBytes: 1000,
		CheckpointEvery:      2000,
		ProgressEvery:        5000,
	}
}

// Run sequences graph construction and resolution. The graph is built, or attached,
// exactly once; resolution passes run only against the sealed graph.
type Run struct {
	opts   Options
	phase  Phase
	graph  Graph
	logger *zap.Logger
}

// NewRun constructs a Run in PhaseEmpty.
func NewRun(opts Options) *Run {
	if opts.Observer == nil {
		opts.Observer = NopObserver()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Run{opts: opts, logger: opts.Logger.Named("chain")}
}

// Phase reports the current phase.
func (r *Run) Phase() Phase {
	return r.phase
}

// Graph returns the sealed graph, or nil before PhaseBuilt.
func (r *Run) Graph() Graph {
	return r.graph
}

// Build streams edges into builder and seals it. Edge and referrer URLs are normalized
// here; an edge whose URL does not normalize is skipped, an unparsable referrer is kept
// verbatim.
func (r *Run) Build(ctx context.Context, builder Builder, edges iter.Seq2[ReferrerEdge, error]) (Counters, error) {
	if r.phase != PhaseEmpty {
		return nil, fmt.Errorf("%w: build in %s", ErrPhase, r.phase)
	}
	r.phase = PhaseBuilding
	counters := NewCounters()
	logger := r.logger.With(zap.String("pass", "referrer"))

	n := 0
	for edge, err := range edges {
		if err != nil {
			if skip, ok := AsSkip(err); ok {
				counters.Inc(skip.Reason)
				logger.Debug("skipping record", zap.String("reason", skip.Reason), zap.String("detail", skip.Detail))
				continue
			}
			return counters, fmt.Errorf("read edges: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return counters, err
		}
		if isPrereq(edge.URL) {
			counters.Inc(PrereqCounter(HitSourceLog))
			continue
		}
		url, err := urlnorm.Normalize(edge.URL)
		if err != nil {
			counters.Inc(CounterBadURL)
			continue
		}
		edge.URL = url
		if edge.HasReferrer() {
			if ref, err := urlnorm.Normalize(edge.ReferrerURL); err == nil {
				edge.ReferrerURL = ref
			}
		}
		if err := builder.Append(ctx, edge); err != nil {
			return counters, fmt.Errorf("append edge %q: %w", edge.URL, err)
		}
		counters.Inc(CounterInserted)
		n++
		if r.opts.ProgressEvery > 0 && n%r.opts.ProgressEvery == 0 {
			logger.Info("referrer progress", zap.Int("edges", n))
		}
	}

	logger.Info("sealing referrer graph", zap.Int("edges", n))
	graph, err := builder.Seal(ctx)
	if err != nil {
		return counters, fmt.Errorf("seal graph: %w", err)
	}
	r.graph = graph
	r.phase = PhaseBuilt
	return counters, nil
}

// Attach adopts a graph sealed by an earlier run.
func (r *Run) Attach(graph Graph) error {
	if r.phase != PhaseEmpty {
		return fmt.Errorf("%w: attach in %s", ErrPhase, r.phase)
	}
	if graph == nil {
		return ErrNotBuilt
	}
	r.graph = graph
	r.phase = PhaseBuilt
	return nil
}

// Backward maps every in-scope hit to the root of its referrer chain.
func (r *Run) Backward(ctx context.Context, hits iter.Seq2[Hit, error], store ResultStore) (Counters, error) {
	if err := r.beginResolving("backward"); err != nil {
		return nil, err
	}
	counters := NewCounters()
	logger := r.logger.With(zap.String("pass", passBackward))
	p := &backwardPass{
		graph:        r.graph,
		resolver:     NewBackwardResolver(r.graph),
		materializer: NewMaterializer(store, r.opts.Scope, counters, r.opts.Observer, passBackward, r.opts.CheckpointEvery, logger),
		opts:         r.opts,
		counters:     counters,
		logger:       logger,
	}
	if err := p.run(ctx, hits); err != nil {
		return counters, err
	}
	logger.Info("backward pass complete", zap.Stringer("counters", counters))
	return counters, nil
}

// Forward maps every seed to the terminal of its fan-out chain, writing exactly one row
// per distinct seed.
func (r *Run) Forward(ctx context.Context, seeds iter.Seq2[Seed, error], store ResultStore) (Counters, error) {
	if err := r.beginResolving("forward"); err != nil {
		return nil, err
	}
	counters := NewCounters()
	logger := r.logger.With(zap.String("pass", passForward))
	p := &forwardPass{
		graph:        r.graph,
		resolver:     NewForwardResolver(r.graph, r.opts.ForwardMaxHops),
		materializer: NewMaterializer(store, r.opts.Scope, counters, r.opts.Observer, passForward, r.opts.CheckpointEvery, logger),
		opts:         r.opts,
		counters:     counters,
		logger:       logger,
	}
	if err := p.run(ctx, seeds); err != nil {
		return counters, err
	}
	logger.Info("forward pass complete", zap.Stringer("counters", counters))
	return counters, nil
}

// Finish moves the run to PhaseDone. No further operations are accepted.
func (r *Run) Finish() error {
	if r.phase != PhaseBuilt && r.phase != PhaseResolving {
		return fmt.Errorf("%w: finish in %s", ErrPhase, r.phase)
	}
	r.phase = PhaseDone
	return nil
}

func (r *Run) beginResolving(pass string) error {
	switch r.phase {
	case PhaseBuilt, PhaseResolving:
		r.phase = PhaseResolving
		return nil
	case PhaseEmpty, PhaseBuilding:
		return fmt.Errorf("%w: %s in %s: %w", ErrPhase, pass, r.phase, ErrNotBuilt)
	default:
		return fmt.Errorf("%w: %s in %s", ErrPhase, pass, r.phase)
	}
}
