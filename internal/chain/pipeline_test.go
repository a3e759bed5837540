package chain_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chainmap/internal/chain"
	resultmemory "github.com/JakeFAU/chainmap/internal/resultstore/memory"
)

func TestRunPhaseOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := resultmemory.New()

	run := chain.NewRun(chain.DefaultOptions())
	require.Equal(t, chain.PhaseEmpty, run.Phase())

	_, err := run.Forward(ctx, stream[chain.Seed](), store)
	require.True(t, errors.Is(err, chain.ErrPhase))
	require.True(t, errors.Is(err, chain.ErrNotBuilt))

	_, err = run.Backward(ctx, stream[chain.Hit](), store)
	require.True(t, errors.Is(err, chain.ErrNotBuilt))

	require.True(t, errors.Is(run.Finish(), chain.ErrPhase))

	_, err = run.Build(ctx, memoryBuilder(), stream[chain.ReferrerEdge]())
	require.NoError(t, err)
	require.Equal(t, chain.PhaseBuilt, run.Phase())
	require.NotNil(t, run.Graph())

	_, err = run.Build(ctx, memoryBuilder(), stream[chain.ReferrerEdge]())
	require.True(t, errors.Is(err, chain.ErrPhase))
	require.True(t, errors.Is(run.Attach(run.Graph()), chain.ErrPhase))

	_, err = run.Backward(ctx, stream[chain.Hit](), store)
	require.NoError(t, err)
	require.Equal(t, chain.PhaseResolving, run.Phase())
	_, err = run.Forward(ctx, stream[chain.Seed](), store)
	require.NoError(t, err)

	require.NoError(t, run.Finish())
	require.Equal(t, chain.PhaseDone, run.Phase())
	_, err = run.Forward(ctx, stream[chain.Seed](), store)
	require.True(t, errors.Is(err, chain.ErrPhase))
	require.False(t, errors.Is(err, chain.ErrNotBuilt))
}

func TestRunBuildStopsOnReadError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	boom := errors.New("disk on fire")
	run := chain.NewRun(chain.DefaultOptions())
	counters, err := run.Build(ctx, memoryBuilder(), stream[chain.ReferrerEdge](
		chain.ReferrerEdge{URL: "http://a.com/"},
		&chain.Skip{Reason: "skip-bad-log-line", Detail: "3 fields"},
		boom,
		chain.ReferrerEdge{URL: "http://b.com/"},
	))
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, counters[chain.CounterInserted])
	require.Equal(t, 1, counters["skip-bad-log-line"])
	require.Equal(t, chain.PhaseBuilding, run.Phase())
}

func TestRunBuildNormalizesReferrers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	run := chain.NewRun(chain.DefaultOptions())
	_, err := run.Build(ctx, memoryBuilder(), stream[chain.ReferrerEdge](
		chain.ReferrerEdge{URL: "HTTP://A.com:80/"},
		chain.ReferrerEdge{URL: "http://a.com/x", ReferrerURL: "http://A.COM/"},
		chain.ReferrerEdge{URL: "http://a.com/y", ReferrerURL: "weird referrer"},
	))
	require.NoError(t, err)

	g := run.Graph()
	_, ok, err := g.LookupEdge(ctx, "http://a.com/")
	require.NoError(t, err)
	require.True(t, ok)

	children, err := g.LookupChildren(ctx, "http://a.com/")
	require.NoError(t, err)
	require.Len(t, children, 1)

	raw, err := g.LookupChildren(ctx, "weird referrer")
	require.NoError(t, err)
	require.Len(t, raw, 1)
}

func TestCountersString(t *testing.T) {
	t.Parallel()

	c := chain.NewCounters()
	c.Inc("b")
	c.Merge(chain.Counters{"a": 2, "b": 1})
	require.Equal(t, "a=2 b=2 inserted=0", c.String())
}

func TestSkipError(t *testing.T) {
	t.Parallel()

	err := chain.Skipf("skip-bad-cdx-line", "%d fields", 4)
	require.Equal(t, "skip-bad-cdx-line: 4 fields", err.Error())
	wrapped := errors.Join(errors.New("context"), err)
	skip, ok := chain.AsSkip(wrapped)
	require.True(t, ok)
	require.Equal(t, "skip-bad-cdx-line", skip.Reason)
}
