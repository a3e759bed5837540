package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/chainmap/internal/chain"
	"github.com/JakeFAU/chainmap/internal/sqlitedb"
)

func TestGraphBuildSealReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "map.sqlite")
	db, err := sqlitedb.Open(ctx, path)
	require.NoError(t, err)

	_, err = Open(ctx, db)
	require.True(t, errors.Is(err, chain.ErrNotBuilt))

	b, err := NewBuilder(ctx, db, 2, zap.NewNop())
	require.NoError(t, err)
	edges := []chain.ReferrerEdge{
		{URL: "http://a.com/", StatusCode: 302, Breadcrumbs: "-", Mimetype: "text/html"},
		{URL: "http://a.com/x.pdf", ReferrerURL: "http://a.com/", StatusCode: 200, Breadcrumbs: "R", Mimetype: "application/pdf", IsDedupe: true},
		{URL: "http://a.com/y", ReferrerURL: "http://a.com/", StatusCode: 200, Breadcrumbs: "L", Mimetype: "text/html"},
		{URL: "http://a.com/", StatusCode: 200, Breadcrumbs: "-", Mimetype: "text/html"},
		{URL: "http://a.com/z", ReferrerURL: "http://a.com/", StatusCode: 404, Breadcrumbs: "E", Mimetype: "text/html"},
	}
	for _, e := range edges {
		require.NoError(t, b.Append(ctx, e))
	}

	_, _, err = b.LookupEdge(ctx, "http://a.com/")
	require.True(t, errors.Is(err, chain.ErrNotBuilt))

	g, err := b.Seal(ctx)
	require.NoError(t, err)
	require.True(t, errors.Is(b.Append(ctx, edges[0]), chain.ErrSealed))

	assertLookups := func(g chain.Graph) {
		first, ok, err := g.LookupEdge(ctx, "http://a.com/")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, 302, first.StatusCode)
		require.Empty(t, first.ReferrerURL)

		children, err := g.LookupChildren(ctx, "http://a.com/")
		require.NoError(t, err)
		require.Len(t, children, 3)
		require.Equal(t, edges[1], children[0])
		require.Equal(t, "http://a.com/y", children[1].URL)
		require.Equal(t, "http://a.com/z", children[2].URL)

		none, err := g.LookupChildren(ctx, "")
		require.NoError(t, err)
		require.Empty(t, none)

		_, ok, err = g.LookupEdge(ctx, "http://nowhere/")
		require.NoError(t, err)
		require.False(t, ok)
	}
	assertLookups(g)
	require.NoError(t, db.Close())

	db, err = sqlitedb.Open(ctx, path)
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()
	reopened, err := Open(ctx, db)
	require.NoError(t, err)
	assertLookups(reopened)
}

func TestGraphCloseRollsBackUnsealedBuild(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, err := sqlitedb.Open(ctx, sqlitedb.Memory)
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()

	b, err := NewBuilder(ctx, db, 0, nil)
	require.NoError(t, err)
	require.NoError(t, b.Append(ctx, chain.ReferrerEdge{URL: "http://a.com/"}))
	require.NoError(t, b.Close())

	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT count(*) FROM referrer").Scan(&n))
	require.Zero(t, n)
}
