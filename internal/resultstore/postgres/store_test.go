package postgres

import (
	"context"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chainmap/internal/chain"
)

var resultColumns = []string{
	"initial_url", "identifier", "initial_domain", "breadcrumbs", "final_url", "final_domain",
	"final_timestamp", "final_status_code", "final_sha1", "final_mimetype", "final_was_dedupe", "hit", "postproc_status",
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func resultRow(r chain.CrawlResult) []any {
	return []any{
		r.InitialURL, r.Identifier, chain.Ptr(r.InitialDomain), r.Breadcrumbs, r.FinalURL, r.FinalDomain,
		r.FinalTimestamp, r.FinalStatusCode, r.FinalSHA1, r.FinalMimetype, r.FinalWasDedupe, r.Hit, r.PostprocStatus,
	}
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_result").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS crawl_result_initial_url").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS crawl_result_identifier").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS crawl_result_final_sha1").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertWritesAllColumns(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	defer mock.Close()

	r := chain.CrawlResult{
		InitialURL:      "http://a.com/",
		InitialDomain:   "a.com",
		Breadcrumbs:     chain.Ptr("R"),
		FinalURL:        chain.Ptr("http://a.com/x.pdf"),
		FinalDomain:     chain.Ptr("a.com"),
		FinalStatusCode: chain.Ptr(200),
		FinalMimetype:   chain.Ptr("application/pdf"),
		FinalWasDedupe:  chain.Ptr(false),
		Hit:             true,
	}
	mock.ExpectExec("INSERT INTO crawl_result").
		WithArgs(
			r.InitialURL, r.Identifier, r.InitialDomain, r.Breadcrumbs, r.FinalURL, r.FinalDomain,
			r.FinalTimestamp, r.FinalStatusCode, r.FinalSHA1, r.FinalMimetype, r.FinalWasDedupe,
			r.Hit, r.PostprocStatus,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Insert(context.Background(), r))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByInitialURL(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	defer mock.Close()

	want := chain.CrawlResult{
		InitialURL:    "http://a.com/",
		Identifier:    chain.Ptr("id-1"),
		InitialDomain: "a.com",
	}
	query := regexp.QuoteMeta("FROM crawl_result WHERE initial_url = $1 ORDER BY id LIMIT 1")
	mock.ExpectQuery(query).
		WithArgs("http://a.com/").
		WillReturnRows(pgxmock.NewRows(resultColumns).AddRow(resultRow(want)...))
	mock.ExpectQuery(query).
		WithArgs("http://b.com/").
		WillReturnRows(pgxmock.NewRows(resultColumns))

	ctx := context.Background()
	got, ok, err := store.FindByInitialURL(ctx, "http://a.com/")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, got)

	_, ok, err = store.FindByInitialURL(ctx, "http://b.com/")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHasPairAndUpdates(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	defer mock.Close()
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("http://a.com/", "http://a.com/x.pdf").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE crawl_result SET identifier = $1 WHERE initial_url = $2 AND identifier IS NULL")).
		WithArgs("id-1", "http://a.com/").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE crawl_result SET postproc_status = $1 WHERE final_sha1 = $2")).
		WithArgs("grobid-success", "YR6M6GSJYJGMLBBEGCVHLRZO6SISSJAS").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	dup, err := store.HasPair(ctx, "http://a.com/", "http://a.com/x.pdf")
	require.NoError(t, err)
	require.True(t, dup)

	require.NoError(t, store.SetIdentifier(ctx, "http://a.com/", "id-1"))

	n, err := store.SetPostprocStatus(ctx, "YR6M6GSJYJGMLBBEGCVHLRZO6SISSJAS", "grobid-success")
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	require.NoError(t, store.Checkpoint(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIterateOnlyIdentifierHits(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	defer mock.Close()

	rows := []chain.CrawlResult{
		{InitialURL: "http://a.com/", Identifier: chain.Ptr("a"), InitialDomain: "a.com", Hit: true},
		{InitialURL: "http://b.com/", Identifier: chain.Ptr("b"), InitialDomain: "b.com", Hit: true},
	}
	mock.ExpectQuery(regexp.QuoteMeta("WHERE hit AND identifier IS NOT NULL ORDER BY identifier NULLS FIRST, id")).
		WillReturnRows(pgxmock.NewRows(resultColumns).AddRow(resultRow(rows[0])...).AddRow(resultRow(rows[1])...))

	var got []chain.CrawlResult
	for r, err := range store.Iterate(context.Background(), chain.IterateOptions{OnlyIdentifierHits: true}) {
		require.NoError(t, err)
		got = append(got, r)
	}
	require.Equal(t, rows, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "bad-name")
	require.Error(t, err)
	_, err = NewWithPool(nil, "")
	require.Error(t, err)
}
