package report_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/chainmap/internal/chain"
	"github.com/JakeFAU/chainmap/internal/crawllog"
	pubmemory "github.com/JakeFAU/chainmap/internal/export/memory"
	"github.com/JakeFAU/chainmap/internal/report"
	"github.com/JakeFAU/chainmap/internal/resultstore/memory"
)

const (
	sha1A = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	sha1B = "BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
	sha1C = "CCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC"
)

func row(initial, identifier, sha1 string, hit bool) chain.CrawlResult {
	r := chain.CrawlResult{
		InitialURL:    initial,
		InitialDomain: "example.com",
		FinalURL:      chain.Ptr(initial + "final.pdf"),
		Hit:           hit,
	}
	if identifier != "" {
		r.Identifier = chain.Ptr(identifier)
	}
	if sha1 != "" {
		r.FinalSHA1 = chain.Ptr(sha1)
	}
	return r
}

func seeded(t *testing.T, rows ...chain.CrawlResult) *memory.Store {
	t.Helper()
	store := memory.New()
	for _, r := range rows {
		require.NoError(t, store.Insert(context.Background(), r))
	}
	return store
}

func TestPostprocess(t *testing.T) {
	t.Parallel()

	store := seeded(t,
		row("http://example.com/1/", "a", sha1A, true),
		row("http://example.com/2/", "b", sha1A, true),
		row("http://example.com/3/", "c", sha1B, true),
	)
	input := strings.Join([]string{
		"sha1:" + sha1A + "\tsuccess",
		sha1B + "\t parse-error ",
		sha1C + "\tsuccess",
		"",
		"short\tsuccess",
		"no-tab-here",
	}, "\n")

	counters, err := report.Postprocess(context.Background(), crawllog.StatusLines(strings.NewReader(input)), store,
		report.PostprocessOptions{CheckpointEvery: 2, Logger: zap.NewNop()})
	require.NoError(t, err)
	require.Equal(t, chain.Counters{
		report.CounterLinesParsed: 3,
		report.CounterRowsUpdated: 3,
		report.CounterSHA1Missing: 1,
		crawllog.ReasonBadSHA1:    1,
		crawllog.ReasonRawLine:    2,
	}, counters)

	rows := store.Rows()
	require.Equal(t, "success", *rows[0].PostprocStatus)
	require.Equal(t, "success", *rows[1].PostprocStatus)
	require.Equal(t, "parse-error", *rows[2].PostprocStatus)
	// one periodic checkpoint after two updates plus the final one
	require.Equal(t, 2, store.Checkpoints())
}

func decode(t *testing.T, out string) []chain.CrawlResult {
	t.Helper()
	var rows []chain.CrawlResult
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var r chain.CrawlResult
		require.NoError(t, json.Unmarshal([]byte(line), &r))
		rows = append(rows, r)
	}
	return rows
}

func TestDump(t *testing.T) {
	t.Parallel()

	store := seeded(t,
		row("http://example.com/b1/", "b", "", true),
		row("http://example.com/a1/", "a", "", true),
		row("http://example.com/n1/", "", "", true),
		row("http://example.com/a2/", "a", "", true),
		row("http://example.com/a3/", "a", "", false),
		row("http://example.com/n2/", "", "", false),
	)

	testCases := []struct {
		name     string
		opts     report.DumpOptions
		expected []string
		skipped  int
	}{
		{
			name: "all rows ordered by identifier",
			expected: []string{
				"http://example.com/n1/", "http://example.com/n2/",
				"http://example.com/a1/", "http://example.com/a2/", "http://example.com/a3/",
				"http://example.com/b1/",
			},
		},
		{
			name:     "only identifier hits",
			opts:     report.DumpOptions{OnlyIdentifierHits: true},
			expected: []string{"http://example.com/a1/", "http://example.com/a2/", "http://example.com/b1/"},
		},
		{
			name: "at most one per identifier",
			opts: report.DumpOptions{MaxPerIdentifier: 1},
			expected: []string{
				"http://example.com/n1/", "http://example.com/n2/",
				"http://example.com/a1/", "http://example.com/b1/",
			},
			skipped: 2,
		},
		{
			name: "at most two per identifier",
			opts: report.DumpOptions{MaxPerIdentifier: 2},
			expected: []string{
				"http://example.com/n1/", "http://example.com/n2/",
				"http://example.com/a1/", "http://example.com/a2/",
				"http://example.com/b1/",
			},
			skipped: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			counters, err := report.Dump(context.Background(), store, &buf, tc.opts)
			require.NoError(t, err)

			var got []string
			for _, r := range decode(t, buf.String()) {
				got = append(got, r.InitialURL)
			}
			require.Equal(t, tc.expected, got)
			require.Equal(t, len(tc.expected), counters[report.CounterRowsWritten])
			require.Equal(t, tc.skipped, counters[report.CounterMaxPerIdentifier])
		})
	}
}

func TestDumpPublishes(t *testing.T) {
	t.Parallel()

	store := seeded(t,
		row("http://example.com/a1/", "a", sha1A, true),
		row("http://example.com/b1/", "b", sha1B, true),
	)
	pub := pubmemory.New()
	var buf bytes.Buffer
	counters, err := report.Dump(context.Background(), store, &buf, report.DumpOptions{Publisher: pub})
	require.NoError(t, err)
	require.Equal(t, 2, counters[report.CounterRowsPublished])
	require.Equal(t, decode(t, buf.String()), pub.Rows())

	require.NoError(t, pub.Close())
	_, err = report.Dump(context.Background(), store, &bytes.Buffer{}, report.DumpOptions{Publisher: pub})
	require.Error(t, err)
}
