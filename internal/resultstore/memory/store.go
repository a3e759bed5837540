// Package memory provides an in-memory ResultStore for development and tests.
package memory

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"sync"

	"github.com/JakeFAU/chainmap/internal/chain"
)

// Store keeps rows in insertion order.
type Store struct {
	mu          sync.RWMutex
	rows        []chain.CrawlResult
	checkpoints int
}

// New constructs an empty Store.
func New() *Store {
	return &Store{}
}

// FindByInitialURL returns the first row for initialURL.
func (s *Store) FindByInitialURL(_ context.Context, initialURL string) (chain.CrawlResult, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rows {
		if r.InitialURL == initialURL {
			return r, true, nil
		}
	}
	return chain.CrawlResult{}, false, nil
}

// HasPair reports whether a row maps initialURL to finalURL.
func (s *Store) HasPair(_ context.Context, initialURL, finalURL string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rows {
		if r.InitialURL == initialURL && r.FinalURLValue() == finalURL {
			return true, nil
		}
	}
	return false, nil
}

// Insert appends a row.
func (s *Store) Insert(_ context.Context, result chain.CrawlResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, result)
	return nil
}

// SetIdentifier sets the identifier on rows for initialURL that have none.
func (s *Store) SetIdentifier(_ context.Context, initialURL, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].InitialURL == initialURL && s.rows[i].Identifier == nil {
			s.rows[i].Identifier = chain.Ptr(identifier)
		}
	}
	return nil
}

// SetPostprocStatus updates rows whose final sha1 matches.
func (s *Store) SetPostprocStatus(_ context.Context, sha1, status string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.rows {
		if s.rows[i].FinalSHA1 != nil && *s.rows[i].FinalSHA1 == sha1 {
			s.rows[i].PostprocStatus = chain.Ptr(status)
			n++
		}
	}
	return n, nil
}

// Iterate yields a snapshot ordered by identifier, unset identifiers first.
func (s *Store) Iterate(ctx context.Context, opts chain.IterateOptions) iter.Seq2[chain.CrawlResult, error] {
	return func(yield func(chain.CrawlResult, error) bool) {
		s.mu.RLock()
		rows := slices.Clone(s.rows)
		s.mu.RUnlock()

		slices.SortStableFunc(rows, func(a, b chain.CrawlResult) int {
			if (a.Identifier == nil) != (b.Identifier == nil) {
				if a.Identifier == nil {
					return -1
				}
				return 1
			}
			return cmp.Compare(a.IdentifierValue(), b.IdentifierValue())
		})
		for _, r := range rows {
			if err := ctx.Err(); err != nil {
				yield(chain.CrawlResult{}, err)
				return
			}
			if opts.OnlyIdentifierHits && (!r.Hit || r.Identifier == nil) {
				continue
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

// Checkpoint counts calls; memory rows are always visible.
func (s *Store) Checkpoint(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints++
	return nil
}

// Checkpoints returns how many times Checkpoint was called.
func (s *Store) Checkpoints() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpoints
}

// Rows returns a copy of all rows in insertion order.
func (s *Store) Rows() []chain.CrawlResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.rows)
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
