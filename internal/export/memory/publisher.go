// Package memory contains an in-memory publisher for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/chainmap/internal/chain"
)

// Publisher stores published rows for inspection.
type Publisher struct {
	mu     sync.RWMutex
	rows   []chain.CrawlResult
	closed bool
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the row and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, row chain.CrawlResult) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", fmt.Errorf("publisher is closed")
	}
	p.rows = append(p.rows, row)
	return fmt.Sprintf("memory-%d", len(p.rows)), nil
}

// Rows returns the recorded rows.
func (p *Publisher) Rows() []chain.CrawlResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]chain.CrawlResult, len(p.rows))
	copy(out, p.rows)
	return out
}

// Close rejects further publishes.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
