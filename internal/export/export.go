// Package export defines sinks that receive materialized crawl results.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/JakeFAU/chainmap/internal/chain"
)

// Publisher fans crawl results out to a message bus.
type Publisher interface {
	Publish(ctx context.Context, row chain.CrawlResult) (string, error)
	Close() error
}

// JSONLines writes one JSON object per line.
type JSONLines struct {
	enc *json.Encoder
	n   int
}

// NewJSONLines returns a writer encoding rows onto w.
func NewJSONLines(w io.Writer) *JSONLines {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLines{enc: enc}
}

// Write encodes a single row followed by a newline.
func (j *JSONLines) Write(row chain.CrawlResult) error {
	if err := j.enc.Encode(row); err != nil {
		return fmt.Errorf("encode row %s: %w", row.InitialURL, err)
	}
	j.n++
	return nil
}

// Count reports how many rows were written.
func (j *JSONLines) Count() int {
	return j.n
}
