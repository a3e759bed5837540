package chain

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

var (
	// ErrSealed is returned when appending to a graph that has already been sealed.
	ErrSealed = errors.New("graph is sealed")
	// ErrNotBuilt is returned when a graph is used before it has been sealed.
	ErrNotBuilt = errors.New("graph is not built")
	// ErrPhase is returned when a Run operation is called out of order.
	ErrPhase = errors.New("operation not allowed in current phase")
	// ErrHitOutOfScope is returned when a hit row would carry a status outside the hit set.
	ErrHitOutOfScope = errors.New("hit status outside configured set")
)

// Outcome and skip counter names.
const (
	CounterInserted          = "inserted"
	CounterMapURLMissing     = "map-url-missing"
	CounterRedirectLoop      = "redirect-loop"
	CounterRecursionLimit    = "recursion-limit"
	CounterDuplicateHit      = "skip-duplicate-hit"
	CounterMapScope          = "skip-map-scope"
	CounterTinyOctetStream   = "skip-tiny-octetstream"
	CounterEmptyFile         = "skip-empty-file"
	CounterBadURL            = "skip-bad-url"
	CounterBadSeedURL        = "skip-bad-seed-url"
	CounterNormalizedSeedURL = "normalized-seed-url"
	CounterExistingIDUpdated = "existing-id-updated"
	CounterExistingComplete  = "existing-complete"
)

// PrereqCounter names the counter for prerequisite (dns:, whois:) records of a source.
func PrereqCounter(src HitSource) string {
	return "skip-" + string(src) + "-prereq"
}

// ScopeCounter names the counter for out-of-scope records of a source.
func ScopeCounter(src HitSource) string {
	return "skip-" + string(src) + "-scope"
}

// Skip is a per-record rejection. It is counted under Reason and never aborts a pass.
type Skip struct {
	Reason string
	Detail string
}

// Skipf builds a Skip with a formatted detail.
func Skipf(reason, format string, args ...any) *Skip {
	return &Skip{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

func (s *Skip) Error() string {
	if s.Detail == "" {
		return s.Reason
	}
	return s.Reason + ": " + s.Detail
}

// AsSkip reports whether err is a per-record skip.
func AsSkip(err error) (*Skip, bool) {
	var skip *Skip
	if errors.As(err, &skip) {
		return skip, true
	}
	return nil, false
}

// Counters accumulates categorized outcome counts for one pass.
type Counters map[string]int

// NewCounters returns counters with "inserted" present, so a pass that wrote nothing
// still reports it.
func NewCounters() Counters {
	return Counters{CounterInserted: 0}
}

// Inc increments key by one.
func (c Counters) Inc(key string) {
	c[key]++
}

// Merge adds other into c.
func (c Counters) Merge(other Counters) {
	for k, v := range other {
		c[k] += v
	}
}

// String renders the counters sorted by key.
func (c Counters) String() string {
	keys := slices.Sorted(maps.Keys(c))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, c[k]))
	}
	return strings.Join(parts, " ")
}
