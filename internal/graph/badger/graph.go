// Package badger stores the referrer graph in a Badger key-value store.
//
// Key layout, all single-byte prefixed:
//
//	0x01 seq                  -> JSON edge
//	0x02 url 0x00 seq         -> (empty) first-edge lookup
//	0x03 referrer 0x00 seq    -> (empty) children lookup
//	0x04                      -> next seq, written by Seal
//	0x05                      -> sealed marker
//
// Sequence numbers are big-endian so prefix scans return edges in insertion order.
package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/chainmap/internal/chain"
)

const (
	prefixEdge     = byte(0x01)
	prefixURL      = byte(0x02)
	prefixReferrer = byte(0x03)
	keyNextSeq     = byte(0x04)
	keySealed      = byte(0x05)
	separator      = byte(0x00)
	seqLen         = 8
)

// Options configures where the graph lives.
type Options struct {
	Dir      string
	InMemory bool
	Logger   *zap.Logger
}

// Graph is a Badger-backed Builder and Graph.
type Graph struct {
	db     *badger.DB
	wb     *badger.WriteBatch
	next   uint64
	sealed bool
	logger *zap.Logger
}

// OpenBuilder opens (or creates) a store for appending. A previously sealed store is
// reopened for writing and must be sealed again.
func OpenBuilder(opts Options) (*Graph, error) {
	g, err := open(opts)
	if err != nil {
		return nil, err
	}
	if g.sealed {
		if err := g.db.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte{keySealed})
		}); err != nil {
			_ = g.db.Close()
			return nil, fmt.Errorf("unseal graph: %w", err)
		}
		g.sealed = false
	}
	g.wb = g.db.NewWriteBatch()
	return g, nil
}

// OpenGraph opens a store sealed by an earlier run.
func OpenGraph(opts Options) (*Graph, error) {
	g, err := open(opts)
	if err != nil {
		return nil, err
	}
	if !g.sealed {
		_ = g.db.Close()
		return nil, fmt.Errorf("badger map %q: %w", opts.Dir, chain.ErrNotBuilt)
	}
	return g, nil
}

func open(opts Options) (*Graph, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("graph.badger")

	bopts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{logger.Sugar()})
	if opts.InMemory {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", opts.Dir, err)
	}

	g := &Graph{db: db, logger: logger}
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte{keyNextSeq})
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				if len(val) != seqLen {
					return fmt.Errorf("corrupt sequence value")
				}
				g.next = binary.BigEndian.Uint64(val)
				return nil
			}); err != nil {
				return err
			}
		}
		_, err = txn.Get([]byte{keySealed})
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil
		case err != nil:
			return err
		}
		g.sealed = true
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read graph metadata: %w", err)
	}
	return g, nil
}

// Append queues an edge and its index entries.
func (g *Graph) Append(_ context.Context, edge chain.ReferrerEdge) error {
	if g.sealed || g.wb == nil {
		return chain.ErrSealed
	}
	val, err := json.Marshal(edge)
	if err != nil {
		return fmt.Errorf("encode edge: %w", err)
	}
	seq := g.next
	g.next++
	if err := g.wb.Set(edgeKey(seq), val); err != nil {
		return fmt.Errorf("write edge: %w", err)
	}
	if err := g.wb.Set(indexKey(prefixURL, edge.URL, seq), nil); err != nil {
		return fmt.Errorf("write url index: %w", err)
	}
	if edge.HasReferrer() {
		if err := g.wb.Set(indexKey(prefixReferrer, edge.ReferrerURL, seq), nil); err != nil {
			return fmt.Errorf("write referrer index: %w", err)
		}
	}
	return nil
}

// Seal flushes queued writes and marks the store complete.
func (g *Graph) Seal(_ context.Context) (chain.Graph, error) {
	if g.sealed {
		return g, nil
	}
	if g.wb != nil {
		if err := g.wb.Flush(); err != nil {
			return nil, fmt.Errorf("flush edges: %w", err)
		}
		g.wb = nil
	}
	next := make([]byte, seqLen)
	binary.BigEndian.PutUint64(next, g.next)
	if err := g.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte{keyNextSeq}, next); err != nil {
			return err
		}
		return txn.Set([]byte{keySealed}, nil)
	}); err != nil {
		return nil, fmt.Errorf("seal graph: %w", err)
	}
	g.sealed = true
	g.logger.Info("referrer graph sealed", zap.Uint64("edges", g.next))
	return g, nil
}

// LookupEdge returns the first edge inserted for url.
func (g *Graph) LookupEdge(_ context.Context, url string) (chain.ReferrerEdge, bool, error) {
	if !g.sealed {
		return chain.ReferrerEdge{}, false, chain.ErrNotBuilt
	}
	var (
		found chain.ReferrerEdge
		ok    bool
	)
	err := g.db.View(func(txn *badger.Txn) error {
		return scanIndex(txn, prefixURL, url, func(edge chain.ReferrerEdge) bool {
			if edge.URL != url {
				return true
			}
			found, ok = edge, true
			return false
		})
	})
	if err != nil {
		return chain.ReferrerEdge{}, false, fmt.Errorf("lookup edge: %w", err)
	}
	return found, ok, nil
}

// LookupChildren returns edges referred by referrer in insertion order.
func (g *Graph) LookupChildren(_ context.Context, referrer string) ([]chain.ReferrerEdge, error) {
	if !g.sealed {
		return nil, chain.ErrNotBuilt
	}
	if referrer == "" {
		return nil, nil
	}
	var out []chain.ReferrerEdge
	err := g.db.View(func(txn *badger.Txn) error {
		return scanIndex(txn, prefixReferrer, referrer, func(edge chain.ReferrerEdge) bool {
			if edge.ReferrerURL == referrer {
				out = append(out, edge)
			}
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("lookup children: %w", err)
	}
	return out, nil
}

// Close discards unflushed writes and closes the store.
func (g *Graph) Close() error {
	if g.wb != nil {
		g.wb.Cancel()
		g.wb = nil
	}
	return g.db.Close()
}

// scanIndex visits edges referenced by index entries under prefix+value until fn
// returns false.
func scanIndex(txn *badger.Txn, prefix byte, value string, fn func(chain.ReferrerEdge) bool) error {
	p := indexPrefix(prefix, value)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		key := it.Item().Key()
		if len(key) != len(p)+seqLen {
			continue
		}
		seq := binary.BigEndian.Uint64(key[len(p):])
		edge, err := getEdge(txn, seq)
		if err != nil {
			return err
		}
		if !fn(edge) {
			return nil
		}
	}
	return nil
}

func getEdge(txn *badger.Txn, seq uint64) (chain.ReferrerEdge, error) {
	item, err := txn.Get(edgeKey(seq))
	if err != nil {
		return chain.ReferrerEdge{}, fmt.Errorf("edge %d: %w", seq, err)
	}
	var edge chain.ReferrerEdge
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &edge)
	})
	return edge, err
}

func edgeKey(seq uint64) []byte {
	key := make([]byte, 1+seqLen)
	key[0] = prefixEdge
	binary.BigEndian.PutUint64(key[1:], seq)
	return key
}

func indexPrefix(prefix byte, value string) []byte {
	var b bytes.Buffer
	b.Grow(len(value) + 2 + seqLen)
	b.WriteByte(prefix)
	b.WriteString(value)
	b.WriteByte(separator)
	return b.Bytes()
}

func indexKey(prefix byte, value string, seq uint64) []byte {
	key := indexPrefix(prefix, value)
	return binary.BigEndian.AppendUint64(key, seq)
}

// badgerLogger routes Badger's internal logging through zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...any)   { l.s.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...any) { l.s.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...any)    { l.s.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...any)   { l.s.Debugf(format, args...) }
