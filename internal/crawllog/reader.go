package crawllog

import (
	"bufio"
	"fmt"
	"io"
	"iter"

	"github.com/JakeFAU/chainmap/internal/chain"
)

const maxLineBytes = 16 << 20

// Edges streams referrer edges from a crawl log.
func Edges(r io.Reader) iter.Seq2[chain.ReferrerEdge, error] {
	return records(r, func(line string) (chain.ReferrerEdge, error) {
		l, err := ParseLogLine(line)
		if err != nil {
			return chain.ReferrerEdge{}, err
		}
		return l.Edge(), nil
	})
}

// LogHits streams backward-pass candidates from a crawl log.
func LogHits(r io.Reader) iter.Seq2[chain.Hit, error] {
	return records(r, func(line string) (chain.Hit, error) {
		l, err := ParseLogLine(line)
		if err != nil {
			return chain.Hit{}, err
		}
		return l.Hit(), nil
	})
}

// CDXHits streams backward-pass candidates from a CDX file.
func CDXHits(r io.Reader) iter.Seq2[chain.Hit, error] {
	return records(r, func(line string) (chain.Hit, error) {
		c, err := ParseCDXLine(line)
		if err != nil {
			return chain.Hit{}, err
		}
		return c.Hit(), nil
	})
}

// Seeds streams seed records.
func Seeds(r io.Reader) iter.Seq2[chain.Seed, error] {
	return records(r, ParseSeedLine)
}

// StatusLines streams post-processing status records.
func StatusLines(r io.Reader) iter.Seq2[StatusLine, error] {
	return records(r, ParseStatusLine)
}

func records[T any](r io.Reader, parse func(string) (T, error)) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			rec, err := parse(scanner.Text())
			if err != nil {
				if skip, ok := chain.AsSkip(err); ok {
					skip.Detail = fmt.Sprintf("line %d: %s", lineNo, skip.Detail)
				}
			}
			if !yield(rec, err) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			var zero T
			yield(zero, fmt.Errorf("scan line %d: %w", lineNo+1, err))
		}
	}
}
