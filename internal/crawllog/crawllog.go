// Package crawllog tokenizes Heritrix crawl logs, CDX files, seed lists and
// post-processing status files into the records consumed by package chain.
//
// Every parser returns a *chain.Skip for a malformed line so callers can count it and
// move on.
package crawllog

import (
	"strconv"
	"strings"

	"github.com/JakeFAU/chainmap/internal/chain"
	"github.com/JakeFAU/chainmap/internal/mimetype"
)

// Skip reasons produced by this package.
const (
	ReasonBadLogLine    = "skip-bad-log-line"
	ReasonCDXRaw        = "skip-cdx-raw"
	ReasonBadCDXLine    = "skip-bad-cdx-line"
	ReasonRawLine       = "skip-raw-line"
	ReasonMalformedSeed = "skip-malformed-seed"
	ReasonBadSHA1       = "skip-bad-sha1"
)

const (
	logFields = 13
	cdxFields = 11
	sha1Len   = 32
)

// LogLine is one parsed crawl-log record.
type LogLine struct {
	LogTime     string
	StatusCode  int
	Size        int64
	URL         string
	Breadcrumbs string
	ReferrerURL string
	Mimetype    string
	Thread      string
	Timestamp   string
	SHA1        string
	SourceTag   string
	Annotations string
	JSON        string
}

// ParseLogLine splits a whitespace-separated crawl-log line. The mimetype is
// normalized and the sha1 loses its "sha1:" prefix. Successful FTP transfers of
// .pdf/.ps files reported as octet-stream are re-typed.
func ParseLogLine(line string) (LogLine, error) {
	f := strings.Fields(line)
	if len(f) != logFields {
		return LogLine{}, chain.Skipf(ReasonBadLogLine, "%d fields", len(f))
	}
	status, err := strconv.Atoi(f[1])
	if err != nil {
		return LogLine{}, chain.Skipf(ReasonBadLogLine, "status %q", f[1])
	}
	size, err := parseSize(f[2])
	if err != nil {
		return LogLine{}, chain.Skipf(ReasonBadLogLine, "size %q", f[2])
	}

	rawMime := f[6]
	if strings.HasPrefix(f[3], "ftp://") && status == 226 && rawMime == mimetype.OctetStream {
		lower := strings.ToLower(f[3])
		switch {
		case strings.HasSuffix(lower, ".pdf"):
			rawMime = mimetype.PDF
		case strings.HasSuffix(lower, ".ps"):
			rawMime = mimetype.PostScript
		}
	}

	return LogLine{
		LogTime:     f[0],
		StatusCode:  status,
		Size:        size,
		URL:         f[3],
		Breadcrumbs: f[4],
		ReferrerURL: f[5],
		Mimetype:    mimetype.Normalize(rawMime),
		Thread:      f[7],
		Timestamp:   f[8],
		SHA1:        strings.TrimPrefix(f[9], "sha1:"),
		SourceTag:   f[10],
		Annotations: f[11],
		JSON:        f[12],
	}, nil
}

// IsDedupe reports whether the capture was recorded as a digest duplicate.
func (l LogLine) IsDedupe() bool {
	return strings.Contains(l.Annotations, "duplicate:digest")
}

// Edge converts the line to a referrer edge. A "-" referrer becomes none.
func (l LogLine) Edge() chain.ReferrerEdge {
	return chain.ReferrerEdge{
		URL:         l.URL,
		ReferrerURL: optionalField(l.ReferrerURL),
		StatusCode:  l.StatusCode,
		Breadcrumbs: l.Breadcrumbs,
		Mimetype:    l.Mimetype,
		IsDedupe:    l.IsDedupe(),
	}
}

// Hit converts the line to a backward-pass candidate.
func (l LogLine) Hit() chain.Hit {
	return chain.Hit{
		Source:     chain.HitSourceLog,
		URL:        l.URL,
		StatusCode: l.StatusCode,
		Mimetype:   l.Mimetype,
		Size:       l.Size,
		SHA1:       optionalField(l.SHA1),
		Timestamp:  CaptureTimestamp(l.Timestamp),
	}
}

// CaptureTimestamp truncates a 14+ digit capture timestamp to its first 12 digits. ISO
// formatted or short values yield "".
func CaptureTimestamp(ts string) string {
	if len(ts) < 12 || ts[4] == '-' {
		return ""
	}
	return ts[:12]
}

// CDXLine is one parsed 11-column CDX record.
type CDXLine struct {
	SURT           string
	Datetime       string
	URL            string
	Mimetype       string
	StatusCode     int
	SHA1           string
	CompressedSize int64
	Offset         string
	WARC           string
}

// ParseCDXLine splits a space-separated CDX line. Header lines and lines with a
// leading space are rejected as raw.
func ParseCDXLine(line string) (CDXLine, error) {
	if strings.HasPrefix(line, "CDX") || strings.HasPrefix(line, " ") {
		return CDXLine{}, chain.Skipf(ReasonCDXRaw, "header")
	}
	f := strings.Split(strings.TrimSpace(line), " ")
	if len(f) != cdxFields {
		return CDXLine{}, chain.Skipf(ReasonBadCDXLine, "%d fields", len(f))
	}
	status := 0
	if f[4] != "-" {
		n, err := strconv.Atoi(f[4])
		if err != nil {
			return CDXLine{}, chain.Skipf(ReasonBadCDXLine, "status %q", f[4])
		}
		status = n
	}
	size, err := parseSize(f[8])
	if err != nil {
		size = -1
	}
	return CDXLine{
		SURT:           f[0],
		Datetime:       f[1],
		URL:            f[2],
		Mimetype:       mimetype.Normalize(f[3]),
		StatusCode:     status,
		SHA1:           f[5],
		CompressedSize: size,
		Offset:         f[9],
		WARC:           f[10],
	}, nil
}

// Hit converts the line to a backward-pass candidate.
func (c CDXLine) Hit() chain.Hit {
	return chain.Hit{
		Source:     chain.HitSourceCDX,
		URL:        c.URL,
		StatusCode: c.StatusCode,
		Mimetype:   c.Mimetype,
		Size:       c.CompressedSize,
		SHA1:       optionalField(c.SHA1),
		Timestamp:  CaptureTimestamp(c.Datetime),
	}
}

// ParseSeedLine parses "url" or "url<TAB>identifier".
func ParseSeedLine(line string) (chain.Seed, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return chain.Seed{}, chain.Skipf(ReasonRawLine, "empty")
	}
	f := strings.Split(line, "\t")
	switch len(f) {
	case 1:
		return chain.Seed{URL: f[0]}, nil
	case 2:
		return chain.Seed{URL: f[0], Identifier: strings.TrimSpace(f[1])}, nil
	default:
		return chain.Seed{}, chain.Skipf(ReasonMalformedSeed, "%d columns", len(f))
	}
}

// StatusLine maps a payload sha1 to a post-processing status.
type StatusLine struct {
	SHA1   string
	Status string
}

// ParseStatusLine parses "sha1<TAB>status". The sha1 may carry a "sha1:" prefix and
// must be 32 characters.
func ParseStatusLine(line string) (StatusLine, error) {
	f := strings.Split(strings.TrimSpace(line), "\t")
	if len(f) != 2 {
		return StatusLine{}, chain.Skipf(ReasonRawLine, "%d columns", len(f))
	}
	sha1 := strings.TrimPrefix(f[0], "sha1:")
	if len(sha1) != sha1Len {
		return StatusLine{}, chain.Skipf(ReasonBadSHA1, "%q", sha1)
	}
	return StatusLine{SHA1: sha1, Status: strings.TrimSpace(f[1])}, nil
}

func parseSize(s string) (int64, error) {
	if s == "-" {
		return -1, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func optionalField(s string) string {
	if s == "-" {
		return ""
	}
	return s
}
