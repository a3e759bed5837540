// Package mimetype folds raw crawl-log mimetypes into the small set of categories the
// resolvers compare against.
package mimetype

import (
	"fmt"
	"strings"
)

// Normalized categories.
const (
	PDF         = "application/pdf"
	PostScript  = "application/postscript"
	HTML        = "text/html"
	XML         = "text/xml"
	Revisit     = "warc/revisit"
	OctetStream = "application/octet-stream"
)

// Preset names accepted by PresetSet.
const (
	PresetFulltext = "fulltext"
	PresetHTML     = "html"
)

var normal = []string{PDF, PostScript, HTML, XML, Revisit, OctetStream}

var quoteStripper = strings.NewReplacer(`"`, "", "'", "", ",", "")

// Normalize maps a raw mimetype onto its category. Values outside the known set are
// returned lower-cased with quotes and commas removed.
func Normalize(raw string) string {
	m := quoteStripper.Replace(strings.ToLower(strings.TrimSpace(raw)))
	for _, n := range normal {
		if strings.HasPrefix(m, n) {
			return n
		}
	}
	switch {
	case strings.HasPrefix(m, "application/xml"):
		return XML
	case strings.HasPrefix(m, "application/x-pdf"):
		return PDF
	case m == "unk", m == "unknown", m == "other":
		return OctetStream
	}
	return m
}

// IsFulltext reports whether a normalized mimetype is a document payload that stays a
// legitimate terminal even when fetched as an embed.
func IsFulltext(m string) bool {
	return m == PDF || m == PostScript || m == OctetStream
}

// Set is a collection of normalized mimetypes.
type Set map[string]struct{}

// NewSet builds a Set from normalized values.
func NewSet(values ...string) Set {
	s := make(Set, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Contains reports membership.
func (s Set) Contains(m string) bool {
	_, ok := s[m]
	return ok
}

// PresetSet returns the hit-mimetype set for a named preset.
func PresetSet(name string) (Set, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case PresetFulltext, "":
		return NewSet(PDF, PostScript, OctetStream, Revisit), nil
	case PresetHTML:
		return NewSet(HTML), nil
	default:
		return nil, fmt.Errorf("unknown hit preset %q", name)
	}
}
