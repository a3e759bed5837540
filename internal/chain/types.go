// Package chain defines the records and algorithms that turn referrer observations
// into seed to terminal mappings.
package chain

// ReferrerEdge is a single observed fetch linking a URL to the URL that caused it.
// An empty ReferrerURL marks a root request.
type ReferrerEdge struct {
	URL         string `json:"url"`
	ReferrerURL string `json:"referrer_url,omitempty"`
	StatusCode  int    `json:"status_code"`
	Breadcrumbs string `json:"breadcrumbs"`
	Mimetype    string `json:"mimetype"`
	IsDedupe    bool   `json:"is_dedupe"`
}

// HasReferrer reports whether the edge was caused by another fetch.
func (e ReferrerEdge) HasReferrer() bool {
	return e.ReferrerURL != ""
}

// HitSource names the kind of input a Hit was read from.
type HitSource string

// Hit sources.
const (
	HitSourceLog HitSource = "log"
	HitSourceCDX HitSource = "cdx"
)

// Hit is a candidate terminal capture fed to the backward pass.
type Hit struct {
	Source     HitSource
	URL        string
	StatusCode int
	Mimetype   string
	// Size is the payload size in bytes, or -1 when unknown.
	Size      int64
	SHA1      string
	Timestamp string
}

// Seed is a URL of interest with an optional external identifier.
type Seed struct {
	URL        string
	Identifier string
}

// CrawlResult is one output row mapping an initial URL to its terminal capture.
// Nil pointers are stored as NULL.
type CrawlResult struct {
	InitialURL      string  `json:"initial_url"`
	Identifier      *string `json:"identifier"`
	InitialDomain   string  `json:"initial_domain"`
	Breadcrumbs     *string `json:"breadcrumbs"`
	FinalURL        *string `json:"final_url"`
	FinalDomain     *string `json:"final_domain"`
	FinalTimestamp  *string `json:"final_timestamp"`
	FinalStatusCode *int    `json:"final_status_code"`
	FinalSHA1       *string `json:"final_sha1"`
	FinalMimetype   *string `json:"final_mimetype"`
	FinalWasDedupe  *bool   `json:"final_was_dedupe"`
	Hit             bool    `json:"hit"`
	PostprocStatus  *string `json:"postproc_status"`
}

// IdentifierValue returns the identifier or an empty string when unset.
func (r CrawlResult) IdentifierValue() string {
	if r.Identifier == nil {
		return ""
	}
	return *r.Identifier
}

// FinalURLValue returns the final URL or an empty string when unset.
func (r CrawlResult) FinalURLValue() string {
	if r.FinalURL == nil {
		return ""
	}
	return *r.FinalURL
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// OptionalString maps the empty string to nil.
func OptionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
