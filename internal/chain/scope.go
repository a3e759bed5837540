package chain

import (
	"slices"

	"github.com/JakeFAU/chainmap/internal/mimetype"
)

// EmptySHA1 is the base32 sha1 of a zero-length payload.
const EmptySHA1 = "3I42H3S6NNFQ2MSVX7XZKYAYSCX5QBYJ"

// DefaultHitStatusCodes are the statuses that count as a successful capture.
var DefaultHitStatusCodes = []int{200, 226}

// Scope decides whether a capture is a hit.
type Scope struct {
	Mimetypes   mimetype.Set
	StatusCodes []int
}

// NewScope builds a Scope from a mimetype preset name and status list. An empty status
// list falls back to DefaultHitStatusCodes.
func NewScope(preset string, statuses []int) (Scope, error) {
	set, err := mimetype.PresetSet(preset)
	if err != nil {
		return Scope{}, err
	}
	if len(statuses) == 0 {
		statuses = DefaultHitStatusCodes
	}
	return Scope{Mimetypes: set, StatusCodes: slices.Clone(statuses)}, nil
}

// HitStatus reports whether status is in the hit-status set.
func (s Scope) HitStatus(status int) bool {
	return slices.Contains(s.StatusCodes, status)
}

// Admits reports whether status and mimetype are both in scope.
func (s Scope) Admits(status int, mime string) bool {
	return s.HitStatus(status) && s.Mimetypes.Contains(mime)
}
