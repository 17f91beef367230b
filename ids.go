package llmstream

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// maxRawIDLength is the longest provider id accepted unmodified.
const maxRawIDLength = 200

// derivedIDTailLength is how much of a stripped raw id survives into a
// derived id.
const derivedIDTailLength = 12

// validToolCallID matches provider ids that can be used as-is.
var validToolCallID = regexp.MustCompile(`^(call|tool)_[A-Za-z0-9_-]+$`)

// idTable assigns stable, collision-free tool-call ids for one pipeline
// instance. Repeated lookups for the same raw key always return the same id,
// and no two raw keys ever share an id.
type idTable struct {
	assigned map[string]string   // raw key -> assigned id
	used     map[string]struct{} // every id handed out so far
}

func newIDTable() *idTable {
	return &idTable{
		assigned: make(map[string]string),
		used:     make(map[string]struct{}),
	}
}

// sanitize resolves a raw id (or index-derived key when the provider sent no
// id) to the output id. A raw id is accepted unmodified when it is non-empty,
// within length bounds, matches the call_/tool_ shape, and is not already
// taken by a different raw key; otherwise an id is derived deterministically
// from the raw id, falling back to a time-based seed.
func (t *idTable) sanitize(rawKey, rawID string, index int) string {
	if id, ok := t.assigned[rawKey]; ok {
		return id
	}

	if rawID != "" && len(rawID) <= maxRawIDLength && validToolCallID.MatchString(rawID) {
		if _, taken := t.used[rawID]; !taken {
			t.record(rawKey, rawID)
			return rawID
		}
	}

	seed := rawID
	if seed == "" {
		seed = timeSeed(index)
	}
	candidate := deriveID(seed)
	for {
		if _, taken := t.used[candidate]; !taken && candidate != "" {
			break
		}
		candidate = deriveID(timeSeed(index))
	}

	t.record(rawKey, candidate)
	return candidate
}

func (t *idTable) record(rawKey, id string) {
	t.assigned[rawKey] = id
	t.used[id] = struct{}{}
}

// deriveID builds a call_-prefixed id from the trailing alphanumerics of the
// seed. Returns "" for seeds with no usable characters so the caller retries
// with a fresh seed.
func deriveID(seed string) string {
	stripped := stripNonAlphanumeric(seed)
	if stripped == "" {
		return ""
	}
	if len(stripped) > derivedIDTailLength {
		stripped = stripped[len(stripped)-derivedIDTailLength:]
	}
	return "call_" + stripped
}

func timeSeed(index int) string {
	return fmt.Sprintf("tool_%d_%d", index, time.Now().UnixNano())
}

func stripNonAlphanumeric(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
