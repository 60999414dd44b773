// Package correlate implements the entity extractor and in-memory
// correlation graph of spec.md §4.6: pattern-driven entity extraction
// over chunk text, and a hosts/ports/services/vulnerabilities graph
// derived from the entities table, owned by a single goroutine and
// rebuildable from storage on startup.
package correlate

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/neur0map/yinx/internal/patterns"
	"github.com/neur0map/yinx/internal/types"
)

// Extract runs every configured entity pattern against a chunk's
// representative text, returning one Entity per match with its
// confidence, context window, and redact flag carried over from the
// pattern definition (spec.md §4.6).
func Extract(reg *patterns.Registry, captureID, chunkID, text string) []*types.Entity {
	var out []*types.Entity
	for _, p := range reg.Entities() {
		for _, loc := range p.Re.FindAllStringIndex(text, -1) {
			start, end := loc[0], loc[1]
			value := text[start:end]
			out = append(out, &types.Entity{
				ID:         uuid.NewString(),
				CaptureID:  captureID,
				ChunkID:    chunkID,
				TypeName:   p.TypeName,
				Value:      value,
				Context:    contextWindow(text, start, end, p.ContextWindow),
				Confidence: p.Confidence,
				Redact:     p.Redact,
			})
		}
	}
	return out
}

// contextWindow returns up to `window` bytes of text on either side of
// [start,end), with surrounding whitespace trimmed. Offsets are bytes,
// not runes, so a window edge can split a multi-byte character (entity
// values are expected to be ASCII technical tokens, matching the
// teacher's own context-snippet extraction).
func contextWindow(text string, start, end, window int) string {
	if window <= 0 {
		return text[start:end]
	}
	lo := start - window
	if lo < 0 {
		lo = 0
	}
	hi := end + window
	if hi > len(text) {
		hi = len(text)
	}
	return strings.TrimSpace(text[lo:hi])
}

// Redacted returns value replaced with a fixed-width placeholder when
// e.Redact is set, for any surface (logs, exported reports) that must
// not leak raw entity values (spec.md §4.6 redaction flag).
func Redacted(e *types.Entity) string {
	if !e.Redact {
		return e.Value
	}
	return fmt.Sprintf("[REDACTED:%s]", e.TypeName)
}
