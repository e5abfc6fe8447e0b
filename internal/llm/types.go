package llm

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// ChunkKind distinguishes the shapes a streamed chunk can take.
type ChunkKind int

const (
	// ChunkText is plain (possibly markdown) text.
	ChunkText ChunkKind = iota

	// ChunkDual carries two renderings of one event: Text for clients
	// without rich content support and HTML for those with it.
	ChunkDual
)

// Chunk is one unit of streamed progress.
type Chunk struct {
	Kind ChunkKind
	Text string
	HTML string
}

// TextChunk returns a plain text chunk.
func TextChunk(s string) Chunk { return Chunk{Kind: ChunkText, Text: s} }

// DualChunk returns a chunk with both a text and an HTML rendering.
func DualChunk(text, html string) Chunk { return Chunk{Kind: ChunkDual, Text: text, HTML: html} }

// StreamCallback receives chunks as they arrive. It is called from the
// goroutine running SendStreaming.
type StreamCallback func(Chunk)

// LegacyDualPrefix marks a text chunk whose remainder is a JSON object
// {"text": ..., "html": ...}. Older Copilot relays emit dual renderings
// this way.
const LegacyDualPrefix = "__DUAL_MESSAGE__"

// ParseLegacyChunk converts a raw streamed string to a Chunk. Strings
// with LegacyDualPrefix become dual chunks; a malformed payload degrades
// to a text chunk holding the raw string.
func ParseLegacyChunk(raw string) Chunk {
	payload, ok := strings.CutPrefix(raw, LegacyDualPrefix)
	if !ok {
		return TextChunk(raw)
	}
	var dual struct {
		Text *string `json:"text"`
		HTML *string `json:"html"`
	}
	if err := json.Unmarshal([]byte(payload), &dual); err != nil || dual.Text == nil || dual.HTML == nil {
		return TextChunk(raw)
	}
	return DualChunk(*dual.Text, *dual.HTML)
}

// Discard is a StreamCallback that drops every chunk.
func Discard(Chunk) {}
