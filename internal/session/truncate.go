package session

import (
	"strings"

	"rondo/internal/chat"
)

const truncationMarker = "..."

// chunkDelimiters orders boundary candidates coarse to fine.
var chunkDelimiters = []string{"\n\n", "\n", ". ", ", ", " "}

// truncateResult shrinks an oversized function-result message until its
// token length fits maxTokens. It never mutates msg; the stored history
// message is the returned copy.
//
// Each delimiter splits the content into chunks which are greedily
// reassembled while the candidate (content so far plus the truncation
// marker) still measures within the ceiling. The first granularity that
// keeps at least one chunk wins; if none does, a proportional character
// slice is the best-effort fallback.
func (s *Session) truncateResult(msg chat.Message, maxTokens int) chat.Message {
	content := msg.Content

	for _, delim := range chunkDelimiters {
		chunks := strings.Split(content, delim)
		kept := ""
		fit := false
		for i := range chunks {
			candidate := strings.Join(chunks[:i+1], delim)
			trial := msg.WithContent(candidate + truncationMarker)
			if s.MessageTokenLen(trial) > maxTokens {
				break
			}
			kept = candidate
			fit = true
		}
		// The final chunk can never fit (the full message is known to
		// exceed the ceiling), so a fitting result is always shorter
		// than the input.
		if fit {
			return msg.WithContent(kept + truncationMarker)
		}
	}

	// No boundary fits even at word granularity. Slice by character
	// count proportional to the token ceiling; not token-exact.
	currentTokens := s.MessageTokenLen(msg)
	keep := len(content)
	if currentTokens > 0 {
		keep = len(content) * maxTokens / currentTokens
	}
	if keep >= len(content) {
		keep = len(content) - 1
	}
	if keep < 0 {
		keep = 0
	}
	sliced := sliceUTF8(content, keep)

	s.logger.Warn("function result truncated by character slice; token ceiling is approximate",
		"function", msg.Name,
		"max_tokens", maxTokens,
		"kept_bytes", len(sliced),
	)
	return msg.WithContent(sliced + truncationMarker)
}

// sliceUTF8 cuts s to at most n bytes without splitting a rune.
func sliceUTF8(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && (s[n]&0xC0) == 0x80 {
		n--
	}
	return s[:n]
}
