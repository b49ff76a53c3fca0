// Package voice turns streamed agent text into speakable chunks and audio.
package voice

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// abbreviations never end a sentence. Compared case-insensitively.
var abbreviations = map[string]struct{}{
	"dr.": {}, "mr.": {}, "mrs.": {}, "ms.": {}, "jr.": {}, "sr.": {},
	"prof.": {}, "rev.": {}, "gen.": {}, "col.": {}, "lt.": {}, "sgt.": {},
	"inc.": {}, "ltd.": {}, "corp.": {}, "co.": {}, "vs.": {}, "etc.": {},
	"i.e.": {}, "e.g.": {}, "a.m.": {}, "p.m.": {}, "u.s.": {}, "u.k.": {},
	"st.": {}, "mt.": {},
}

// SentenceBuffer accumulates streamed text and hands back complete
// sentences, so synthesis can start before the full reply arrives.
type SentenceBuffer struct {
	pending string
}

// NewSentenceBuffer creates an empty buffer.
func NewSentenceBuffer() *SentenceBuffer {
	return &SentenceBuffer{}
}

// Add appends text and returns any sentences it completed.
func (b *SentenceBuffer) Add(text string) []string {
	if text == "" {
		return nil
	}
	b.pending += text

	var sentences []string
	start := 0
	for i := 0; i < len(b.pending); {
		r, size := utf8.DecodeRuneInString(b.pending[i:])
		end := i + size
		if isTerminator(r) && b.endsSentence(i, end) {
			// Swallow closing quotes and brackets that belong to the sentence.
			for end < len(b.pending) {
				next, n := utf8.DecodeRuneInString(b.pending[end:])
				if !isCloser(next) && !isTerminator(next) {
					break
				}
				end += n
			}
			if s := strings.TrimSpace(b.pending[start:end]); s != "" {
				sentences = append(sentences, s)
			}
			start = end
			i = end
			continue
		}
		i = end
	}

	if start > 0 {
		b.pending = b.pending[start:]
	}
	return sentences
}

// Flush returns the remaining text, trimmed, and empties the buffer.
func (b *SentenceBuffer) Flush() string {
	out := strings.TrimSpace(b.pending)
	b.pending = ""
	return out
}

// Pending returns buffered text without consuming it.
func (b *SentenceBuffer) Pending() string {
	return b.pending
}

// Reset drops buffered text, used when a reply is interrupted.
func (b *SentenceBuffer) Reset() {
	b.pending = ""
}

func (b *SentenceBuffer) endsSentence(i, end int) bool {
	s := b.pending
	if end < len(s) {
		next, _ := utf8.DecodeRuneInString(s[end:])
		if !unicode.IsSpace(next) && !isCloser(next) && !isTerminator(next) {
			return false
		}
	} else if s[i] == '.' && i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		// "3." at the end of a chunk may still become "3.5".
		return false
	}
	if s[i] != '.' {
		return true
	}
	return !isAbbreviation(s, i)
}

func isAbbreviation(s string, i int) bool {
	start := i
	for start > 0 && !unicode.IsSpace(rune(s[start-1])) {
		start--
	}
	word := strings.ToLower(s[start : i+1])
	if _, ok := abbreviations[word]; ok {
		return true
	}
	// Single capital initial such as "J." in "J. R. R. Tolkien".
	return i-start == 1 && s[start] >= 'A' && s[start] <= 'Z'
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '»':
		return true
	}
	return false
}
