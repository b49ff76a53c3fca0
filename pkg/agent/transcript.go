package agent

import (
	"strings"
	"unicode"

	"github.com/vango-go/letta-voice/pkg/core/voice/stt"
)

// turnText accumulates one participant turn from transcript deltas. Final
// segments are kept in order; the latest interim segment stands in when
// the turn ends before anything was finalized.
type turnText struct {
	finals  []string
	interim string
}

func (t *turnText) add(d stt.TranscriptDelta) {
	text := normalizeSpace(d.Text)
	if d.IsFinal {
		if text != "" {
			t.finals = append(t.finals, text)
		}
		t.interim = ""
		return
	}
	t.interim = text
}

func (t *turnText) take() string {
	text := strings.Join(t.finals, " ")
	if text == "" {
		text = t.interim
	}
	t.finals = nil
	t.interim = ""
	return text
}

// confirmedSpeech reports whether a transcript is real speech rather than
// noise or echo. The bar is higher while the agent is talking.
func confirmedSpeech(text string, isFinal, agentSpeaking bool) bool {
	trimmed := normalizeSpace(text)
	if !isMeaningful(trimmed) {
		return false
	}

	minChars := 4
	if agentSpeaking {
		minChars = 8
	}
	n := len([]rune(trimmed))
	if n < minChars {
		return false
	}
	if agentSpeaking && !isFinal && n < 12 {
		return false
	}
	return true
}

func isMeaningful(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
