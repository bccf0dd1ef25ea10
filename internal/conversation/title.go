package conversation

import "strings"

const (
	titleSentenceScan = 60
	titleMaxLen       = 50
	titleMinWordCut   = 30
	titleEllipsis     = "..."
)

// TitleFromMessage derives a conversation title from its first message.
// It prefers a complete first sentence, then the whole message when short,
// and falls back to a word-boundary truncation with an ellipsis.
func TitleFromMessage(message string) string {
	normalized := strings.Join(strings.Fields(message), " ")
	if normalized == "" {
		return "New conversation"
	}

	runes := []rune(normalized)

	// A full sentence near the start makes the best title.
	scan := len(runes)
	if scan > titleSentenceScan {
		scan = titleSentenceScan
	}
	for i := 0; i < scan; i++ {
		switch runes[i] {
		case '.', '!', '?':
			return string(runes[:i+1])
		}
	}

	if len(runes) <= titleMaxLen {
		return normalized
	}

	// Cut at the last word boundary past the midpoint so the title does not
	// end mid-word, unless the message is one long token.
	cut := titleMaxLen
	for i := titleMaxLen; i > titleMinWordCut; i-- {
		if runes[i] == ' ' {
			cut = i
			break
		}
	}
	if cut == titleMaxLen {
		return string(runes[:titleMaxLen]) + titleEllipsis
	}
	return string(runes[:cut]) + titleEllipsis
}
