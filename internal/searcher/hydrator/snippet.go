package hydrator

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	ModeSentences = "sentences"
	ModeChars     = "chars"

	ellipsis = "…"
)

// SnippetPolicy decides how much of a document body is shown with a result.
type SnippetPolicy struct {
	Mode      string `yaml:"mode"`
	Sentences int    `yaml:"sentences"`
	Chars     int    `yaml:"chars"`
}

// DefaultSnippetPolicy keeps the first two sentences.
func DefaultSnippetPolicy() SnippetPolicy {
	return SnippetPolicy{Mode: ModeSentences, Sentences: 2, Chars: 280}
}

// Apply truncates body according to p. Body lines are joined with single
// spaces first.
func (p SnippetPolicy) Apply(body []string) string {
	text := joinLines(body)
	switch p.Mode {
	case ModeChars:
		return truncateChars(text, p.Chars)
	default:
		return truncateSentences(text, p.Sentences)
	}
}

func joinLines(body []string) string {
	parts := make([]string, 0, len(body))
	for _, line := range body {
		line = strings.TrimSpace(line)
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}

// truncateSentences cuts text right after its n-th period. Non-positive n
// returns the whole text.
func truncateSentences(text string, n int) string {
	if n <= 0 {
		return text
	}
	seen := 0
	for i, r := range text {
		if r != '.' {
			continue
		}
		seen++
		if seen == n {
			return text[:i+1]
		}
	}
	return text
}

// truncateChars keeps at most n runes, backing off to the last word boundary
// when that does not empty the snippet.
func truncateChars(text string, n int) string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	cut := 0
	for i := 0; i < n; i++ {
		_, size := utf8.DecodeRuneInString(text[cut:])
		cut += size
	}
	head := text[:cut]
	if next, _ := utf8.DecodeRuneInString(text[cut:]); !unicode.IsSpace(next) {
		if idx := strings.LastIndexFunc(head, unicode.IsSpace); idx > 0 {
			head = head[:idx]
		}
	}
	return strings.TrimRightFunc(head, unicode.IsSpace) + ellipsis
}
