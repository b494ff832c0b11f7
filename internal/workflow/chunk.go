package workflow

import (
	"strings"
	"unicode/utf8"
)

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

// SplitChunks splits text on line boundaries into chunks of at most maxTokens
// each. A single line over budget becomes its own chunk; lines are never split.
// strings.Join(chunks, "\n") reproduces text.
func SplitChunks(text string, maxTokens int) []string {
	if text == "" {
		return nil
	}
	budget := maxTokens * 4
	lines := strings.Split(text, "\n")

	var (
		chunks []string
		cur    []string
		size   int
	)
	for _, line := range lines {
		n := utf8.RuneCountInString(line)
		sep := 0
		if len(cur) > 0 {
			sep = 1
		}
		if len(cur) > 0 && size+sep+n > budget {
			chunks = append(chunks, strings.Join(cur, "\n"))
			cur, size, sep = nil, 0, 0
		}
		cur = append(cur, line)
		size += sep + n
	}
	return append(chunks, strings.Join(cur, "\n"))
}
