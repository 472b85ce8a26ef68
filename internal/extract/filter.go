package extract

import (
	"strings"
	"unicode/utf8"
)

// Line is a raw input line with its 1-indexed position.
type Line struct {
	Num  int
	Text string
}

// SplitLines normalizes line endings and splits text into lines. A trailing
// newline does not produce an extra empty line.
func SplitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// FilterLines keeps the lines that can carry a record: longer than minLen
// runes once trimmed, and holding at least one date token. Dropped lines are
// not reported anywhere.
func FilterLines(lines []string, minLen int) []Line {
	var kept []Line
	for i, l := range lines {
		if keepLine(l, minLen) {
			kept = append(kept, Line{Num: i + 1, Text: l})
		}
	}
	return kept
}

func keepLine(line string, minLen int) bool {
	if utf8.RuneCountInString(strings.TrimSpace(line)) <= minLen {
		return false
	}
	return dateTokenRE.MatchString(line)
}
