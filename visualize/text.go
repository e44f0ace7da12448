package visualize

import (
	"errors"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// ErrEmptyOutput is returned when there is no text left to format
var ErrEmptyOutput = errors.New("no output to format")

// TruncationMarker ends formatted text that hit the character limit
const TruncationMarker = "\n... [truncated]"

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*\x07`)

// formatText normalizes raw program output for display. JSON documents are
// pretty-printed; everything else has its whitespace cleaned up. The result
// holds at most maxChars runes plus the truncation marker.
func formatText(raw string, maxChars int) (string, error) {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = ansiEscape.ReplaceAllString(text, "")

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmptyOutput
	}

	if isJSONDocument(trimmed) {
		text = strings.TrimRight(string(pretty.Pretty([]byte(trimmed))), "\n")
	} else {
		text = tidyLines(trimmed)
	}

	return truncateRunes(text, maxChars), nil
}

func isJSONDocument(s string) bool {
	if s[0] != '{' && s[0] != '[' {
		return false
	}
	return gjson.Valid(s)
}

// tidyLines trims trailing whitespace and collapses runs of blank lines
func tidyLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func truncateRunes(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == maxChars {
			return s[:i] + TruncationMarker
		}
		count++
	}
	return s
}
