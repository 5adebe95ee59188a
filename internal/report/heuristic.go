package report

import (
	"strings"
	"unicode/utf8"
)

// minCompleteLen is the shortest text, in characters, accepted as a
// finished report.
const minCompleteLen = 1000

// linkDumpMinLines and linkDumpRatio identify placeholder pages that are
// mostly navigation links rather than report prose.
const (
	linkDumpMinLines = 10
	linkDumpRatio    = 0.7
)

// inProgressPhrases mark a report page that was captured before generation
// finished. Matching is case-insensitive substring.
var inProgressPhrases = []string{
	"research in progress",
	"still researching",
	"report is being generated",
	"generating your report",
	"this may take a few minutes",
	"we're working on your request",
	"deep research is running",
}

// IsIncomplete reports whether text looks like an unfinished capture rather
// than a real report. Rules apply in order: too short, then in-progress
// phrases, then link-dump shape. A false "complete" is possible; callers
// treat the verdict as best effort.
func IsIncomplete(text string) bool {
	if utf8.RuneCountInString(text) < minCompleteLen {
		return true
	}
	lower := strings.ToLower(text)
	for _, p := range inProgressPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return isLinkDump(text)
}

// isLinkDump reports whether text has more than linkDumpMinLines lines with
// over linkDumpRatio of them carrying a URL.
func isLinkDump(text string) bool {
	lines := strings.Split(text, "\n")
	if len(lines) <= linkDumpMinLines {
		return false
	}
	withURL := 0
	for _, line := range lines {
		if strings.Contains(line, "http://") || strings.Contains(line, "https://") {
			withURL++
		}
	}
	return float64(withURL) > linkDumpRatio*float64(len(lines))
}
