// Package htmlx normalizes backend report text into a canonical HTML
// fragment. Both transforms are pure and tolerate arbitrary input.
package htmlx

import (
	"regexp"
	"strings"
)

var (
	htmlBlockRe  = regexp.MustCompile(`(?s)<html>.*?</html>`)
	bodyBlockRe  = regexp.MustCompile(`(?s)<body>.*?</body>`)
	closingTagRe = regexp.MustCompile(`</[^>]+>`)
)

// startTags are the fragments a report is expected to open with, in the
// shapes the backends actually emit.
var startTags = []string{"<div", "<html", "<body", "<section", "<h1"}

// Extract returns the first well-formed <html> block in text, falling
// back to the first <body> block, and finally to the input unchanged.
// A bare <div> fragment already is the report, so it passes through
// whole. Used before persisting so conversational wrapper text does not
// reach the store.
func Extract(text string) string {
	if m := htmlBlockRe.FindString(text); m != "" {
		return m
	}
	if m := bodyBlockRe.FindString(text); m != "" {
		return m
	}
	return text
}

// Clean strips the JSON and formatting artifacts backends wrap around
// their HTML payloads: literal and actual line breaks, surrounding quote
// and bracket noise, and any text outside the outermost known tags. Text
// with no recognizable tag is wrapped in a <div> so the result is always
// an HTML fragment. Clean is idempotent.
func Clean(raw string) string {
	if raw == "" {
		return ""
	}

	s := raw
	s = strings.ReplaceAll(s, `\n`, "")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\t", " ")
	s = strings.Join(strings.Fields(s), " ")

	s = strings.TrimRight(s, "}])")
	s = strings.Trim(s, `"'`)

	if i := earliestStartTag(s); i > 0 {
		s = s[i:]
	}
	// Anything before the first '<' is conversational preamble.
	if i := strings.IndexByte(s, '<'); i > 0 {
		s = s[i:]
	}

	if s != "" && !strings.HasPrefix(s, "<") {
		s = "<div>" + s + "</div>"
	}

	// Drop trailing junk after the last closing tag.
	if locs := closingTagRe.FindAllStringIndex(s, -1); len(locs) > 0 {
		end := locs[len(locs)-1][1]
		if !strings.Contains(s[end:], "<") {
			s = s[:end]
		}
	}

	return strings.TrimSpace(s)
}

func earliestStartTag(s string) int {
	earliest := -1
	for _, tag := range startTags {
		if i := strings.Index(s, tag); i != -1 && (earliest == -1 || i < earliest) {
			earliest = i
		}
	}
	return earliest
}
