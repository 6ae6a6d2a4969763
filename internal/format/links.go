// Package format rewrites assistant markup into Slack's message syntax.
package format

import "strings"

// Links rewrites markdown-style "[label](url)" spans into Slack's
// "<url|label>" form, scanning left to right until no complete span remains.
// The label runs from the first '[' to the first ']' after it, even when that
// ']' sits beyond the matched ')'. Malformed spans (no ')' after the '[', no
// ']' or '(' before that ')') end the scan and the remaining text passes
// through untouched.
func Links(text string) string {
	var b strings.Builder
	for {
		start := strings.Index(text, "[")
		if start == -1 {
			break
		}
		rest := text[start:]
		end := strings.Index(rest, ")")
		if end == -1 {
			break
		}
		closing := strings.Index(rest, "]")
		open := strings.Index(rest, "(")
		if closing == -1 || open == -1 || open+1 > end {
			break
		}
		label := rest[1:closing]
		url := rest[open+1 : end]
		b.WriteString(text[:start])
		b.WriteString("<" + url + "|" + label + ">")
		text = text[start+end+1:]
	}
	return b.String() + text
}
