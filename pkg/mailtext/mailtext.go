// Package mailtext normalizes raw message bodies into plain text suitable
// for rule-based classification: HTML stripped, entities unescaped,
// signatures and legal disclaimers removed.
package mailtext

import (
	"regexp"
	"strings"
)

var (
	tagRe    = regexp.MustCompile(`<[^>]*>`)
	styleRe  = regexp.MustCompile(`(?is)<(style|script|head)[^>]*>.*?</(style|script|head)>`)
	brRe     = regexp.MustCompile(`(?i)<(br|/p|/div|/tr|/li)[^>]*>`)
	spacesRe = regexp.MustCompile(`[ \t]+`)
)

// HTMLToText converts an HTML body to plain text, preserving rough line
// structure so signature detection still works.
func HTMLToText(html string) string {
	text := styleRe.ReplaceAllString(html, " ")
	text = brRe.ReplaceAllString(text, "\n")
	text = tagRe.ReplaceAllString(text, " ")

	// Unescape HTML entities (basic ones)
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&quot;", "\"")
	text = strings.ReplaceAll(text, "&#39;", "'")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spacesRe.ReplaceAllString(line, " "))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Markers that start a signature or quoted-reply block. Everything from the
// first marker line onward is dropped.
var signatureMarkers = []string{
	"-- ",
	"--",
	"best regards",
	"kind regards",
	"warm regards",
	"regards,",
	"sincerely",
	"thanks,",
	"thank you,",
	"cheers,",
	"sent from my",
	"get outlook for",
	"on wrote:",
}

var disclaimerMarkers = []string{
	"this email and any attachments",
	"this message contains confidential",
	"confidentiality notice",
	"if you are not the intended recipient",
	"unsubscribe",
	"you are receiving this email because",
}

// StripSignature removes the trailing signature block and legal disclaimers
// from a plain-text body.
func StripSignature(body string) string {
	lines := strings.Split(body, "\n")
	cut := len(lines)

	for i, line := range lines {
		trimmed := strings.ToLower(strings.TrimSpace(line))
		if trimmed == "" {
			continue
		}
		for _, marker := range signatureMarkers {
			if trimmed == marker || strings.HasPrefix(trimmed, marker) {
				// Only treat as signature when it appears past the first
				// quarter of the message, so greetings don't truncate it.
				if i > 0 && i >= len(lines)/4 {
					cut = i
				}
				break
			}
		}
		if cut != len(lines) {
			break
		}
		for _, marker := range disclaimerMarkers {
			if strings.Contains(trimmed, marker) {
				cut = i
				break
			}
		}
		if cut != len(lines) {
			break
		}
	}

	return strings.TrimSpace(strings.Join(lines[:cut], "\n"))
}

// Normalize runs the full body pipeline for a message.
func Normalize(body string, isHTML bool) string {
	if isHTML {
		body = HTMLToText(body)
	}
	return StripSignature(body)
}

// Snippet collapses a body into a short single-line preview of at most max
// runes. Truncation happens on rune boundaries so the stored snippet is
// always valid UTF-8.
func Snippet(body string, max int) string {
	s := strings.Join(strings.Fields(body), " ")
	if runes := []rune(s); len(runes) > max {
		s = string(runes[:max]) + "..."
	}
	return s
}
