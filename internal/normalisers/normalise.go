// Package normalisers turns marked-up record bodies into plain text for
// indexing and term scoring.
package normalisers

import "strings"

// MIME types with a markup normaliser.
const (
	MIMEMarkdown  = "text/markdown"
	MIMEXMarkdown = "text/x-markdown"
	MIMEHTML      = "text/html"
	MIMEXHTML     = "application/xhtml+xml"
)

// Normalise returns the plain text of raw and a title found in it.
// Unknown MIME types pass through unchanged with no title.
func Normalise(mimeType, raw string) (title, text string) {
	switch baseType(mimeType) {
	case MIMEMarkdown, MIMEXMarkdown:
		return MarkdownTitle(raw), Markdown(raw)
	case MIMEHTML, MIMEXHTML:
		return HTMLTitle(raw), HTML(raw)
	default:
		return "", raw
	}
}

// Supports reports whether mimeType has a markup normaliser.
func Supports(mimeType string) bool {
	switch baseType(mimeType) {
	case MIMEMarkdown, MIMEXMarkdown, MIMEHTML, MIMEXHTML:
		return true
	}
	return false
}

// baseType drops parameters such as "; charset=utf-8".
func baseType(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
