package normalisers

import (
	"html"
	"regexp"
	"strings"
)

var (
	htmlTitle      = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	htmlH1         = regexp.MustCompile(`(?is)<h1[^>]*>(.*?)</h1>`)
	htmlDropped    = regexp.MustCompile(`(?is)<(script|style|noscript|head|title|svg|template)(\s[^>]*)?>.*?</(script|style|noscript|head|title|svg|template)>`)
	htmlComment    = regexp.MustCompile(`(?s)<!--.*?-->`)
	htmlBlockOpen  = regexp.MustCompile(`(?i)<(p|div|h[1-6]|li|tr|blockquote|pre|table|section|article|header|footer|ul|ol)[^>]*>`)
	htmlBlockClose = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|blockquote|pre|table|section|article|header|footer|ul|ol)>`)
	htmlBreak      = regexp.MustCompile(`(?i)<(br|hr)\s*/?>`)
	htmlCell       = regexp.MustCompile(`(?i)</t[dh]>`)
	htmlTag        = regexp.MustCompile(`<[^>]+>`)
	spaceRuns      = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
)

// HTML extracts readable text. Scripts, styles and the document head are
// dropped; block elements become line breaks; entities are decoded.
func HTML(raw string) string {
	s := htmlDropped.ReplaceAllString(raw, "")
	s = htmlComment.ReplaceAllString(s, "")
	s = htmlBlockOpen.ReplaceAllString(s, "\n")
	s = htmlBlockClose.ReplaceAllString(s, "\n")
	s = htmlBreak.ReplaceAllString(s, "\n")
	s = htmlCell.ReplaceAllString(s, " ")
	s = htmlTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = spaceRuns.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// HTMLTitle returns the <title>, else the first <h1>, else "".
func HTMLTitle(raw string) string {
	for _, re := range []*regexp.Regexp{htmlTitle, htmlH1} {
		if m := re.FindStringSubmatch(raw); len(m) > 1 {
			title := html.UnescapeString(htmlTag.ReplaceAllString(m[1], ""))
			if title = strings.Join(strings.Fields(title), " "); title != "" {
				return title
			}
		}
	}
	return ""
}
