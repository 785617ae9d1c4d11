package normalisers

import (
	"regexp"
	"strings"
)

var (
	mdFence       = regexp.MustCompile("(?m)^[ \\t]*(```|~~~)[^\\n]*$")
	mdInlineCode  = regexp.MustCompile("`([^`]+)`")
	mdImage       = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	mdLink        = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	mdHeading     = regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]+`)
	mdEmphasis    = regexp.MustCompile(`(\*\*|__|\*|~~)([^*_~\n]+)(\*\*|__|\*|~~)`)
	mdUnderscore  = regexp.MustCompile(`\b_([^_\n]+)_\b`)
	mdBlockquote  = regexp.MustCompile(`(?m)^[ \t]*>[ \t]?`)
	mdRule        = regexp.MustCompile(`(?m)^[ \t]*([-*_][ \t]*){3,}$`)
	mdBullet      = regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]+`)
	mdNumbered    = regexp.MustCompile(`(?m)^[ \t]*\d+[.)][ \t]+`)
	mdTableRule   = regexp.MustCompile(`(?m)^[ \t]*\|?([ \t]*:?-+:?[ \t]*\|)+[ \t]*:?-*:?[ \t]*$`)
	blankLineRuns = regexp.MustCompile(`\n{3,}`)
)

// Markdown strips common Markdown syntax. Code keeps its text; images keep
// their alt text; links keep their label.
func Markdown(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = mdFence.ReplaceAllString(s, "")
	s = mdInlineCode.ReplaceAllString(s, "$1")
	s = mdImage.ReplaceAllString(s, "$1")
	s = mdLink.ReplaceAllString(s, "$1")
	s = mdHeading.ReplaceAllString(s, "")
	s = mdEmphasis.ReplaceAllString(s, "$2")
	s = mdUnderscore.ReplaceAllString(s, "$1")
	s = mdBlockquote.ReplaceAllString(s, "")
	s = mdTableRule.ReplaceAllString(s, "")
	s = mdRule.ReplaceAllString(s, "")
	s = mdBullet.ReplaceAllString(s, "")
	s = mdNumbered.ReplaceAllString(s, "")
	s = blankLineRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// MarkdownTitle returns the first level-one heading, or "".
func MarkdownTitle(raw string) string {
	inFence := false
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "```") || strings.HasPrefix(line, "~~~") {
			inFence = !inFence
			continue
		}
		if !inFence && strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.Trim(line[2:], "# "))
		}
	}
	return ""
}
