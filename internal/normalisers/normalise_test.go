package normalisers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkdown(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "headings", input: "# Title\n## Subtitle\n### Third", expected: "Title\nSubtitle\nThird"},
		{name: "bold", input: "This is **bold** text", expected: "This is bold text"},
		{name: "italic", input: "This is *very* _nice_", expected: "This is very nice"},
		{name: "links", input: "Click [here](https://example.com)", expected: "Click here"},
		{name: "images keep alt text", input: "See ![the diagram](img.png) here", expected: "See the diagram here"},
		{name: "code blocks keep code", input: "Before\n```go\nmake deploy\n```\nAfter", expected: "Before\n\nmake deploy\n\nAfter"},
		{name: "inline code keeps code", input: "Run `make deploy` now", expected: "Run make deploy now"},
		{name: "blockquotes", input: "> This is a quote", expected: "This is a quote"},
		{name: "bullets", input: "- Item 1\n- Item 2", expected: "Item 1\nItem 2"},
		{name: "numbered", input: "1. First\n2) Second", expected: "First\nSecond"},
		{name: "rules", input: "Above\n\n---\n\nBelow", expected: "Above\n\nBelow"},
		{name: "table rule", input: "| a | b |\n|---|:-:|\n| 1 | 2 |", expected: "| a | b |\n\n| 1 | 2 |"},
		{name: "plain text unchanged", input: "Deploy with make deploy.", expected: "Deploy with make deploy."},
		{name: "identifiers keep underscores", input: "Set max_file_size first", expected: "Set max_file_size first"},
		{name: "windows newlines", input: "# A\r\n\r\ntext", expected: "A\n\ntext"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Markdown(tt.input))
		})
	}
}

func TestMarkdownTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "first h1", input: "intro\n# My Document\n# Second", want: "My Document"},
		{name: "closing hashes", input: "#  Spaced Title  ##", want: "Spaced Title"},
		{name: "h2 is not a title", input: "## Section", want: ""},
		{name: "ignores code fences", input: "```\n# comment\n```\n# Real", want: "Real"},
		{name: "none", input: "plain text", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MarkdownTitle(tt.input))
		})
	}
}

func TestHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "paragraphs", input: "<p>First</p><p>Second</p>", expected: "First\nSecond"},
		{name: "drops scripts and styles", input: "<style>p{}</style><p>Text</p><script>alert(1)</script>", expected: "Text"},
		{name: "drops head", input: "<html><head><title>T</title></head><body>Body</body></html>", expected: "Body"},
		{name: "drops comments", input: "A<!-- hidden -->B", expected: "AB"},
		{name: "entities", input: "<p>Fish &amp; chips &lt;3</p>", expected: "Fish & chips <3"},
		{name: "line breaks", input: "one<br>two<br/>three", expected: "one\ntwo\nthree"},
		{name: "inline tags", input: "<p>A <b>bold</b> <a href=\"x\">link</a></p>", expected: "A bold link"},
		{name: "table cells", input: "<table><tr><td>a</td><td>b</td></tr></table>", expected: "a b"},
		{name: "collapses spaces", input: "<div>  lots   of\t space </div>", expected: "lots of space"},
		{name: "empty", input: "", expected: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTML(tt.input))
		})
	}
}

func TestHTMLTitle(t *testing.T) {
	assert.Equal(t, "Release <notes>", HTMLTitle("<title> Release &lt;notes&gt; </title>"))
	assert.Equal(t, "Heading", HTMLTitle("<body><h1 class=\"x\">Heading</h1></body>"))
	assert.Equal(t, "Heading", HTMLTitle("<title>  </title><h1>Heading</h1>"))
	assert.Equal(t, "", HTMLTitle("<p>none</p>"))
}

func TestNormalise(t *testing.T) {
	title, text := Normalise("text/markdown", "# Runbook\n\nRestart **everything**.")
	assert.Equal(t, "Runbook", title)
	assert.Equal(t, "Runbook\n\nRestart everything.", text)

	title, text = Normalise("text/html; charset=utf-8", "<title>Page</title><p>Hi</p>")
	assert.Equal(t, "Page", title)
	assert.Equal(t, "Hi", text)

	title, text = Normalise("text/plain", "  *kept* as is ")
	assert.Empty(t, title)
	assert.Equal(t, "  *kept* as is ", text)

	assert.True(t, Supports("TEXT/HTML"))
	assert.True(t, Supports("text/x-markdown"))
	assert.False(t, Supports("application/json"))
}
