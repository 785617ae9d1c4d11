package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"
)

// Candidate is a ranked result returned by one source.
type Candidate struct {
	// DocumentID identifies the item within its source.
	DocumentID string

	// Source is the name of the source that produced the candidate.
	Source string

	// RawScore is the score in the source's own scale.
	RawScore float64

	// NormalizedScore is set by the ranker: min-max scaled and weighted.
	NormalizedScore float64

	// Snippet is a short excerpt shown to the caller.
	Snippet string

	// ContentRef points at the full item (URL, path, table/pk).
	ContentRef string

	// ContentHash identifies duplicate content across sources.
	// Empty means the ranker derives it from Snippet.
	ContentHash string
}

// SearchRequest is a federated query.
type SearchRequest struct {
	// Query is the search text.
	Query string

	// Sources restricts the query; empty means every enabled source.
	Sources []string

	// Weights overrides configured source weights.
	Weights map[string]float64

	// Deadline bounds the whole query. Zero uses the engine default.
	Deadline time.Duration

	// Limit caps the merged result. Zero means unlimited.
	Limit int
}

// FederatedResult is the merged answer to a SearchRequest.
type FederatedResult struct {
	// Candidates are merged, deduplicated and ranked.
	Candidates []Candidate

	// NonResponding lists sources that failed or missed the deadline.
	NonResponding []string

	// Errors maps each non-responding source to its failure.
	Errors map[string]string

	// Latency is the wall time of the query.
	Latency time.Duration
}

// HashContent derives a content hash from text.
// Whitespace runs and letter case are folded so trivially different
// copies of the same text collide.
func HashContent(text string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(text), " "))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// maxSnippet caps snippet length in bytes.
const maxSnippet = 200

// Snippet picks the first sentence of content that mentions a query term.
// Falls back to the start of content when nothing matches.
func Snippet(content, query string) string {
	terms := strings.Fields(strings.ToLower(query))
	for _, sentence := range splitSentences(content) {
		lower := strings.ToLower(sentence)
		for _, term := range terms {
			if strings.Contains(lower, term) {
				return truncate(sentence)
			}
		}
	}
	return truncate(strings.TrimSpace(content))
}

// splitSentences splits content on common terminators.
func splitSentences(content string) []string {
	var sentences []string
	var current strings.Builder

	for _, r := range content {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func truncate(s string) string {
	if len(s) <= maxSnippet {
		return s
	}
	cut := maxSnippet
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// TermScore counts occurrences of query terms in text.
// Used by sources without a native relevance score.
func TermScore(text, query string) float64 {
	lower := strings.ToLower(text)
	var score float64
	for _, term := range strings.Fields(strings.ToLower(query)) {
		score += float64(strings.Count(lower, term))
	}
	return score
}
