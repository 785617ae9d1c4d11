// Package hashing provides a deterministic feature-hashing embedder.
//
// Words and character trigrams are hashed into a fixed number of buckets
// and the result is L2-normalised. No model or network is needed, so the
// same text always produces the same vector.
package hashing

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
)

// Ensure Embedder implements the interface.
var _ driven.Embedder = (*Embedder)(nil)

// DefaultDimensions is the vector length when none is configured.
const DefaultDimensions = 256

const (
	wordWeight    = 0.7
	trigramWeight = 0.3
	trigramSize   = 3
)

// Embedder hashes text features into a fixed-size vector.
type Embedder struct {
	dims int
}

// New creates an embedder producing vectors of length dims.
// A non-positive dims selects DefaultDimensions.
func New(dims int) *Embedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Embedder{dims: dims}
}

// Dimensions returns the vector length.
func (e *Embedder) Dimensions() int { return e.dims }

// Embed returns the normalised feature vector for text.
// Blank text yields the zero vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, e.dims)
	for _, w := range words(text) {
		vec[e.bucket(w)] += wordWeight
	}
	for _, g := range trigrams(text) {
		vec[e.bucket(g)] += trigramWeight
	}
	normalise(vec)
	return vec, nil
}

func (e *Embedder) bucket(feature string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	return int(h.Sum64() % uint64(e.dims))
}

// words splits on anything that is not a letter or digit and lower-cases.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// trigrams slides a three-rune window over the letters and digits of text.
func trigrams(text string) []string {
	var runes []rune
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			runes = append(runes, r)
		}
	}
	if len(runes) < trigramSize {
		return nil
	}
	out := make([]string, 0, len(runes)-trigramSize+1)
	for i := 0; i+trigramSize <= len(runes); i++ {
		out = append(out, string(runes[i:i+trigramSize]))
	}
	return out
}

func normalise(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
