package services

import (
	"math"
	"sort"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

// RankInput is everything the merge needs. It carries no I/O handles.
type RankInput struct {
	// Results holds each responding source's candidates.
	Results map[string][]domain.Candidate

	// Weights maps source name to weight. Missing sources weigh 1.0.
	Weights map[string]float64

	// Priority maps source name to its declaration index; lower wins ties.
	Priority map[string]int
}

// Rank merges per-source candidates into one deterministic list.
//
// Steps: scores are min-max normalised to [0,1] per source (a source whose
// candidates all share one score gets 1.0), multiplied by the source weight,
// deduplicated by content hash keeping the highest score (ties go to the
// higher-priority source), and sorted by score desc, source priority,
// then document id. The same input always yields the same output.
func Rank(in RankInput) []domain.Candidate {
	best := make(map[string]domain.Candidate)

	for source, cands := range in.Results {
		if len(cands) == 0 {
			continue
		}
		weight := domain.DefaultWeight
		if w, ok := in.Weights[source]; ok {
			weight = w
		}
		lo, hi := scoreRange(cands)

		for _, c := range cands {
			c.Source = source
			c.NormalizedScore = normalise(c.RawScore, lo, hi) * weight
			if c.ContentHash == "" {
				c.ContentHash = contentKey(c)
			}
			if cur, ok := best[c.ContentHash]; !ok || better(c, cur, in.Priority) {
				best[c.ContentHash] = c
			}
		}
	}

	out := make([]domain.Candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return better(out[i], out[j], in.Priority)
	})
	return out
}

// better reports whether a ranks before b.
func better(a, b domain.Candidate, priority map[string]int) bool {
	if a.NormalizedScore != b.NormalizedScore {
		return a.NormalizedScore > b.NormalizedScore
	}
	pa, pb := rankOf(a.Source, priority), rankOf(b.Source, priority)
	if pa != pb {
		return pa < pb
	}
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	if a.DocumentID != b.DocumentID {
		return a.DocumentID < b.DocumentID
	}
	return a.ContentHash < b.ContentHash
}

// rankOf places undeclared sources after every declared one.
func rankOf(source string, priority map[string]int) int {
	if p, ok := priority[source]; ok {
		return p
	}
	return math.MaxInt
}

func scoreRange(cands []domain.Candidate) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, c := range cands {
		s := finite(c.RawScore)
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	return lo, hi
}

func normalise(raw, lo, hi float64) float64 {
	if hi <= lo {
		return 1.0
	}
	return (finite(raw) - lo) / (hi - lo)
}

// finite maps NaN and infinities onto the real line so one bad score
// cannot poison a source's range.
func finite(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case math.IsInf(v, 1):
		return 1e300
	case math.IsInf(v, -1):
		return -1e300
	}
	return v
}

// contentKey derives the dedup key for a candidate with no content hash.
// Candidates without text are keyed by identity so they never collapse.
func contentKey(c domain.Candidate) string {
	if c.Snippet != "" {
		return domain.HashContent(c.Snippet)
	}
	return domain.HashContent(c.Source + "\x00" + c.DocumentID)
}
