package vector

import (
	"math"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// Graph tuning.
const (
	graphM        = 16
	graphEfSearch = 20
	graphMl       = 0.25
)

// hit is one nearest-neighbour result.
type hit struct {
	id         string
	similarity float64
}

// graph maps row IDs onto an HNSW graph. Replaced rows are orphaned
// rather than deleted from the graph; searches skip orphaned keys.
type graph struct {
	mu      sync.RWMutex
	g       *hnsw.Graph[uint64]
	dims    int
	keys    map[string]uint64
	ids     map[uint64]string
	next    uint64
	orphans int
}

func newGraph(dims int) *graph {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = graphM
	g.EfSearch = graphEfSearch
	g.Ml = graphMl
	return &graph{
		g:    g,
		dims: dims,
		keys: make(map[string]uint64),
		ids:  make(map[uint64]string),
	}
}

// put adds or replaces the vector for id. It reports false when the vector
// has the wrong length or no direction.
func (g *graph) put(id string, vec []float32) bool {
	if len(vec) != g.dims {
		return false
	}
	unit, ok := unitVector(vec)

	g.mu.Lock()
	defer g.mu.Unlock()
	if old, exists := g.keys[id]; exists {
		delete(g.ids, old)
		delete(g.keys, id)
		g.orphans++
	}
	if !ok {
		return false
	}
	key := g.next
	g.next++
	g.g.Add(hnsw.MakeNode(key, unit))
	g.keys[id] = key
	g.ids[key] = id
	return true
}

// search returns up to k live rows nearest to q, most similar first.
func (g *graph) search(q []float32, k int) []hit {
	if k <= 0 || len(q) != g.dims {
		return nil
	}
	unit, ok := unitVector(q)
	if !ok {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.g.Len() == 0 {
		return nil
	}
	nodes := g.g.Search(unit, k+g.orphans)
	hits := make([]hit, 0, len(nodes))
	for _, n := range nodes {
		id, live := g.ids[n.Key]
		if !live {
			continue
		}
		d := g.g.Distance(unit, n.Value)
		hits = append(hits, hit{id: id, similarity: 1 - float64(d)})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].similarity != hits[j].similarity {
			return hits[i].similarity > hits[j].similarity
		}
		return hits[i].id < hits[j].id
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// size returns the number of live rows.
func (g *graph) size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.keys)
}

// unitVector returns a normalised copy of v, or false for a zero or
// non-finite vector.
func unitVector(v []float32) ([]float32, bool) {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, false
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out, true
}
