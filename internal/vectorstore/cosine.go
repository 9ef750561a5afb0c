package vectorstore

import (
	"math"
	"sort"

	"github.com/xxxsen/studyrag/internal/model"
)

// cosineDistance is 1 - cosine similarity. A zero vector on either side has
// similarity 0, so it lands at distance 1 instead of producing NaN.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

type entry struct {
	id        string
	document  string
	embedding []float32
	metadata  model.Metadata
}

// rank scores entries (already in insertion order) and keeps the k nearest.
func rank(entries []entry, query []float32, k int) []model.Hit {
	if k <= 0 || len(entries) == 0 {
		return []model.Hit{}
	}
	hits := make([]model.Hit, len(entries))
	for i, e := range entries {
		hits[i] = model.Hit{
			ID:       e.id,
			Document: e.document,
			Metadata: e.metadata,
			Distance: cosineDistance(query, e.embedding),
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
