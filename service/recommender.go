package service

import (
	"live-broadcast/entities"
	"math"
	"sort"
)

type ScoredClip struct {
	Clip  *entities.Clip `json:"clip"`
	Score float64        `json:"score"`
}

// Similarity is the cosine similarity of a and b. It is 0 for empty or mismatched vectors and
// when either norm is zero.
func Similarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// RecommendationsFor scores every other clip with an embedding against clip and returns the top
// n by descending score. Order among equal scores is not guaranteed.
func RecommendationsFor(clip *entities.Clip, all []*entities.Clip, n int) []ScoredClip {
	if clip == nil || !clip.HasEmbedding() || n <= 0 {
		return []ScoredClip{}
	}
	scored := make([]ScoredClip, 0, len(all))
	for _, other := range all {
		if other == nil || other.ID == clip.ID || !other.HasEmbedding() {
			continue
		}
		scored = append(scored, ScoredClip{Clip: other, Score: Similarity(clip.Embedding, other.Embedding)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > n {
		scored = scored[:n]
	}
	return scored
}
