package repositories

import "math"

// CosineSimilarity returns the cosine of the angle between a and b.
// Vectors of different length or zero magnitude have similarity 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// RelevanceFromCosine maps a cosine similarity of unit vectors to a [0,1]
// relevance score through their euclidean distance: 1 - d/sqrt(2).
func RelevanceFromCosine(cos float64) float64 {
	if cos > 1 {
		cos = 1
	}
	d := math.Sqrt(2 - 2*cos)
	return clamp01(1 - d/math.Sqrt2)
}

// CosineFromRelevance inverts RelevanceFromCosine. Backends that filter on raw
// cosine use it to translate a relevance threshold.
func CosineFromRelevance(r float64) float64 {
	r = clamp01(r)
	return 1 - (1-r)*(1-r)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
