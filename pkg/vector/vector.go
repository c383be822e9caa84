// Package vector holds the embedding math and provider plumbing shared by the
// narrative store and profile analysis.
package vector

import "math"

// Cosine returns the cosine similarity of a and b. Nil, empty, or
// mismatched-length inputs score 0, as does the zero vector against anything.
// The result is bounded to [-1, 1] up to IEEE754 rounding.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
