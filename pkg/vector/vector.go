// Package vector provides small vector-math helpers for similarity scoring.
package vector

import "math"

// CosineSimilarity computes the cosine similarity between two vectors.
//
// Returns a value between -1 and 1, where:
//   - 1 means vectors are identical
//   - 0 means vectors are orthogonal (unrelated)
//   - -1 means vectors are opposite
//
// Mismatched or empty vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dot float64
	var magA float64
	var magB float64

	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}

	if magA == 0.0 || magB == 0.0 {
		return 0.0
	}

	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// Magnitude computes the L2 norm of a vector.
func Magnitude(v []float32) float64 {
	sum := 0.0
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

// Normalize returns a new vector scaled to unit length.
// Zero vectors are returned unchanged.
func Normalize(v []float32) []float32 {
	mag := Magnitude(v)
	if mag == 0.0 {
		return v
	}

	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = float32(float64(val) / mag)
	}
	return result
}
