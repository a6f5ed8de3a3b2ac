package vector

import "math"

// Incomparable marks a pair of vectors that cannot be scored. It
// sorts below every valid cosine similarity.
const Incomparable = -1.0

// CosineSimilarity scores two embeddings in [-1, 1]. Mismatched
// lengths, empty vectors, zero magnitudes and non-finite inputs all
// return Incomparable rather than an error, so one bad stored chunk
// never aborts a search.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return Incomparable
	}
	var dot, normA, normB float64
	for i := range a {
		x := float64(a[i])
		y := float64(b[i])
		if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
			return Incomparable
		}
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return Incomparable
	}
	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return Incomparable
	}
	return score
}
