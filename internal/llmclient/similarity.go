package llmclient

import (
	"fmt"
	"math"
)

// CosineSimilarity scores the similarity between two embedding vectors.
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same dimension")
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	magA, magB = math.Sqrt(magA), math.Sqrt(magB)
	if magA == 0 || magB == 0 {
		return 0, fmt.Errorf("one or both vectors have zero magnitude")
	}
	return dot / (magA * magB), nil
}
