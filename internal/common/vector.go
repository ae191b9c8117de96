package common

import (
	"gonum.org/v1/gonum/floats"
)

func L2Norm(v []float64) float64 {
	return floats.Norm(v, 2)
}

// CosineSimilarity returns 0 when either vector has zero norm, so callers
// treat a degenerate direction as neutral rather than undefined.
func CosineSimilarity(a []float64, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}

	return floats.Dot(a, b) / (normA * normB)
}

// Normalize returns the unit-norm copy of v, or a zero vector when v has
// zero norm.
func Normalize(v []float64) []float64 {
	normalized := make([]float64, len(v))

	norm := floats.Norm(v, 2)
	if norm == 0 {
		return normalized
	}

	copy(normalized, v)
	floats.Scale(1/norm, normalized)

	return normalized
}

func CloneVector(v []float64) []float64 {
	clone := make([]float64, len(v))
	copy(clone, v)
	return clone
}

func Clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
