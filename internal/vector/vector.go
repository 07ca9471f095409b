// Package vector holds the float32 arithmetic shared by the embedding table,
// the memory slots and the retrieval scorer.
package vector

import "math"

// Dot returns the inner product of a and b. Vectors of unequal length score 0.
func Dot(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}

// Norm returns the Euclidean length of v.
func Norm(v []float32) float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	return float32(math.Sqrt(float64(sum)))
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero
// vector or the widths differ.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float32
	for i := 0; i < len(a); i++ {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(magA))) * float32(math.Sqrt(float64(magB))))
}

// Blend writes (1-s)*dst + s*src into dst. Widths must already match.
func Blend(dst, src []float32, s float32) {
	keep := 1 - s
	for i := range dst {
		dst[i] = keep*dst[i] + s*src[i]
	}
}

// Mean returns the element-wise average of a and b as a new vector.
func Mean(a, b []float32) []float32 {
	out := make([]float32, len(a))
	for i := range a {
		out[i] = (a[i] + b[i]) / 2
	}
	return out
}

// Normalize returns v scaled to unit length. Zero vectors are returned as a copy.
func Normalize(v []float32) []float32 {
	out := Clone(v)
	n := Norm(v)
	if n == 0 {
		return out
	}
	for i := range out {
		out[i] /= n
	}
	return out
}

func Clone(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
