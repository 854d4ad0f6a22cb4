package vecmath

import (
	"math"
	"sort"
)

// Cosine returns the cosine similarity of a and b, or 0 when either is empty,
// zero-length or the dimensions differ.
func Cosine(a, b []float32) float64 {
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

// Scored pairs a key with its similarity.
type Scored struct {
	Key   string
	Index int
	Score float64
}

// Less orders by score descending, then key ascending.
func Less(a, b Scored) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Key < b.Key
}

// TopK returns the k best entries by Less. The input is left untouched.
func TopK(in []Scored, k int) []Scored {
	out := make([]Scored, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return Less(out[i], out[j]) })
	if k >= 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
