package utils

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// RandomArray returns 'size' samples from U(-1/sqrt(v), 1/sqrt(v)) drawn from rng.
func RandomArray(rng *rand.Rand, size int, v float64) []float64 {
	min := -1.0 / math.Sqrt(v+1e-12)
	max := 1.0 / math.Sqrt(v+1e-12)
	out := make([]float64, size)
	for i := 0; i < size; i++ {
		out[i] = min + (max-min)*rng.Float64()
	}
	return out
}

// ZerosLike returns a zero matrix with a's shape.
func ZerosLike(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	return mat.NewDense(r, c, nil)
}

// ClipGrads scales all grads so their combined norm <= maxNorm.
// Returns the scale actually applied (<=1.0) or 1.0 if no clip.
func ClipGrads(maxNorm float64, grads ...*mat.Dense) float64 {
	if maxNorm <= 0 {
		return 1.0
	}
	sum := 0.0
	for _, g := range grads {
		if g == nil {
			continue
		}
		n := mat.Norm(g, 2)
		sum += n * n
	}
	gn := math.Sqrt(sum)
	if gn <= maxNorm || gn == 0 {
		return 1.0
	}
	s := maxNorm / gn
	for _, g := range grads {
		if g != nil {
			g.Scale(s, g)
		}
	}
	return s
}

// AddToCol adds v into column j of m.
func AddToCol(m *mat.Dense, j int, v mat.Vector) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		m.Set(i, j, m.At(i, j)+v.AtVec(i))
	}
}
