package utils

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ---------- Softmax variants ----------

// ColVectorSoftmax applies softmax across the single column of a (r x 1) vector.
// Used for logits -> probabilities in the CE loss.
func ColVectorSoftmax(v *mat.Dense) *mat.Dense {
	r, c := v.Dims()
	if c != 1 {
		panic("ColVectorSoftmax expects a (r x 1) column vector")
	}
	out := mat.NewDense(r, 1, nil)
	// stability: subtract max
	mx := v.At(0, 0)
	for i := 1; i < r; i++ {
		if v.At(i, 0) > mx {
			mx = v.At(i, 0)
		}
	}
	sum := 0.0
	for i := 0; i < r; i++ {
		e := math.Exp(v.At(i, 0) - mx)
		out.Set(i, 0, e)
		sum += e
	}
	for i := 0; i < r; i++ {
		out.Set(i, 0, out.At(i, 0)/sum)
	}
	return out
}

// Softmax over a plain slice, written into dst (allocated when nil).
func Softmax(dst, x []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(x))
	}
	if len(x) == 0 {
		return dst
	}
	mx := floats.Max(x)
	sum := 0.0
	for i, v := range x {
		e := math.Exp(v - mx)
		dst[i] = e
		sum += e
	}
	floats.Scale(1/sum, dst)
	return dst
}

// LogSoftmax returns log(softmax(x)) computed through log-sum-exp.
func LogSoftmax(x []float64) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	lse := floats.LogSumExp(x)
	for i, v := range x {
		out[i] = v - lse
	}
	return out
}

// ---------- Loss ----------

// CrossEntropyWithIndex returns -log p(gold) and dL/dlogits = p - onehot(gold)
// for a (r x 1) logits vector. Out-of-range gold ids score as id 0.
func CrossEntropyWithIndex(logits *mat.Dense, gold int) (float64, *mat.Dense) {
	r, c := logits.Dims()
	if c != 1 {
		panic("CrossEntropyWithIndex expects (r x 1) logits vector")
	}
	prob := ColVectorSoftmax(logits)
	if gold < 0 || gold >= r {
		gold = 0
	}
	loss := -math.Log(prob.At(gold, 0) + 1e-12)
	grad := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		grad.Set(i, 0, prob.At(i, 0))
	}
	grad.Set(gold, 0, grad.At(gold, 0)-1.0)
	return loss, grad
}

// Argmax of a (r x 1) column, first index on ties.
func Argmax(v *mat.Dense) int {
	r, _ := v.Dims()
	best := 0
	for i := 1; i < r; i++ {
		if v.At(i, 0) > v.At(best, 0) {
			best = i
		}
	}
	return best
}

// Finite reports whether no value is NaN or infinite.
func Finite(xs ...float64) bool {
	for _, v := range xs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
