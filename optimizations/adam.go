package optimizations

import (
	"fmt"
	"math"

	"github.com/manningwu07/namer/utils"
	"gonum.org/v1/gonum/mat"
)

// AdamUpdateInPlace applies one bias-corrected Adam step to p.
// With nesterov the first moment is replaced by its look-ahead (Nadam):
//
//	p -= lr * (b1*mhat + (1-b1)*g/(1-b1^t)) / (sqrt(vhat)+eps)
func AdamUpdateInPlace(
	p, g, m, v *mat.Dense,
	t int,
	lr, beta1, beta2, eps float64,
	nesterov bool,
) {
	pr, pc := p.Dims()
	if gr, gc := g.Dims(); gr != pr || gc != pc {
		panic("AdamUpdateInPlace: grad shape mismatch")
	}
	if mr, mc := m.Dims(); mr != pr || mc != pc {
		panic("AdamUpdateInPlace: m shape mismatch")
	}
	if vr, vc := v.Dims(); vr != pr || vc != pc {
		panic("AdamUpdateInPlace: v shape mismatch")
	}
	b1t := math.Pow(beta1, float64(t))
	b2t := math.Pow(beta2, float64(t))
	c1 := 1.0 / (1.0 - b1t)
	c2 := 1.0 / (1.0 - b2t)
	for i := 0; i < pr; i++ {
		for j := 0; j < pc; j++ {
			gij := g.At(i, j)
			mij := beta1*m.At(i, j) + (1.0-beta1)*gij
			vij := beta2*v.At(i, j) + (1.0-beta2)*gij*gij
			mhat := mij * c1
			if nesterov {
				mhat = beta1*mhat + (1.0-beta1)*gij*c1
			}
			vhat := vij * c2
			denom := math.Sqrt(vhat) + eps
			m.Set(i, j, mij)
			v.Set(i, j, vij)
			p.Set(i, j, p.At(i, j)-lr*mhat/denom)
		}
	}
}

// Nadam keeps per-parameter moment estimates for a fixed parameter list.
// Only the parameters are ever persisted; moments start from zero on load.
type Nadam struct {
	LearningRate float64
	Beta1, Beta2 float64
	Eps          float64

	T    int
	m, v []*mat.Dense
}

func NewNadam(params []*mat.Dense, lr, beta1, beta2, eps float64) *Nadam {
	o := &Nadam{LearningRate: lr, Beta1: beta1, Beta2: beta2, Eps: eps}
	o.m = make([]*mat.Dense, len(params))
	o.v = make([]*mat.Dense, len(params))
	for i, p := range params {
		o.m[i] = utils.ZerosLike(p)
		o.v[i] = utils.ZerosLike(p)
	}
	return o
}

// Step updates params in place from grads (aligned by index).
func (o *Nadam) Step(params, grads []*mat.Dense) error {
	if len(params) != len(grads) || len(params) != len(o.m) {
		return fmt.Errorf("nadam: have %d moments, got %d params and %d grads", len(o.m), len(params), len(grads))
	}
	o.T++
	for i := range params {
		AdamUpdateInPlace(params[i], grads[i], o.m[i], o.v[i], o.T,
			o.LearningRate, o.Beta1, o.Beta2, o.Eps, true)
	}
	return nil
}
