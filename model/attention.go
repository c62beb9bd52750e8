package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/manningwu07/namer/dataset"
	"github.com/manningwu07/namer/params"
	"github.com/manningwu07/namer/utils"
	"gonum.org/v1/gonum/mat"
)

// attentionEncoder scores the next name token from the previous one and an
// attention-weighted summary of the body:
//
//	q = Wq·E[prev]; a = softmax(E[body]ᵀq/√d); c = E[body]·a
//	h = tanh(Wh·[c; E[prev]] + bh); logits = Wo·h + bo
type attentionEncoder struct {
	d, h, vocab int

	E  *mat.Dense // (d x V)
	Wq *mat.Dense // (d x d)
	Wh *mat.Dense // (h x 2d)
	bh *mat.Dense // (h x 1)
	Wo *mat.Dense // (V x h)
	bo *mat.Dense // (V x 1)
}

func newAttentionEncoder(hp params.ModelHyperparameters, rng *rand.Rand) (SequenceEncoder, error) {
	d, h, V := hp.EmbeddingDim, hp.HiddenDim, hp.VocabularySize
	if d <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: embedding_dim and hidden_dim must be positive", params.ErrConfiguration)
	}
	return &attentionEncoder{
		d:     d,
		h:     h,
		vocab: V,
		E:     mat.NewDense(d, V, utils.RandomArray(rng, d*V, float64(d))),
		Wq:    mat.NewDense(d, d, utils.RandomArray(rng, d*d, float64(d))),
		Wh:    mat.NewDense(h, 2*d, utils.RandomArray(rng, h*2*d, float64(2*d))),
		bh:    mat.NewDense(h, 1, nil),
		Wo:    mat.NewDense(V, h, utils.RandomArray(rng, V*h, float64(h))),
		bo:    mat.NewDense(V, 1, nil),
	}, nil
}

func (e *attentionEncoder) Params() []Param {
	return []Param{
		{"embedding", e.E},
		{"query", e.Wq},
		{"hidden", e.Wh},
		{"hidden_bias", e.bh},
		{"output", e.Wo},
		{"output_bias", e.bo},
	}
}

// per-step forward cache; recomputed in Backward so Encode stays read-only
type attnStep struct {
	prev   int
	ep     *mat.VecDense // E[prev]
	q      *mat.VecDense
	a      []float64
	cat    *mat.VecDense // [c; ep]
	hidden *mat.VecDense
	logits *mat.VecDense
}

func (e *attentionEncoder) clampID(id int) int {
	if id < 0 || id >= e.vocab {
		return dataset.PadID
	}
	return id
}

func (e *attentionEncoder) bodyIDs(body []int) []int {
	toks := dataset.StripPad(body)
	for i, t := range toks {
		toks[i] = e.clampID(t)
	}
	return toks
}

func (e *attentionEncoder) step(toks []int, prev int) attnStep {
	d := e.d
	st := attnStep{prev: prev}
	st.ep = mat.VecDenseCopyOf(e.E.ColView(prev))
	st.q = mat.NewVecDense(d, nil)
	st.q.MulVec(e.Wq, st.ep)

	c := mat.NewVecDense(d, nil)
	if len(toks) > 0 {
		scale := 1 / math.Sqrt(float64(d))
		scores := make([]float64, len(toks))
		for i, tok := range toks {
			scores[i] = mat.Dot(e.E.ColView(tok), st.q) * scale
		}
		st.a = utils.Softmax(nil, scores)
		for i, tok := range toks {
			c.AddScaledVec(c, st.a[i], e.E.ColView(tok))
		}
	}

	st.cat = mat.NewVecDense(2*d, nil)
	for i := 0; i < d; i++ {
		st.cat.SetVec(i, c.AtVec(i))
		st.cat.SetVec(d+i, st.ep.AtVec(i))
	}

	st.hidden = mat.NewVecDense(e.h, nil)
	st.hidden.MulVec(e.Wh, st.cat)
	st.hidden.AddVec(st.hidden, e.bh.ColView(0))
	for i := 0; i < e.h; i++ {
		st.hidden.SetVec(i, math.Tanh(st.hidden.AtVec(i)))
	}

	st.logits = mat.NewVecDense(e.vocab, nil)
	st.logits.MulVec(e.Wo, st.hidden)
	st.logits.AddVec(st.logits, e.bo.ColView(0))
	return st
}

func (e *attentionEncoder) Encode(body, inputs []int) *mat.Dense {
	toks := e.bodyIDs(body)
	out := mat.NewDense(e.vocab, len(inputs), nil)
	for t, prev := range inputs {
		st := e.step(toks, e.clampID(prev))
		out.SetCol(t, st.logits.RawVector().Data)
	}
	return out
}

func (e *attentionEncoder) Backward(body, inputs []int, dLogits *mat.Dense, grads []*mat.Dense) {
	gE, gWq, gWh, gbh, gWo, gbo := grads[0], grads[1], grads[2], grads[3], grads[4], grads[5]
	d := e.d
	scale := 1 / math.Sqrt(float64(d))
	toks := e.bodyIDs(body)

	for t, prev := range inputs {
		st := e.step(toks, e.clampID(prev))
		dl := dLogits.ColView(t)

		// output layer
		gWo.RankOne(gWo, 1, dl, st.hidden)
		utils.AddToCol(gbo, 0, dl)

		// tanh hidden layer
		dz := mat.NewVecDense(e.h, nil)
		dz.MulVec(e.Wo.T(), dl)
		for i := 0; i < e.h; i++ {
			hv := st.hidden.AtVec(i)
			dz.SetVec(i, dz.AtVec(i)*(1-hv*hv))
		}
		gWh.RankOne(gWh, 1, dz, st.cat)
		utils.AddToCol(gbh, 0, dz)

		dcat := mat.NewVecDense(2*d, nil)
		dcat.MulVec(e.Wh.T(), dz)
		dc := dcat.SliceVec(0, d)
		dep := mat.VecDenseCopyOf(dcat.SliceVec(d, 2*d))

		// attention over the body
		if len(toks) > 0 {
			da := make([]float64, len(toks))
			abar := 0.0
			for i, tok := range toks {
				da[i] = mat.Dot(e.E.ColView(tok), dc)
				abar += st.a[i] * da[i]
			}
			dq := mat.NewVecDense(d, nil)
			for i, tok := range toks {
				ds := st.a[i] * (da[i] - abar) * scale
				col := mat.NewVecDense(d, nil)
				col.AddScaledVec(col, st.a[i], dc)
				col.AddScaledVec(col, ds, st.q)
				dq.AddScaledVec(dq, ds, e.E.ColView(tok))
				utils.AddToCol(gE, tok, col)
			}
			gWq.RankOne(gWq, 1, dq, st.ep)
			back := mat.NewVecDense(d, nil)
			back.MulVec(e.Wq.T(), dq)
			dep.AddVec(dep, back)
		}
		utils.AddToCol(gE, st.prev, dep)
	}
}
