package model

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/manningwu07/namer/params"
	"gonum.org/v1/gonum/mat"
)

// SequenceEncoder is the trainable block behind a Model. Implementations must
// keep Encode free of shared mutable state so decoding can fan out.
type SequenceEncoder interface {
	// Encode returns (V x len(inputs)) logits; column t scores the token that
	// follows inputs[t] given the body.
	Encode(body, inputs []int) *mat.Dense
	// Backward adds dL/dparam for dLogits (V x len(inputs)) into grads,
	// which are aligned with Params().
	Backward(body, inputs []int, dLogits *mat.Dense, grads []*mat.Dense)
	Params() []Param
}

type Param struct {
	Name  string
	Value *mat.Dense
}

// EncoderFactory builds an encoder from model hyperparameters; VocabularySize
// is already injected.
type EncoderFactory func(hp params.ModelHyperparameters, rng *rand.Rand) (SequenceEncoder, error)

var encoders = map[string]EncoderFactory{
	"attention": newAttentionEncoder,
}

// RegisterEncoder makes a model_type available to Build.
func RegisterEncoder(modelType string, f EncoderFactory) {
	encoders[modelType] = f
}

func encoderFor(modelType string) (EncoderFactory, error) {
	f, ok := encoders[modelType]
	if !ok {
		known := make([]string, 0, len(encoders))
		for k := range encoders {
			known = append(known, k)
		}
		sort.Strings(known)
		return nil, fmt.Errorf("%w: unknown model_type %q (have %v)", params.ErrConfiguration, modelType, known)
	}
	return f, nil
}

func paramValues(ps []Param) []*mat.Dense {
	out := make([]*mat.Dense, len(ps))
	for i, p := range ps {
		out[i] = p.Value
	}
	return out
}

func zeroGrads(ps []Param) []*mat.Dense {
	out := make([]*mat.Dense, len(ps))
	for i, p := range ps {
		r, c := p.Value.Dims()
		out[i] = mat.NewDense(r, c, nil)
	}
	return out
}
