package model

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/manningwu07/namer/dataset"
	"github.com/manningwu07/namer/optimizations"
	"github.com/manningwu07/namer/params"
	"github.com/manningwu07/namer/utils"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// ErrNonFiniteLoss is returned by TrainBatch when the batch loss is NaN or
// infinite; no update is applied in that case.
var ErrNonFiniteLoss = errors.New("non-finite loss")

// Model is a built encoder plus the vocabulary and optimizer it trains with.
type Model struct {
	ModelType string
	// Hyperparameters with defaults applied and VocabularySize injected.
	Hyperparameters params.ModelHyperparameters
	Beam            params.BeamSearchConfig

	Encoder   SequenceEncoder
	Optimizer *optimizations.Nadam
	Vocab     *dataset.Vocabulary

	StartID, EndID int
}

// Build constructs the model described by hp over vocab. vocabulary_size is
// always derived from vocab (Len()+1 for the reserved pad id).
func Build(hp params.Hyperparameters, vocab *dataset.Vocabulary) (*Model, error) {
	if vocab == nil {
		return nil, fmt.Errorf("%w: no vocabulary", params.ErrConfiguration)
	}
	if err := hp.Validate(); err != nil {
		return nil, err
	}
	mh := hp.ModelHyperparameters.WithDefaults()
	mh.VocabularySize = vocab.Len() + 1
	if mh.VocabularySize <= 0 {
		return nil, fmt.Errorf("%w: vocabulary_size must be positive", params.ErrConfiguration)
	}

	factory, err := encoderFor(hp.ModelType)
	if err != nil {
		return nil, err
	}
	enc, err := factory(mh, rand.New(rand.NewSource(mh.Seed)))
	if err != nil {
		return nil, err
	}

	beam := hp.BeamSearchConfig.WithDefaults()
	m := &Model{
		ModelType:       hp.ModelType,
		Hyperparameters: mh,
		Beam:            beam,
		Encoder:         enc,
		Vocab:           vocab,
		StartID:         vocab.ID(beam.StartToken),
		EndID:           vocab.ID(beam.EndToken),
	}
	m.Optimizer = optimizations.NewNadam(paramValues(enc.Params()),
		mh.LearningRate, mh.AdamBeta1, mh.AdamBeta2, mh.AdamEps)
	return m, nil
}

// Example is one (body, name) pair shaped for next-token training:
// Inputs[t] is fed when predicting Targets[t].
type Example struct {
	Body    []int
	Inputs  []int
	Targets []int
}

// Shape turns a split into examples. Targets are the non-pad name ids,
// without a leading start token and always ending in the end id.
func (m *Model) Shape(s *dataset.Split) ([]Example, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	out := make([]Example, s.Len())
	for i := range out {
		targets := dataset.StripPad(s.NameTokens[i])
		if len(targets) > 0 && m.StartID != dataset.PadID && targets[0] == m.StartID {
			targets = targets[1:]
		}
		if len(targets) == 0 || targets[len(targets)-1] != m.EndID {
			targets = append(targets, m.EndID)
		}
		inputs := make([]int, len(targets))
		inputs[0] = m.StartID
		copy(inputs[1:], targets[:len(targets)-1])
		out[i] = Example{
			Body:    dataset.StripPad(s.BodyTokens[i]),
			Inputs:  inputs,
			Targets: targets,
		}
	}
	return out, nil
}

// Stats accumulates token-level loss and accuracy.
type Stats struct {
	Loss    float64 // summed
	Correct int
	Tokens  int
}

func (s *Stats) Add(o Stats) {
	s.Loss += o.Loss
	s.Correct += o.Correct
	s.Tokens += o.Tokens
}

func (s Stats) MeanLoss() float64 {
	if s.Tokens == 0 {
		return 0
	}
	return s.Loss / float64(s.Tokens)
}

func (s Stats) Accuracy() float64 {
	if s.Tokens == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Tokens)
}

// forward returns the example's stats and dL/dlogits.
func (m *Model) forward(ex Example) (Stats, *mat.Dense) {
	logits := m.Encoder.Encode(ex.Body, ex.Inputs)
	V, T := logits.Dims()
	dLogits := mat.NewDense(V, T, nil)
	var st Stats
	for t, gold := range ex.Targets {
		col := logits.Slice(0, V, t, t+1).(*mat.Dense)
		loss, grad := utils.CrossEntropyWithIndex(col, gold)
		st.Loss += loss
		st.Tokens++
		if utils.Argmax(col) == gold {
			st.Correct++
		}
		dLogits.SetCol(t, mat.Col(nil, 0, grad))
	}
	return st, dLogits
}

// Evaluate scores examples without touching the weights.
func (m *Model) Evaluate(examples []Example) Stats {
	var total Stats
	for _, ex := range examples {
		st, _ := m.forward(ex)
		total.Add(st)
	}
	return total
}

// Gradients returns the summed loss gradients for a batch, aligned with
// Encoder.Params(). With Hyperparameters.Workers > 1 contiguous chunks of the
// batch run concurrently against the shared weights, each into private
// gradients that are summed in chunk order.
func (m *Model) Gradients(batch []Example) (Stats, []*mat.Dense) {
	workers := min(m.Hyperparameters.Workers, len(batch))
	if workers <= 1 {
		return m.gradients(batch)
	}
	chunk := (len(batch) + workers - 1) / workers
	stats := make([]Stats, workers)
	grads := make([][]*mat.Dense, workers)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		lo, hi := w*chunk, min((w+1)*chunk, len(batch))
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			stats[w], grads[w] = m.gradients(batch[lo:hi])
			return nil
		})
	}
	_ = g.Wait()

	var total Stats
	sum := zeroGrads(m.Encoder.Params())
	for w := range grads {
		if grads[w] == nil {
			continue
		}
		total.Add(stats[w])
		for i, gr := range grads[w] {
			sum[i].Add(sum[i], gr)
		}
	}
	return total, sum
}

func (m *Model) gradients(batch []Example) (Stats, []*mat.Dense) {
	grads := zeroGrads(m.Encoder.Params())
	var total Stats
	for _, ex := range batch {
		st, dLogits := m.forward(ex)
		total.Add(st)
		m.Encoder.Backward(ex.Body, ex.Inputs, dLogits, grads)
	}
	return total, grads
}

// TrainBatch applies one Nadam step on the mean token loss of batch.
func (m *Model) TrainBatch(batch []Example) (Stats, error) {
	st, grads := m.Gradients(batch)
	if !utils.Finite(st.Loss) {
		return st, ErrNonFiniteLoss
	}
	if st.Tokens == 0 {
		return st, nil
	}
	for _, g := range grads {
		g.Scale(1/float64(st.Tokens), g)
	}
	utils.ClipGrads(m.Hyperparameters.GradClip, grads...)
	if err := m.Optimizer.Step(paramValues(m.Encoder.Params()), grads); err != nil {
		return st, err
	}
	return st, nil
}

// NextLogProbs returns log p(next | body, start+prefix) over the vocabulary.
func (m *Model) NextLogProbs(body, prefix []int) ([]float64, error) {
	inputs := make([]int, 0, len(prefix)+1)
	inputs = append(inputs, m.StartID)
	inputs = append(inputs, prefix...)
	logits := m.Encoder.Encode(body, inputs)
	_, T := logits.Dims()
	last := mat.Col(nil, T-1, logits)
	if !utils.Finite(last...) {
		return nil, fmt.Errorf("non-finite logits after %d tokens", len(prefix))
	}
	return utils.LogSoftmax(last), nil
}
