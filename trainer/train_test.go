package trainer

import (
	"context"
	"errors"
	"math"
	"strconv"
	"testing"

	"github.com/manningwu07/namer/dataset"
	"github.com/manningwu07/namer/model"
	"github.com/manningwu07/namer/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type savedCheckpoint struct {
	name string
	ck   *model.Checkpoint
}

type memArtifacts struct {
	inputs      [][2]int
	checkpoints []savedCheckpoint
	history     *model.History
	historyErr  error
}

func (a *memArtifacts) WriteInputs(train, valid int) error {
	a.inputs = append(a.inputs, [2]int{train, valid})
	return nil
}

func (a *memArtifacts) SaveCheckpoint(name string, ck *model.Checkpoint) error {
	a.checkpoints = append(a.checkpoints, savedCheckpoint{name, ck})
	return nil
}

func (a *memArtifacts) WriteHistory(h *model.History) error {
	if a.historyErr != nil {
		return a.historyErr
	}
	a.history = &model.History{Epochs: append([]model.EpochMetrics(nil), h.Epochs...)}
	return nil
}

func (a *memArtifacts) named(name string) []*model.Checkpoint {
	var out []*model.Checkpoint
	for _, s := range a.checkpoints {
		if s.name == name {
			out = append(out, s.ck)
		}
	}
	return out
}

var words = []string{"%START%", "%END%", "get", "set", "is", "name", "value", "return", "this", "x", "y"}

func fixture(t *testing.T, epochs int) (*model.Model, *dataset.Split, *dataset.Split) {
	t.Helper()
	hp, err := params.Parse([]byte(`model_type: attention
run_name: fixture
model_hyperparameters:
  batch_size: 2
  epochs: ` + strconv.Itoa(epochs) + `
  embedding_dim: 4
  hidden_dim: 6
  seed: 3
`))
	require.NoError(t, err)
	v := dataset.NewVocabulary(words)
	m, err := model.Build(hp, v)
	require.NoError(t, err)

	id := v.ID
	train := &dataset.Split{
		BodyTokens: [][]int{
			{id("return"), id("this"), id("name")},
			{id("this"), id("value"), id("x")},
			{id("return"), id("x"), 0},
			{id("return"), id("y"), 0},
		},
		NameTokens: [][]int{
			{id("get"), id("name")},
			{id("set"), id("value")},
			{id("get"), id("x")},
			{id("is"), id("y")},
		},
	}
	valid := &dataset.Split{
		BodyTokens: [][]int{{id("return"), id("name"), 0}, {id("this"), id("y"), 0}},
		NameTokens: [][]int{{id("get"), id("name")}, {id("set"), id("y")}},
	}
	return m, train, valid
}

func TestTrainSingleEpoch(t *testing.T) {
	m, train, valid := fixture(t, 1)
	art := &memArtifacts{}
	h, err := Train(context.Background(), m, train, valid, art, Options{})
	require.NoError(t, err)

	require.Len(t, h.Epochs, 1)
	assert.Equal(t, [][2]int{{4, 2}}, art.inputs)
	require.Len(t, art.named(model.BestWeights), 1)
	require.Len(t, art.named(model.FinalWeights), 1)
	assert.Equal(t, 1, art.named(model.BestWeights)[0].Epoch)
	require.NotNil(t, art.history)
	assert.Len(t, art.history.Epochs, 1)
	assert.True(t, h.Epochs[0].Loss > 0)
}

func TestTrainTiesAreNotResaved(t *testing.T) {
	m, train, valid := fixture(t, 3)
	m.Optimizer.LearningRate = 0 // weights never move, so every epoch ties

	art := &memArtifacts{}
	h, err := Train(context.Background(), m, train, valid, art, Options{})
	require.NoError(t, err)
	require.Len(t, h.Epochs, 3)
	assert.Equal(t, h.Epochs[0].ValAccuracy, h.Epochs[2].ValAccuracy)

	best := art.named(model.BestWeights)
	require.Len(t, best, 1)
	assert.Equal(t, 1, best[0].Epoch)
	final := art.named(model.FinalWeights)
	require.Len(t, final, 1)
	assert.Equal(t, 3, final[0].Epoch)
}

func TestTrainBestIsMonotone(t *testing.T) {
	m, train, valid := fixture(t, 5)
	art := &memArtifacts{}
	_, err := Train(context.Background(), m, train, valid, art, Options{})
	require.NoError(t, err)

	prev := math.Inf(-1)
	for _, ck := range art.named(model.BestWeights) {
		assert.Greater(t, ck.ValAccuracy, prev)
		prev = ck.ValAccuracy
	}
}

func TestTrainDiverges(t *testing.T) {
	m, train, valid := fixture(t, 2)
	m.Encoder.Params()[4].Value.Set(0, 0, math.NaN())

	art := &memArtifacts{}
	h, err := Train(context.Background(), m, train, valid, art, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDiverged)
	var derr *DivergedError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, 1, derr.Epoch)
	assert.Equal(t, 1, derr.Batch)

	assert.Empty(t, h.Epochs)
	assert.Empty(t, art.named(model.FinalWeights))
	require.NotNil(t, art.history)
}

func TestTrainDivergesOnValidation(t *testing.T) {
	m, train, valid := fixture(t, 2)
	// the end token never enters a training body or decoder input, so only
	// validation reads this embedding column
	end := m.Vocab.ID("%END%")
	embedding := m.Encoder.Params()[0]
	require.Equal(t, "embedding", embedding.Name)
	r, _ := embedding.Value.Dims()
	for i := 0; i < r; i++ {
		embedding.Value.Set(i, end, math.NaN())
	}
	valid.BodyTokens[0][2] = end

	art := &memArtifacts{}
	h, err := Train(context.Background(), m, train, valid, art, Options{})
	require.ErrorIs(t, err, ErrDiverged)
	var derr *DivergedError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, 1, derr.Epoch)
	assert.Equal(t, 0, derr.Batch)
	assert.True(t, math.IsNaN(derr.Loss))

	assert.Empty(t, h.Epochs)
	assert.Empty(t, art.checkpoints)
	require.NotNil(t, art.history)
}

func TestTrainDataErrorsHaveNoSideEffects(t *testing.T) {
	m, train, _ := fixture(t, 1)

	art := &memArtifacts{}
	_, err := Train(context.Background(), m, train, &dataset.Split{}, art, Options{})
	assert.ErrorIs(t, err, dataset.ErrData)

	mismatched := &dataset.Split{BodyTokens: train.BodyTokens, NameTokens: train.NameTokens[:3]}
	_, err = Train(context.Background(), m, mismatched, train, art, Options{})
	assert.ErrorIs(t, err, dataset.ErrData)

	assert.Empty(t, art.inputs)
	assert.Empty(t, art.checkpoints)
}

func TestTrainHistoryWriteFailure(t *testing.T) {
	m, train, valid := fixture(t, 1)
	art := &memArtifacts{historyErr: errors.New("disk full")}
	_, err := Train(context.Background(), m, train, valid, art, Options{})
	assert.EqualError(t, err, "disk full")
	assert.Empty(t, art.named(model.FinalWeights))
}

func TestTrainStopsBetweenEpochsOnCancel(t *testing.T) {
	m, train, valid := fixture(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h, err := Train(ctx, m, train, valid, &memArtifacts{}, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.Epochs)
}
