package runs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/manningwu07/namer/dataset"
	"github.com/manningwu07/namer/evaluate"
	"github.com/manningwu07/namer/model"
	"github.com/manningwu07/namer/params"
	"github.com/manningwu07/namer/trainer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const config = `# end-to-end fixture
model_type: attention
run_name: e2e
model_hyperparameters:
  batch_size: 2
  epochs: 1
  embedding_dim: 4
  hidden_dim: 6
beam_search_config:
  beam_width: 2
  max_decode_length: 3
`

func fixture(t *testing.T) (params.Hyperparameters, *dataset.Vocabulary, *dataset.Split, *dataset.Split) {
	t.Helper()
	hp, err := params.Parse([]byte(config))
	require.NoError(t, err)
	v := dataset.NewVocabulary([]string{"%START%", "%END%", "get", "set", "name", "value", "return", "this"})
	id := v.ID
	train := &dataset.Split{
		BodyTokens: [][]int{{id("return"), id("name")}, {id("this"), id("value")}, {id("return"), id("value")}, {id("this"), id("name")}},
		NameTokens: [][]int{{id("get"), id("name")}, {id("set"), id("value")}, {id("get"), id("value")}, {id("set"), id("name")}},
	}
	valid := &dataset.Split{
		BodyTokens: [][]int{{id("return"), id("name")}, {id("this"), id("value")}},
		NameTokens: [][]int{{id("get"), id("name")}, {id("set"), id("value")}},
	}
	return hp, v, train, valid
}

func TestTrainEndToEnd(t *testing.T) {
	hp, vocab, train, valid := fixture(t)
	root := t.TempDir()
	now := time.Date(2024, 3, 5, 14, 7, 30, 0, time.UTC)

	m, err := model.Build(hp, vocab)
	require.NoError(t, err)
	dir, err := Create(root, hp, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "attention", "e2e", "2024-03-05-14-07"), dir.Path)
	require.NoError(t, dir.WriteVocabulary(vocab))

	h, err := trainer.Train(context.Background(), m, train, valid, dir, trainer.Options{})
	require.NoError(t, err)
	require.Len(t, h.Epochs, 1)

	raw, err := os.ReadFile(filepath.Join(dir.Path, ConfigFile))
	require.NoError(t, err)
	assert.Equal(t, config, string(raw))

	for _, name := range []string{model.BestWeights, model.FinalWeights, HistoryFile, InputsFile} {
		ok, err := dir.Exists(name)
		require.NoError(t, err)
		assert.True(t, ok, name)
	}
	best, err := dir.Checkpoint(model.BestWeights)
	require.NoError(t, err)
	assert.Equal(t, 1, best.Epoch)

	saved, err := dir.History()
	require.NoError(t, err)
	assert.Len(t, saved.Epochs, 1)

	require.NoError(t, dir.AppendTestingInputs(2))
	inputs, err := os.ReadFile(filepath.Join(dir.Path, InputsFile))
	require.NoError(t, err)
	assert.Equal(t, "Training samples: 4, validating samples: 2\nTesting samples: 2", string(inputs))

	// a reopened run predicts exactly like the trained model
	reopened, err := Open(dir.Path)
	require.NoError(t, err)
	loaded, err := reopened.LoadModel()
	require.NoError(t, err)
	body := train.BodyTokens[0]
	want, err := m.NextLogProbs(body, []int{vocab.ID("get")})
	require.NoError(t, err)
	got, err := loaded.NextLogProbs(body, []int{vocab.ID("get")})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	ev := &evaluate.Evaluator{Scorer: loaded, Beam: loaded.Beam, StartID: loaded.StartID, EndID: loaded.EndID}
	res, err := ev.Run(context.Background(), valid)
	require.NoError(t, err)
	require.NoError(t, dir.WriteResults(res))
	require.NoError(t, dir.WriteVisualisation(evaluate.Visualise(res, vocab)))
	back, err := dir.Results()
	require.NoError(t, err)
	assert.Equal(t, 2, back.Evaluated)
	assert.InDelta(t, res.Macro.F1, back.F1, 1e-12)
}

func TestCreateRejectsBadConfig(t *testing.T) {
	hp, _, _, _ := fixture(t)
	hp.ModelHyperparameters.BatchSize = 0
	root := t.TempDir()
	_, err := Create(root, hp, time.Now())
	assert.ErrorIs(t, err, params.ErrConfiguration)
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteFailureIsIOError(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0666))

	d := &Directory{Path: filepath.Join(blocker, "run")}
	err := d.WriteInputs(1, 1)
	assert.ErrorIs(t, err, ErrIO)
	err = d.SaveCheckpoint(model.FinalWeights, &model.Checkpoint{})
	assert.ErrorIs(t, err, ErrIO)
}

func TestSameMinuteSharesDirectory(t *testing.T) {
	hp, _, _, _ := fixture(t)
	root := t.TempDir()
	now := time.Date(2024, 3, 5, 14, 7, 0, 0, time.UTC)
	a, err := Create(root, hp, now)
	require.NoError(t, err)
	b, err := Create(root, hp, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, a.Path, b.Path)
}
