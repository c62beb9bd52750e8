package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/manningwu07/namer/dataset"
	"github.com/manningwu07/namer/model"
	"github.com/manningwu07/namer/params"
	"github.com/manningwu07/namer/registry"
	"github.com/manningwu07/namer/runs"
	"github.com/manningwu07/namer/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `model_type: attention
run_name: pipeline
model_hyperparameters:
  batch_size: 2
  epochs: 2
  embedding_dim: 4
  hidden_dim: 6
beam_search_config:
  beam_width: 2
  max_decode_length: 3
  workers: 2
`

var testVocab = dataset.NewVocabulary([]string{"%START%", "%END%", "get", "set", "name", "value", "return", "this"})

func writeData(t *testing.T, withTest bool) string {
	t.Helper()
	id := testVocab.ID
	dir := t.TempDir()
	split := &dataset.Split{
		BodyTokens: [][]int{{id("return"), id("name")}, {id("this"), id("value")}, {id("return"), id("value")}, {id("this"), id("name")}},
		NameTokens: [][]int{{id("get"), id("name")}, {id("set"), id("value")}, {id("get"), id("value")}, {id("set"), id("name")}},
	}
	require.NoError(t, dataset.WriteSplit(dir, "train", split))
	half := &dataset.Split{BodyTokens: split.BodyTokens[:2], NameTokens: split.NameTokens[:2]}
	require.NoError(t, dataset.WriteSplit(dir, "valid", half))
	if withTest {
		require.NoError(t, dataset.WriteSplit(dir, "test", half))
	}
	require.NoError(t, testVocab.ExportVocabJSON(filepath.Join(dir, "vocab.json")))
	return dir
}

func testPipeline(t *testing.T) *pipeline {
	env := &params.Env{ModelsDir: t.TempDir(), LogLevel: "error"}
	return &pipeline{env: env, now: func() time.Time { return time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC) }}
}

func TestPipelineTrainAndEvaluate(t *testing.T) {
	data := writeData(t, true)
	vocab, err := loadVocabulary(data, "", "")
	require.NoError(t, err)
	hp, err := params.Parse([]byte(testConfig))
	require.NoError(t, err)

	p := testPipeline(t)
	dir, err := p.train(context.Background(), hp, dataset.ShardPreprocessors(data, vocab, 4, 4))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(p.env.ModelsDir, "attention", "pipeline", "2024-06-01-09-30"), dir.Path)

	for _, name := range []string{runs.ConfigFile, runs.VocabFile, runs.ResultsFile, runs.VisualisationFile,
		runs.MetricsFile, runs.LogFile, model.BestWeights, model.FinalWeights} {
		ok, err := dir.Exists(name)
		require.NoError(t, err)
		assert.True(t, ok, name)
	}
	inputs, err := os.ReadFile(filepath.Join(dir.Path, runs.InputsFile))
	require.NoError(t, err)
	assert.Equal(t, "Training samples: 4, validating samples: 2\nTesting samples: 2", string(inputs))

	reg, err := registry.Open(registryPath(p.env))
	require.NoError(t, err)
	all, err := reg.List("")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, registry.Evaluated, all[0].Status)
	assert.Equal(t, 2, all[0].Epochs)
	require.NotNil(t, all[0].TestF1)

	reopened, err := runs.Open(dir.Path)
	require.NoError(t, err)
	require.NoError(t, p.evaluateDirectory(context.Background(), reopened, data))
	inputs, err = os.ReadFile(filepath.Join(dir.Path, runs.InputsFile))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(inputs), "Testing samples: 2"))
}

func TestPipelineWithoutTestSplit(t *testing.T) {
	data := writeData(t, false)
	hp, err := params.Parse([]byte(testConfig))
	require.NoError(t, err)

	p := testPipeline(t)
	dir, err := p.train(context.Background(), hp, dataset.ShardPreprocessors(data, testVocab, 0, 0))
	require.NoError(t, err)
	ok, err := dir.Exists(runs.ResultsFile)
	require.NoError(t, err)
	assert.False(t, ok)

	reg, err := registry.Open(registryPath(p.env))
	require.NoError(t, err)
	run, err := reg.FindByDirectory(dir.Path)
	require.NoError(t, err)
	assert.Equal(t, registry.Trained, run.Status)
}

func TestPipelineConfigErrorCreatesNothing(t *testing.T) {
	data := writeData(t, true)
	hp, err := params.Parse([]byte(strings.Replace(testConfig, "model_type: attention", "model_type: unknown", 1)))
	require.NoError(t, err)

	p := testPipeline(t)
	_, err = p.train(context.Background(), hp, dataset.ShardPreprocessors(data, testVocab, 0, 0))
	assert.ErrorIs(t, err, params.ErrConfiguration)
	entries, err := os.ReadDir(p.env.ModelsDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPipelineDataErrorCreatesNothing(t *testing.T) {
	data := writeData(t, true)
	require.NoError(t, dataset.WriteSplit(data, "train", &dataset.Split{}))
	hp, err := params.Parse([]byte(testConfig))
	require.NoError(t, err)

	p := testPipeline(t)
	_, err = p.train(context.Background(), hp, dataset.ShardPreprocessors(data, testVocab, 0, 0))
	assert.ErrorIs(t, err, dataset.ErrData)
	entries, err := os.ReadDir(p.env.ModelsDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPredictCLI(t *testing.T) {
	hp, err := params.Parse([]byte(testConfig))
	require.NoError(t, err)
	m, err := model.Build(hp, testVocab)
	require.NoError(t, err)
	ts := httptest.NewServer(server.New(m, nil).Routes())
	defer ts.Close()

	var out bytes.Buffer
	require.NoError(t, PredictCLI(ts.URL, strings.NewReader("return this name\n\nexit\n"), &out))
	assert.Contains(t, out.String(), "1. ")
	assert.NotContains(t, out.String(), "Error:")
}
