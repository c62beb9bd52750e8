package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/manningwu07/namer/dataset"
	"github.com/manningwu07/namer/evaluate"
	"github.com/manningwu07/namer/metrics"
	"github.com/manningwu07/namer/model"
	"github.com/manningwu07/namer/params"
	"github.com/manningwu07/namer/registry"
	"github.com/manningwu07/namer/runs"
	"github.com/manningwu07/namer/trainer"
)

type pipeline struct {
	env *params.Env
	now func() time.Time
}

func newPipeline(env *params.Env) *pipeline {
	return &pipeline{env: env, now: time.Now}
}

func loadVocabulary(dataDir, vocabPath, tokenizerPath string) (*dataset.Vocabulary, error) {
	if tokenizerPath != "" {
		return dataset.LoadTokenizerVocabulary(tokenizerPath)
	}
	if vocabPath == "" {
		vocabPath = filepath.Join(dataDir, "vocab.json")
	}
	return dataset.ImportVocabJSON(vocabPath)
}

func shardPreprocessors(vocab *dataset.Vocabulary) dataset.Preprocessors {
	return dataset.ShardPreprocessors(dataDir, vocab, bodyLength, nameLength)
}

func tensorise(pre dataset.Preprocessors, role string) (*dataset.Split, error) {
	pp, err := pre.Get(role)
	if err != nil {
		return nil, err
	}
	return pp.TensoriseData()
}

// train builds, trains and evaluates one run. Configuration and data
// problems are reported before the run directory exists.
func (p *pipeline) train(ctx context.Context, hp params.Hyperparameters, pre dataset.Preprocessors) (*runs.Directory, error) {
	vocab, err := pre.Vocabulary()
	if err != nil {
		return nil, err
	}
	m, err := model.Build(hp, vocab)
	if err != nil {
		return nil, err
	}
	trainSplit, err := tensorise(pre, dataset.TrainingRole)
	if err != nil {
		return nil, err
	}
	validSplit, err := tensorise(pre, dataset.ValidatingRole)
	if err != nil {
		return nil, err
	}
	if err := trainSplit.Validate(); err != nil {
		return nil, err
	}
	if err := validSplit.Validate(); err != nil {
		return nil, err
	}
	if trainSplit.Len() == 0 {
		return nil, fmt.Errorf("%w: training split is empty", dataset.ErrData)
	}
	if validSplit.Len() == 0 {
		return nil, fmt.Errorf("%w: validating split is empty", dataset.ErrData)
	}

	dir, err := runs.Create(p.env.ModelsDir, hp, p.now())
	if err != nil {
		return nil, err
	}
	if err := dir.WriteVocabulary(vocab); err != nil {
		return dir, err
	}
	logFile, err := dir.OpenLog()
	if err != nil {
		return dir, err
	}
	defer logFile.Close()
	logger := newLogger(p.env.SlogLevel(), logFile).With("run", dir.Path)

	reg, err := registry.Open(registryPath(p.env))
	if err != nil {
		return dir, err
	}
	entry, err := reg.Start(hp.ModelType, hp.RunName, dir.Path)
	if err != nil {
		return dir, err
	}

	collector := metrics.New(hp.ModelType, hp.RunName)
	history, err := trainer.Train(ctx, m, trainSplit, validSplit, dir, trainer.Options{Logger: logger, Observer: collector})
	status := registry.Trained
	switch {
	case errors.Is(err, trainer.ErrDiverged):
		status = registry.Diverged
	case err != nil:
		status = registry.Failed
	}
	if ferr := reg.Finish(entry.ID, history, status, err); ferr != nil {
		logger.Error("failed to update run registry", "error", ferr)
	}
	if err != nil {
		if werr := collector.WriteTextfile(dir.MetricsPath()); werr != nil {
			logger.Error("failed to write metrics", "error", werr)
		}
		return dir, err
	}

	testSplit, err := tensorise(pre, dataset.TestingRole)
	switch {
	case errors.Is(err, dataset.ErrNoShards):
		logger.Warn("no testing split, skipping evaluation", "error", err)
	case err != nil:
		return dir, err
	default:
		res, err := p.evaluate(ctx, dir, m, testSplit, collector, logger)
		if err != nil {
			return dir, err
		}
		if err := reg.RecordEvaluation(entry.ID, res.Macro.F1); err != nil {
			logger.Error("failed to update run registry", "error", err)
		}
	}
	return dir, collector.WriteTextfile(dir.MetricsPath())
}

// evaluate scores m on split and writes results, visualisation and the
// testing line of the input manifest.
func (p *pipeline) evaluate(ctx context.Context, dir *runs.Directory, m *model.Model, split *dataset.Split,
	collector *metrics.Collector, logger *slog.Logger) (*evaluate.Result, error) {
	beam := m.Beam
	if p.env.EvalWorkers > 0 {
		beam.Workers = p.env.EvalWorkers
	}
	ev := &evaluate.Evaluator{
		Scorer:  m,
		Beam:    beam,
		StartID: m.StartID,
		EndID:   m.EndID,
		Logger:  logger,
		Observe: collector.ObserveExample,
	}
	res, err := ev.Run(ctx, split)
	if err != nil {
		return nil, err
	}
	collector.ObserveEvaluation(res)
	if err := dir.WriteResults(res); err != nil {
		return nil, err
	}
	if err := dir.WriteVisualisation(evaluate.Visualise(res, m.Vocab)); err != nil {
		return nil, err
	}
	if err := dir.AppendTestingInputs(split.Len()); err != nil {
		return nil, err
	}
	return res, nil
}

// evaluateDirectory reloads a finished run and evaluates it on the test
// shards in data.
func (p *pipeline) evaluateDirectory(ctx context.Context, dir *runs.Directory, data string) error {
	m, err := dir.LoadModel()
	if err != nil {
		return err
	}
	testPP := &dataset.ShardPreprocessor{Dir: data, Split: "test", BodyLength: bodyLength, NameLength: nameLength, Vocab: m.Vocab}
	split, err := testPP.TensoriseData()
	if err != nil {
		return err
	}

	var logger *slog.Logger
	if logFile, err := dir.OpenLog(); err == nil {
		defer logFile.Close()
		logger = newLogger(p.env.SlogLevel(), logFile)
	} else {
		logger = newLogger(p.env.SlogLevel(), io.Discard)
	}
	logger = logger.With("run", dir.Path)

	collector := metrics.New(m.ModelType, dir.Hyperparameters.RunName)
	res, err := p.evaluate(ctx, dir, m, split, collector, logger)
	if err != nil {
		return err
	}
	if reg, err := registry.Open(registryPath(p.env)); err == nil {
		if entry, err := reg.FindByDirectory(dir.Path); err == nil {
			if err := reg.RecordEvaluation(entry.ID, res.Macro.F1); err != nil {
				logger.Error("failed to update run registry", "error", err)
			}
		}
	}
	return collector.WriteTextfile(dir.MetricsPath())
}
