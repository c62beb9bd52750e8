package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/manningwu07/namer/dataset"
	"github.com/manningwu07/namer/model"
	"github.com/manningwu07/namer/utils"
)

// ErrDiverged matches every DivergedError.
var ErrDiverged = errors.New("training diverged")

// DivergedError reports the first non-finite loss seen during training.
type DivergedError struct {
	Epoch int
	Batch int // 0 when the validation loss diverged
	Loss  float64
}

func (e *DivergedError) Error() string {
	if e.Batch == 0 {
		return fmt.Sprintf("training diverged: validation loss %v after epoch %d", e.Loss, e.Epoch)
	}
	return fmt.Sprintf("training diverged: loss %v at epoch %d batch %d", e.Loss, e.Epoch, e.Batch)
}

func (e *DivergedError) Is(target error) bool {
	return target == ErrDiverged
}

// Artifacts is where a training run persists what it produces.
type Artifacts interface {
	WriteInputs(trainSamples, validSamples int) error
	SaveCheckpoint(name string, ck *model.Checkpoint) error
	WriteHistory(h *model.History) error
}

// Observer receives progress; metrics collectors implement it.
type Observer interface {
	ObserveEpoch(e model.EpochMetrics)
	ObserveCheckpoint(ck *model.Checkpoint)
}

type Options struct {
	Logger   *slog.Logger
	Observer Observer
}

// Train runs the configured number of epochs over train, validating after
// each one. The best checkpoint is saved only on a strict improvement of
// validation accuracy; final weights are saved after the last epoch.
// Cancelling ctx stops training between epochs.
func Train(ctx context.Context, m *model.Model, train, valid *dataset.Split, art Artifacts, opts Options) (*model.History, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if train == nil || valid == nil {
		return nil, fmt.Errorf("%w: training and validating splits are required", dataset.ErrData)
	}
	trainEx, err := m.Shape(train)
	if err != nil {
		return nil, fmt.Errorf("training split: %w", err)
	}
	validEx, err := m.Shape(valid)
	if err != nil {
		return nil, fmt.Errorf("validating split: %w", err)
	}
	if len(trainEx) == 0 {
		return nil, fmt.Errorf("%w: training split is empty", dataset.ErrData)
	}
	if len(validEx) == 0 {
		return nil, fmt.Errorf("%w: validating split is empty", dataset.ErrData)
	}

	if err := art.WriteInputs(len(trainEx), len(validEx)); err != nil {
		return nil, err
	}

	hp := m.Hyperparameters
	rng := rand.New(rand.NewSource(hp.Seed))
	order := make([]int, len(trainEx))
	for i := range order {
		order[i] = i
	}
	history := &model.History{}
	bestAccuracy := math.Inf(-1)

	// diverged persists the completed epochs before surfacing the error
	diverged := func(derr *DivergedError) (*model.History, error) {
		logger.Error("training diverged", "epoch", derr.Epoch, "batch", derr.Batch, "loss", derr.Loss)
		if err := art.WriteHistory(history); err != nil {
			return history, errors.Join(derr, err)
		}
		return history, derr
	}

	logger.Info("training started", "model_type", m.ModelType,
		"training_samples", len(trainEx), "validating_samples", len(validEx),
		"epochs", hp.Epochs, "batch_size", hp.BatchSize)

	for epoch := 1; epoch <= hp.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return history, err
		}
		start := time.Now()
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var stats model.Stats
		batch := make([]model.Example, 0, hp.BatchSize)
		for b := 0; b < len(order); b += hp.BatchSize {
			batch = batch[:0]
			for _, i := range order[b:min(b+hp.BatchSize, len(order))] {
				batch = append(batch, trainEx[i])
			}
			st, err := m.TrainBatch(batch)
			if errors.Is(err, model.ErrNonFiniteLoss) {
				return diverged(&DivergedError{Epoch: epoch, Batch: b/hp.BatchSize + 1, Loss: st.MeanLoss()})
			}
			if err != nil {
				return history, err
			}
			stats.Add(st)
		}

		val := m.Evaluate(validEx)
		if !utils.Finite(val.Loss) {
			return diverged(&DivergedError{Epoch: epoch, Loss: val.MeanLoss()})
		}
		em := model.EpochMetrics{
			Epoch:       epoch,
			Loss:        stats.MeanLoss(),
			Accuracy:    stats.Accuracy(),
			ValLoss:     val.MeanLoss(),
			ValAccuracy: val.Accuracy(),
			Duration:    time.Since(start),
		}
		history.Append(em)
		logger.Info("epoch complete", "epoch", epoch,
			"accuracy", em.Accuracy, "loss", em.Loss,
			"val_accuracy", em.ValAccuracy, "val_loss", em.ValLoss,
			"time", em.Duration)

		if em.ValAccuracy > bestAccuracy {
			bestAccuracy = em.ValAccuracy
			ck := m.Snapshot(epoch, em.ValAccuracy)
			if err := art.SaveCheckpoint(model.BestWeights, ck); err != nil {
				return history, err
			}
			logger.Info("saved best checkpoint", "epoch", epoch, "val_accuracy", em.ValAccuracy)
			if opts.Observer != nil {
				opts.Observer.ObserveCheckpoint(ck)
			}
		}
		if err := art.WriteHistory(history); err != nil {
			return history, err
		}
		if opts.Observer != nil {
			opts.Observer.ObserveEpoch(em)
		}
	}

	last, _ := history.Last()
	if err := art.SaveCheckpoint(model.FinalWeights, m.Snapshot(last.Epoch, last.ValAccuracy)); err != nil {
		return history, err
	}
	logger.Info("training finished", "epochs", len(history.Epochs), "best_val_accuracy", bestAccuracy)
	return history, nil
}
