package model

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// EpochMetrics is one completed epoch.
type EpochMetrics struct {
	Epoch       int
	Loss        float64
	Accuracy    float64
	ValLoss     float64
	ValAccuracy float64
	Duration    time.Duration
}

// History holds completed epochs in order. A diverged run keeps the epochs
// that finished before the failure.
type History struct {
	Epochs []EpochMetrics
}

func (h *History) Append(e EpochMetrics) {
	h.Epochs = append(h.Epochs, e)
}

func (h *History) Last() (EpochMetrics, bool) {
	if len(h.Epochs) == 0 {
		return EpochMetrics{}, false
	}
	return h.Epochs[len(h.Epochs)-1], true
}

var historyHeader = []string{"epoch", "loss", "accuracy", "val_loss", "val_accuracy", "seconds"}

func (h *History) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(historyHeader); err != nil {
		return err
	}
	for _, e := range h.Epochs {
		row := []string{
			strconv.Itoa(e.Epoch),
			fmt.Sprintf("%.6f", e.Loss),
			fmt.Sprintf("%.6f", e.Accuracy),
			fmt.Sprintf("%.6f", e.ValLoss),
			fmt.Sprintf("%.6f", e.ValAccuracy),
			fmt.Sprintf("%.3f", e.Duration.Seconds()),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func ReadHistoryCSV(r io.Reader) (*History, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	h := &History{}
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if len(row) != len(historyHeader) {
			return nil, fmt.Errorf("history row %d: want %d fields, got %d", i, len(historyHeader), len(row))
		}
		var e EpochMetrics
		if e.Epoch, err = strconv.Atoi(row[0]); err != nil {
			return nil, err
		}
		vals := make([]float64, 5)
		for j := range vals {
			if vals[j], err = strconv.ParseFloat(row[j+1], 64); err != nil {
				return nil, fmt.Errorf("history row %d: %w", i, err)
			}
		}
		e.Loss, e.Accuracy, e.ValLoss, e.ValAccuracy = vals[0], vals[1], vals[2], vals[3]
		e.Duration = time.Duration(vals[4] * float64(time.Second))
		h.Epochs = append(h.Epochs, e)
	}
	return h, nil
}

// Best returns the earliest epoch with the highest validation accuracy,
// which is the epoch the best checkpoint was saved at.
func (h *History) Best() (EpochMetrics, bool) {
	if len(h.Epochs) == 0 {
		return EpochMetrics{}, false
	}
	best := h.Epochs[0]
	for _, e := range h.Epochs[1:] {
		if e.ValAccuracy > best.ValAccuracy {
			best = e
		}
	}
	return best, true
}
