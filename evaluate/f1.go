package evaluate

import (
	"fmt"

	"github.com/manningwu07/namer/dataset"
	"github.com/samber/lo"
)

// Score is precision, recall and F1 for one prediction.
type Score struct {
	Precision float64 `yaml:"precision"`
	Recall    float64 `yaml:"recall"`
	F1        float64 `yaml:"f1"`
}

// TokenF1 compares the token sets of pred and truth; repeated tokens count
// once. Two empty sequences agree perfectly, and one empty side scores 0.
func TokenF1[T comparable](pred, truth []T) Score {
	if len(pred) == 0 && len(truth) == 0 {
		return Score{1, 1, 1}
	}
	if len(pred) == 0 || len(truth) == 0 {
		return Score{}
	}
	p, t := lo.Uniq(pred), lo.Uniq(truth)
	common := float64(len(lo.Intersect(p, t)))
	s := Score{
		Precision: common / float64(len(p)),
		Recall:    common / float64(len(t)),
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	return s
}

// Macro averages per-example scores. No examples averages to zero.
func Macro(scores []Score) Score {
	if len(scores) == 0 {
		return Score{}
	}
	var m Score
	for _, s := range scores {
		m.Precision += s.Precision
		m.Recall += s.Recall
		m.F1 += s.F1
	}
	n := float64(len(scores))
	return Score{m.Precision / n, m.Recall / n, m.F1 / n}
}

// Evaluate scores predictions against ground truth pairwise and returns the
// per-example scores with their macro average.
func Evaluate[T comparable](preds, truths [][]T) ([]Score, Score, error) {
	if len(preds) != len(truths) {
		return nil, Score{}, fmt.Errorf("%w: %d predictions for %d ground truths", dataset.ErrData, len(preds), len(truths))
	}
	scores := make([]Score, len(preds))
	for i := range preds {
		scores[i] = TokenF1(preds[i], truths[i])
	}
	return scores, Macro(scores), nil
}

// BestOf returns the index and score of the candidate closest to truth;
// the first one wins ties. No candidates scores like an empty prediction.
func BestOf[T comparable](candidates [][]T, truth []T) (int, Score) {
	if len(candidates) == 0 {
		return -1, TokenF1(nil, truth)
	}
	best, bestScore := 0, TokenF1(candidates[0], truth)
	for i, c := range candidates[1:] {
		if s := TokenF1(c, truth); s.F1 > bestScore.F1 {
			best, bestScore = i+1, s
		}
	}
	return best, bestScore
}
