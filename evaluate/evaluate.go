package evaluate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/manningwu07/namer/dataset"
	"github.com/manningwu07/namer/decode"
	"github.com/manningwu07/namer/params"
	"golang.org/x/sync/errgroup"
)

// Example is the evaluation of one test row.
type Example struct {
	Index      int
	Body       []int
	Truth      []int
	Candidates []decode.Candidate
	// Predicted is the candidate that was scored: the top one, or the
	// closest one when the full beam is considered.
	Predicted []int
	Score     Score
	// Err is set when the example was skipped after a decode error.
	Err error
}

// Result aggregates an evaluation. Skipped examples are listed but not
// averaged.
type Result struct {
	Examples  []Example
	Macro     Score
	Evaluated int
	Skipped   int
}

// Evaluator decodes every test body and scores it against its name.
type Evaluator struct {
	Scorer         decode.Scorer
	Beam           params.BeamSearchConfig
	StartID, EndID int
	Logger         *slog.Logger
	// Observe, when set, is called once per example after scoring.
	Observe func(Example)
}

// clean drops padding and the start/end markers from a token row.
func (e *Evaluator) clean(ids []int) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id == dataset.PadID || id == e.StartID || id == e.EndID {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Run evaluates split on a bounded pool of Beam.Workers goroutines. Results
// keep the split's order. With Beam.SkipDecodeErrors a DecodeError skips the
// example; otherwise the first error aborts the run.
func (e *Evaluator) Run(ctx context.Context, split *dataset.Split) (*Result, error) {
	if err := split.Validate(); err != nil {
		return nil, err
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	beam := e.Beam.WithDefaults()
	opts := decode.OptionsFrom(beam, e.EndID)

	examples := make([]Example, split.Len())
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(beam.Workers)
	for i := range examples {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ex := Example{
				Index: i,
				Body:  dataset.StripPad(split.BodyTokens[i]),
				Truth: e.clean(split.NameTokens[i]),
			}
			cands, err := decode.Decode(e.Scorer, ex.Body, opts)
			if err != nil {
				if beam.SkipDecodeErrors && errors.Is(err, decode.ErrDecode) {
					logger.Warn("skipping example", "index", i, "error", err)
					ex.Err = err
					examples[i] = ex
					return nil
				}
				return fmt.Errorf("example %d: %w", i, err)
			}
			ex.Candidates = cands
			preds := make([][]int, len(cands))
			for j, c := range cands {
				preds[j] = e.clean(c.Tokens)
			}
			if beam.ConsiderFullBeam {
				j, s := BestOf(preds, ex.Truth)
				ex.Score = s
				if j >= 0 {
					ex.Predicted = preds[j]
				}
			} else {
				if len(preds) > 0 {
					ex.Predicted = preds[0]
				}
				ex.Score = TokenF1(ex.Predicted, ex.Truth)
			}
			examples[i] = ex
			if e.Observe != nil {
				e.Observe(ex)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Examples: examples}
	scores := make([]Score, 0, len(examples))
	for _, ex := range examples {
		if ex.Err != nil {
			res.Skipped++
			continue
		}
		scores = append(scores, ex.Score)
	}
	res.Evaluated = len(scores)
	res.Macro = Macro(scores)
	logger.Info("evaluation complete", "examples", len(examples), "skipped", res.Skipped,
		"precision", res.Macro.Precision, "recall", res.Macro.Recall, "f1", res.Macro.F1)
	return res, nil
}
