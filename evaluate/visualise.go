package evaluate

import (
	"fmt"
	"strings"

	"github.com/manningwu07/namer/dataset"
)

// Visualise renders each example's input, ground truth and predictions in
// example order.
func Visualise(res *Result, vocab *dataset.Vocabulary) string {
	var sb strings.Builder
	for _, ex := range res.Examples {
		fmt.Fprintf(&sb, "Input: %s\n", vocab.Detokenize(ex.Body))
		fmt.Fprintf(&sb, "Actual: %s\n", vocab.Detokenize(ex.Truth))
		if ex.Err != nil {
			fmt.Fprintf(&sb, "Skipped: %v\n\n", ex.Err)
			continue
		}
		fmt.Fprintf(&sb, "Predicted: %s\n", vocab.Detokenize(ex.Predicted))
		for rank, c := range ex.Candidates {
			fmt.Fprintf(&sb, "  %d. %s (%.4f)\n", rank+1, vocab.Detokenize(c.Tokens), c.Score)
		}
		fmt.Fprintf(&sb, "F1: %.4f\n\n", ex.Score.F1)
	}
	return sb.String()
}
