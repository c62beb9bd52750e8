package decode

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/manningwu07/namer/params"
)

// ErrDecode matches every DecodeError.
var ErrDecode = errors.New("decode error")

// DecodeError is an invalid model output met during search. It is scoped
// to one example.
type DecodeError struct {
	Step int // prefix length being expanded
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode failed at step %d: %v", e.Step, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Scorer gives log p(next token | body, prefix) over the whole vocabulary.
type Scorer interface {
	NextLogProbs(body, prefix []int) ([]float64, error)
}

// ScorerFunc adapts a plain function to Scorer.
type ScorerFunc func(body, prefix []int) ([]float64, error)

func (f ScorerFunc) NextLogProbs(body, prefix []int) ([]float64, error) {
	return f(body, prefix)
}

// Candidate is a decoded sequence and its cumulative log-probability.
// Tokens never include the end token.
type Candidate struct {
	Tokens []int
	Score  float64
}

type Options struct {
	BeamWidth int
	MaxLength int
	EndID     int
}

// OptionsFrom reads the search knobs from a beam config.
func OptionsFrom(b params.BeamSearchConfig, endID int) Options {
	return Options{BeamWidth: b.BeamWidth, MaxLength: b.MaxDecodeLength, EndID: endID}
}

type expansion struct {
	parent int
	token  int
	score  float64
}

// Decode runs beam search for one body. Each step expands every live
// sequence by every token and keeps the best BeamWidth expansions; equal
// scores keep beam order, then token order. A kept expansion that emits
// EndID or reaches MaxLength is finished and no longer expanded. The result
// is every finished sequence, best first.
func Decode(s Scorer, body []int, opts Options) ([]Candidate, error) {
	if opts.BeamWidth <= 0 || opts.MaxLength <= 0 {
		return nil, fmt.Errorf("%w: beam_width and max_decode_length must be positive (got %d, %d)",
			params.ErrConfiguration, opts.BeamWidth, opts.MaxLength)
	}

	live := []Candidate{{}}
	var finished []Candidate
	for len(live) > 0 {
		var exps []expansion
		for bi, c := range live {
			lp, err := s.NextLogProbs(body, c.Tokens)
			if err != nil {
				return nil, &DecodeError{Step: len(c.Tokens), Err: err}
			}
			for tok, l := range lp {
				if math.IsNaN(l) || math.IsInf(l, 1) {
					return nil, &DecodeError{Step: len(c.Tokens), Err: fmt.Errorf("invalid log-probability %v for token %d", l, tok)}
				}
				exps = append(exps, expansion{parent: bi, token: tok, score: c.Score + l})
			}
		}
		if len(exps) == 0 {
			return nil, &DecodeError{Step: len(live[0].Tokens), Err: errors.New("empty distribution")}
		}
		sort.SliceStable(exps, func(i, j int) bool { return exps[i].score > exps[j].score })

		next := make([]Candidate, 0, opts.BeamWidth)
		for _, e := range exps[:min(opts.BeamWidth, len(exps))] {
			parent := live[e.parent].Tokens
			if e.token == opts.EndID {
				finished = append(finished, Candidate{Tokens: append([]int(nil), parent...), Score: e.score})
				continue
			}
			toks := make([]int, len(parent)+1)
			copy(toks, parent)
			toks[len(parent)] = e.token
			c := Candidate{Tokens: toks, Score: e.score}
			if len(toks) >= opts.MaxLength {
				finished = append(finished, c)
			} else {
				next = append(next, c)
			}
		}
		live = next
	}

	sort.SliceStable(finished, func(i, j int) bool { return finished[i].Score > finished[j].Score })
	return finished, nil
}
