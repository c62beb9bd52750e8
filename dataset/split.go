package dataset

import (
	"errors"
	"fmt"
)

// ErrData marks split size and shape problems.
var ErrData = errors.New("data error")

// Preprocessor roles, keyed the same way for every run.
const (
	TrainingRole   = "training_dataset_preprocessor"
	ValidatingRole = "validating_dataset_preprocessor"
	TestingRole    = "testing_dataset_preprocessor"
)

// Split is a tensorised dataset split. Row i of BodyTokens belongs to row i of
// NameTokens; every consumer relies on that pairing.
type Split struct {
	BodyTokens [][]int
	NameTokens [][]int
}

func (s *Split) Len() int {
	return len(s.BodyTokens)
}

// Validate checks the body/name pairing invariant.
func (s *Split) Validate() error {
	if len(s.BodyTokens) != len(s.NameTokens) {
		return fmt.Errorf("%w: %d body rows but %d name rows", ErrData, len(s.BodyTokens), len(s.NameTokens))
	}
	return nil
}

// Metadata is what a preprocessor knows about its data beyond the tensors.
type Metadata struct {
	TokenVocab *Vocabulary
}

// Preprocessor supplies one tensorised split and its token vocabulary.
type Preprocessor interface {
	TensoriseData() (*Split, error)
	Metadata() Metadata
}

// Preprocessors is keyed by role (TrainingRole, ValidatingRole, TestingRole).
type Preprocessors map[string]Preprocessor

func (p Preprocessors) Get(role string) (Preprocessor, error) {
	pp, ok := p[role]
	if !ok || pp == nil {
		return nil, fmt.Errorf("%w: no preprocessor for %s", ErrData, role)
	}
	return pp, nil
}

// Vocabulary returns the training preprocessor's vocabulary, which every
// run uses for all splits.
func (p Preprocessors) Vocabulary() (*Vocabulary, error) {
	pp, err := p.Get(TrainingRole)
	if err != nil {
		return nil, err
	}
	v := pp.Metadata().TokenVocab
	if v == nil {
		return nil, fmt.Errorf("%w: training preprocessor has no token vocabulary", ErrData)
	}
	return v, nil
}

// InMemory is a Preprocessor over an already tensorised split.
type InMemory struct {
	Data  *Split
	Vocab *Vocabulary
}

func (m *InMemory) TensoriseData() (*Split, error) {
	if m.Data == nil {
		return nil, fmt.Errorf("%w: no data", ErrData)
	}
	return m.Data, nil
}

func (m *InMemory) Metadata() Metadata {
	return Metadata{TokenVocab: m.Vocab}
}

// PadRow truncates or right-pads ids with PadID to length.
func PadRow(ids []int, length int) []int {
	out := make([]int, length)
	copy(out, ids)
	return out
}

// PadRows applies PadRow to every row.
func PadRows(rows [][]int, length int) [][]int {
	out := make([][]int, len(rows))
	for i, r := range rows {
		out[i] = PadRow(r, length)
	}
	return out
}

// StripPad returns ids without padding/unknown entries. Rows are padded at
// the end, but unknown tokens share id 0 and may appear anywhere.
func StripPad(ids []int) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id != PadID {
			out = append(out, id)
		}
	}
	return out
}
