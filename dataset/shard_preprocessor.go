package dataset

import (
	"fmt"
	"path/filepath"
)

// ShardPreprocessor reads <Dir>/<Split>_body and <Dir>/<Split>_name shards and
// pads rows to fixed lengths.
type ShardPreprocessor struct {
	Dir        string
	Split      string // "train", "valid" or "test"
	BodyLength int
	NameLength int
	Vocab      *Vocabulary
}

func (p *ShardPreprocessor) TensoriseData() (*Split, error) {
	body, err := ReadShards(filepath.Join(p.Dir, p.Split+"_body"))
	if err != nil {
		return nil, fmt.Errorf("reading %s bodies: %w", p.Split, err)
	}
	names, err := ReadShards(filepath.Join(p.Dir, p.Split+"_name"))
	if err != nil {
		return nil, fmt.Errorf("reading %s names: %w", p.Split, err)
	}
	s := &Split{BodyTokens: body, NameTokens: names}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if p.BodyLength > 0 {
		s.BodyTokens = PadRows(s.BodyTokens, p.BodyLength)
	}
	if p.NameLength > 0 {
		s.NameTokens = PadRows(s.NameTokens, p.NameLength)
	}
	return s, nil
}

func (p *ShardPreprocessor) Metadata() Metadata {
	return Metadata{TokenVocab: p.Vocab}
}

// ShardPreprocessors builds the three role preprocessors over one directory.
func ShardPreprocessors(dir string, vocab *Vocabulary, bodyLength, nameLength int) Preprocessors {
	mk := func(split string) *ShardPreprocessor {
		return &ShardPreprocessor{Dir: dir, Split: split, BodyLength: bodyLength, NameLength: nameLength, Vocab: vocab}
	}
	return Preprocessors{
		TrainingRole:   mk("train"),
		ValidatingRole: mk("valid"),
		TestingRole:    mk("test"),
	}
}

// WriteSplit writes s as <dir>/<split>_body and <dir>/<split>_name shards.
func WriteSplit(dir, split string, s *Split) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := WriteShards(filepath.Join(dir, split+"_body"), s.BodyTokens, 0); err != nil {
		return err
	}
	return WriteShards(filepath.Join(dir, split+"_name"), s.NameTokens, 0)
}
