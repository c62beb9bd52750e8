package dataset

import (
	"fmt"
	"sort"

	"github.com/sugarme/tokenizer/pretrained"
)

// LoadTokenizerVocabulary builds a Vocabulary from a saved tokenizer.json.
// Tokenizer ids are shifted by one so id 0 stays the padding sentinel.
func LoadTokenizerVocabulary(tokPath string) (*Vocabulary, error) {
	t, err := pretrained.FromFile(tokPath)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer %v: %w", tokPath, err)
	}
	vocab := t.GetVocab(true)

	type entry struct {
		tok string
		id  int
	}
	entries := make([]entry, 0, len(vocab))
	for tok, id := range vocab {
		entries = append(entries, entry{tok, id})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	tokens := make([]string, len(entries))
	for i, e := range entries {
		tokens[i] = e.tok
	}
	return NewVocabulary(tokens), nil
}
