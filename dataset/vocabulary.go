package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// PadID is reserved for padding and unknown tokens in every vocabulary.
const PadID = 0

const PadToken = "<pad>"

// Vocabulary maps tokens to ids 1..Len(); id 0 is the padding/unknown sentinel.
type Vocabulary struct {
	TokenToID map[string]int
	IDToToken []string // IDToToken[0] == PadToken
}

// NewVocabulary assigns ids in order of first appearance, starting at 1.
func NewVocabulary(tokens []string) *Vocabulary {
	v := &Vocabulary{
		TokenToID: make(map[string]int, len(tokens)),
		IDToToken: []string{PadToken},
	}
	for _, t := range tokens {
		if t == PadToken {
			continue
		}
		if _, ok := v.TokenToID[t]; ok {
			continue
		}
		v.TokenToID[t] = len(v.IDToToken)
		v.IDToToken = append(v.IDToToken, t)
	}
	return v
}

// Len is the number of real tokens, excluding the padding sentinel.
func (v *Vocabulary) Len() int {
	return len(v.IDToToken) - 1
}

// ID returns the id of tok, or PadID when it is not in the vocabulary.
func (v *Vocabulary) ID(tok string) int {
	if id, ok := v.TokenToID[tok]; ok {
		return id
	}
	return PadID
}

// Lookup is ID with a presence flag.
func (v *Vocabulary) Lookup(tok string) (int, bool) {
	id, ok := v.TokenToID[tok]
	return id, ok
}

func (v *Vocabulary) Token(id int) string {
	if id <= 0 || id >= len(v.IDToToken) {
		return PadToken
	}
	return v.IDToToken[id]
}

// Tokenize maps whitespace separated tokens to ids.
func (v *Vocabulary) Tokenize(s string) []int {
	fields := strings.Fields(s)
	out := make([]int, len(fields))
	for i, f := range fields {
		out[i] = v.ID(f)
	}
	return out
}

// Detokenize joins the tokens of ids with spaces, dropping padding.
func (v *Vocabulary) Detokenize(ids []int) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == PadID {
			continue
		}
		parts = append(parts, v.Token(id))
	}
	return strings.Join(parts, " ")
}

// ExportVocabJSON writes TokenToID/IDToToken to path.
func (v *Vocabulary) ExportVocabJSON(path string) error {
	data := map[string]any{
		"TokenToID": v.TokenToID,
		"IDToToken": v.IDToToken,
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// ImportVocabJSON reads a vocabulary written by ExportVocabJSON.
func ImportVocabJSON(path string) (*Vocabulary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data struct {
		TokenToID map[string]int
		IDToToken []string
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: decoding vocab %v: %v", ErrData, path, err)
	}
	if len(data.IDToToken) == 0 || data.IDToToken[0] != PadToken {
		return nil, fmt.Errorf("%w: vocab %v does not reserve id 0 for %s", ErrData, path, PadToken)
	}
	for tok, id := range data.TokenToID {
		if id <= 0 || id >= len(data.IDToToken) || data.IDToToken[id] != tok {
			return nil, fmt.Errorf("%w: vocab %v has inconsistent entry %q=%d", ErrData, path, tok, id)
		}
	}
	return &Vocabulary{TokenToID: data.TokenToID, IDToToken: data.IDToToken}, nil
}
