package dataset

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVocabularyReservesPad(t *testing.T) {
	v := NewVocabulary([]string{"get", "name", "get", PadToken, "set"})

	assert.Equal(t, 3, v.Len())
	assert.Equal(t, 1, v.ID("get"))
	assert.Equal(t, 3, v.ID("set"))
	assert.Equal(t, PadID, v.ID("missing"))
	assert.Equal(t, PadToken, v.Token(0))
	assert.Equal(t, "get name", v.Detokenize([]int{1, 0, 2, 0}))
	assert.Equal(t, []int{1, 2, 0}, v.Tokenize("get name missing"))
}

func TestVocabJSONRoundTrip(t *testing.T) {
	v := NewVocabulary([]string{"a", "b"})
	path := filepath.Join(t.TempDir(), "vocab.json")
	require.NoError(t, v.ExportVocabJSON(path))

	back, err := ImportVocabJSON(path)
	require.NoError(t, err)
	assert.Equal(t, v.IDToToken, back.IDToToken)
	assert.Equal(t, v.TokenToID, back.TokenToID)
}

func TestSplitValidate(t *testing.T) {
	ok := &Split{BodyTokens: [][]int{{1}}, NameTokens: [][]int{{2}}}
	assert.NoError(t, ok.Validate())

	bad := &Split{BodyTokens: [][]int{{1}, {2}}, NameTokens: [][]int{{2}}}
	assert.ErrorIs(t, bad.Validate(), ErrData)
}

func TestPadAndStrip(t *testing.T) {
	assert.Equal(t, []int{1, 2, 0, 0}, PadRow([]int{1, 2}, 4))
	assert.Equal(t, []int{1, 2}, PadRow([]int{1, 2, 3}, 2))
	assert.Equal(t, []int{1, 3}, StripPad([]int{1, 0, 3, 0}))
}

func TestShardsKeepRowAlignment(t *testing.T) {
	dir := t.TempDir()
	rows := [][]int{{1, 2, 3}, {}, {4}, {5, 6}}
	// tiny shard cap forces rollover
	require.NoError(t, WriteShards(filepath.Join(dir, "x"), rows, 8))

	back, err := ReadShards(filepath.Join(dir, "x"))
	require.NoError(t, err)
	require.Len(t, back, len(rows))
	for i := range rows {
		assert.Equal(t, len(rows[i]), len(back[i]))
		for j := range rows[i] {
			assert.Equal(t, rows[i][j], back[i][j])
		}
	}
}

func TestShardsRejectCorruptIndex(t *testing.T) {
	cases := map[string]struct{ start, n uint64 }{
		"huge length":     {0, ^uint64(0)},
		"negative length": {0, uint64(1) << 63},
		"past end":        {4, 2},
		"start past end":  {100, 0},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			prefix := filepath.Join(t.TempDir(), "x")
			require.NoError(t, WriteShards(prefix, [][]int{{1, 2}}, 0))
			idx := make([]byte, 16)
			binary.LittleEndian.PutUint64(idx, tc.start)
			binary.LittleEndian.PutUint64(idx[8:], tc.n)
			require.NoError(t, os.WriteFile(shardPath(prefix, 0, "idx"), idx, 0o644))

			_, err := ReadShards(prefix)
			assert.ErrorIs(t, err, ErrData)
		})
	}
}

func TestShardPreprocessor(t *testing.T) {
	dir := t.TempDir()
	vocab := NewVocabulary([]string{"a", "b", "c"})
	s := &Split{
		BodyTokens: [][]int{{1, 2, 3}, {3}},
		NameTokens: [][]int{{1}, {2, 3}},
	}
	require.NoError(t, WriteSplit(dir, "train", s))

	pp := ShardPreprocessors(dir, vocab, 2, 3)
	got, err := pp[TrainingRole].TensoriseData()
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 2}, {3, 0}}, got.BodyTokens)
	assert.Equal(t, [][]int{{1, 0, 0}, {2, 3, 0}}, got.NameTokens)

	v, err := pp.Vocabulary()
	require.NoError(t, err)
	assert.Same(t, vocab, v)

	_, err = pp[TestingRole].TensoriseData()
	assert.ErrorIs(t, err, ErrData)
}

func TestPreprocessorsMissingRole(t *testing.T) {
	_, err := Preprocessors{}.Get(TrainingRole)
	assert.ErrorIs(t, err, ErrData)
}
