package model

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
)

type paramData struct {
	Name       string
	Rows, Cols int
	Data       []float64
}

// Checkpoint is a weights snapshot. Optimizer moments are not persisted.
type Checkpoint struct {
	ModelType   string
	Epoch       int
	ValAccuracy float64
	Params      []paramData
}

// Snapshot copies the current weights.
func (m *Model) Snapshot(epoch int, valAccuracy float64) *Checkpoint {
	ck := &Checkpoint{ModelType: m.ModelType, Epoch: epoch, ValAccuracy: valAccuracy}
	for _, p := range m.Encoder.Params() {
		r, c := p.Value.Dims()
		raw := mat.DenseCopyOf(p.Value).RawMatrix()
		ck.Params = append(ck.Params, paramData{
			Name: p.Name, Rows: r, Cols: c,
			Data: append([]float64(nil), raw.Data...),
		})
	}
	return ck
}

// Restore loads ck into the model; names and shapes must match.
func (m *Model) Restore(ck *Checkpoint) error {
	ps := m.Encoder.Params()
	if len(ps) != len(ck.Params) {
		return fmt.Errorf("restore: param count mismatch (have %d, file %d)", len(ps), len(ck.Params))
	}
	for i, p := range ps {
		pd := ck.Params[i]
		r, c := p.Value.Dims()
		if pd.Name != p.Name || pd.Rows != r || pd.Cols != c {
			return fmt.Errorf("restore: %s is %dx%d, file has %s %dx%d", p.Name, r, c, pd.Name, pd.Rows, pd.Cols)
		}
	}
	for i, p := range ps {
		p.Value.Copy(mat.NewDense(ck.Params[i].Rows, ck.Params[i].Cols, ck.Params[i].Data))
	}
	return nil
}

// SaveCheckpoint writes ck to filename using gob.
func SaveCheckpoint(ck *Checkpoint, filename string) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ck); err != nil {
		return err
	}
	return os.WriteFile(filename, buf.Bytes(), 0644)
}

func LoadCheckpoint(filename string) (*Checkpoint, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	ck := &Checkpoint{}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(ck); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filename, err)
	}
	return ck, nil
}

// LoadWeights restores the model from a checkpoint file.
func (m *Model) LoadWeights(filename string) error {
	ck, err := LoadCheckpoint(filename)
	if err != nil {
		return err
	}
	return m.Restore(ck)
}

// Artifact names of the two checkpoints every run keeps.
const (
	BestWeights  = "weights-best.gob"
	FinalWeights = "weights-final.gob"
)
