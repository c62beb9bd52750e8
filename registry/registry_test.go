package registry

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/manningwu07/namer/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupRegistry(t *testing.T) *Registry {
	r, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestRunLifecycle(t *testing.T) {
	r := setupRegistry(t)

	run, err := r.Start("attention", "demo", "/models/attention/demo/2024-01-01-00-00")
	require.NoError(t, err)
	assert.Len(t, run.ID, 36)
	assert.Equal(t, Training, run.Status)

	h := &model.History{}
	h.Append(model.EpochMetrics{Epoch: 1, ValAccuracy: 0.5})
	h.Append(model.EpochMetrics{Epoch: 2, ValAccuracy: 0.75})
	h.Append(model.EpochMetrics{Epoch: 3, ValAccuracy: 0.75})
	require.NoError(t, r.Finish(run.ID, h, Trained, nil))
	require.NoError(t, r.RecordEvaluation(run.ID, 0.4))

	got, err := r.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, Evaluated, got.Status)
	assert.Equal(t, 3, got.Epochs)
	assert.Equal(t, 2, got.BestEpoch)
	assert.Equal(t, 0.75, got.BestValAccuracy)
	require.NotNil(t, got.TestF1)
	assert.Equal(t, 0.4, *got.TestF1)
}

func TestFinishRecordsError(t *testing.T) {
	r := setupRegistry(t)
	run, err := r.Start("attention", "demo", "/tmp/run")
	require.NoError(t, err)
	require.NoError(t, r.Finish(run.ID, &model.History{}, Diverged, errors.New("loss NaN")))

	got, err := r.FindByDirectory("/tmp/run")
	require.NoError(t, err)
	assert.Equal(t, Diverged, got.Status)
	assert.Equal(t, "loss NaN", got.Error)
}

func TestStartReusesDirectory(t *testing.T) {
	r := setupRegistry(t)
	a, err := r.Start("attention", "demo", "/tmp/run")
	require.NoError(t, err)
	require.NoError(t, r.Finish(a.ID, nil, Failed, errors.New("x")))
	b, err := r.Start("attention", "demo", "/tmp/run")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, Training, b.Status)
	assert.Empty(t, b.Error)
}

func TestListAndMissing(t *testing.T) {
	r := setupRegistry(t)
	_, err := r.Start("attention", "a", "/runs/a")
	require.NoError(t, err)
	_, err = r.Start("other", "b", "/runs/b")
	require.NoError(t, err)

	all, err := r.List("")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	only, err := r.List("attention")
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "a", only[0].RunName)

	assert.ErrorIs(t, r.Finish("missing", nil, Failed, nil), gorm.ErrRecordNotFound)
	_, err = r.Get("missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
