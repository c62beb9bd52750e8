package runs

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/manningwu07/namer/dataset"
	"github.com/manningwu07/namer/evaluate"
	"github.com/manningwu07/namer/model"
	"github.com/manningwu07/namer/params"
	"gopkg.in/yaml.v3"
)

// Artifact names inside a run directory.
const (
	ConfigFile        = "config.yaml"
	VocabFile         = "vocab.json"
	InputsFile        = "inputs.txt"
	HistoryFile       = "history.csv"
	ResultsFile       = "results.yaml"
	VisualisationFile = "visualised_results.txt"
	MetricsFile       = "metrics.prom"
	LogFile           = "train.log"
)

// TimestampLayout names run directories at minute granularity.
const TimestampLayout = "2006-01-02-15-04"

// Directory is one run's artifact container:
// <root>/<model_type>/<run_name>/<YYYY-MM-DD-HH-MM>.
type Directory struct {
	Path            string
	Hyperparameters params.Hyperparameters
}

// PathFor is the directory a run started at now would use.
func PathFor(root string, hp params.Hyperparameters, now time.Time) string {
	return filepath.Join(root, hp.ModelType, hp.RunName, now.Format(TimestampLayout))
}

// Create makes the run directory and writes config.yaml verbatim. Two runs
// with the same name in the same minute share a directory.
func Create(root string, hp params.Hyperparameters, now time.Time) (*Directory, error) {
	if err := hp.Validate(); err != nil {
		return nil, err
	}
	d := &Directory{Path: PathFor(root, hp, now), Hyperparameters: hp}
	if err := os.MkdirAll(d.Path, 0777); err != nil {
		return nil, fmt.Errorf("%w: creating run directory: %v", ErrIO, err)
	}
	raw, err := hp.Marshal()
	if err != nil {
		return nil, err
	}
	if err := d.writeBytes(ConfigFile, raw); err != nil {
		return nil, err
	}
	return d, nil
}

// Open loads a prior run from its directory.
func Open(path string) (*Directory, error) {
	hp, err := params.Load(filepath.Join(path, ConfigFile))
	if err != nil {
		return nil, err
	}
	return &Directory{Path: path, Hyperparameters: hp}, nil
}

func (d *Directory) WriteVocabulary(v *dataset.Vocabulary) error {
	if err := v.ExportVocabJSON(d.fullpath(VocabFile)); err != nil {
		return fmt.Errorf("%w: writing %v: %v", ErrIO, VocabFile, err)
	}
	return nil
}

func (d *Directory) Vocabulary() (*dataset.Vocabulary, error) {
	return dataset.ImportVocabJSON(d.fullpath(VocabFile))
}

// LoadModel rebuilds the run's model from its config and vocabulary and
// loads the final weights.
func (d *Directory) LoadModel() (*model.Model, error) {
	vocab, err := d.Vocabulary()
	if err != nil {
		return nil, err
	}
	m, err := model.Build(d.Hyperparameters, vocab)
	if err != nil {
		return nil, err
	}
	if err := m.LoadWeights(d.fullpath(model.FinalWeights)); err != nil {
		return nil, fmt.Errorf("%w: loading weights: %v", ErrIO, err)
	}
	return m, nil
}

// WriteInputs overwrites the input manifest at the start of training.
func (d *Directory) WriteInputs(trainSamples, validSamples int) error {
	return d.Write(InputsFile, strings.NewReader(
		fmt.Sprintf("Training samples: %d, validating samples: %d", trainSamples, validSamples)))
}

// AppendTestingInputs records the evaluation size after training.
func (d *Directory) AppendTestingInputs(testSamples int) error {
	return d.Append(InputsFile, strings.NewReader(fmt.Sprintf("\nTesting samples: %d", testSamples)))
}

func (d *Directory) SaveCheckpoint(name string, ck *model.Checkpoint) error {
	if err := model.SaveCheckpoint(ck, d.fullpath(name)); err != nil {
		return fmt.Errorf("%w: saving %v: %v", ErrIO, name, err)
	}
	return nil
}

func (d *Directory) Checkpoint(name string) (*model.Checkpoint, error) {
	return model.LoadCheckpoint(d.fullpath(name))
}

func (d *Directory) WriteHistory(h *model.History) error {
	var buf bytes.Buffer
	if err := h.WriteCSV(&buf); err != nil {
		return err
	}
	return d.Write(HistoryFile, &buf)
}

func (d *Directory) History() (*model.History, error) {
	r, err := d.Read(HistoryFile)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return model.ReadHistoryCSV(r)
}

// Results is the persisted summary of one evaluation.
type Results struct {
	Precision float64   `yaml:"precision"`
	Recall    float64   `yaml:"recall"`
	F1        float64   `yaml:"f1"`
	Evaluated int       `yaml:"evaluated"`
	Skipped   int       `yaml:"skipped"`
	Examples  []float64 `yaml:"example_f1,flow"`
}

func (d *Directory) WriteResults(res *evaluate.Result) error {
	out := Results{
		Precision: res.Macro.Precision,
		Recall:    res.Macro.Recall,
		F1:        res.Macro.F1,
		Evaluated: res.Evaluated,
		Skipped:   res.Skipped,
	}
	for _, ex := range res.Examples {
		if ex.Err == nil {
			out.Examples = append(out.Examples, ex.Score.F1)
		}
	}
	raw, err := yaml.Marshal(out)
	if err != nil {
		return err
	}
	return d.writeBytes(ResultsFile, raw)
}

func (d *Directory) Results() (*Results, error) {
	r, err := d.Read(ResultsFile)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out Results
	if err := yaml.NewDecoder(r).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (d *Directory) WriteVisualisation(text string) error {
	return d.Write(VisualisationFile, strings.NewReader(text))
}

// OpenLog opens train.log for appending.
func (d *Directory) OpenLog() (io.WriteCloser, error) {
	f, err := os.OpenFile(d.fullpath(LogFile), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %v: %v", ErrIO, LogFile, err)
	}
	return f, nil
}

func (d *Directory) MetricsPath() string {
	return d.fullpath(MetricsFile)
}
