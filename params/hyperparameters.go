package params

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrConfiguration is returned for missing or invalid hyperparameters.
var ErrConfiguration = errors.New("configuration error")

// Hyperparameters is the full configuration of one run. It is treated as
// immutable once a run starts; the model keeps its own copy of the model
// section with the vocabulary size injected.
type Hyperparameters struct {
	ModelType            string               `yaml:"model_type"`
	RunName              string               `yaml:"run_name"`
	ModelHyperparameters ModelHyperparameters `yaml:"model_hyperparameters"`
	BeamSearchConfig     BeamSearchConfig     `yaml:"beam_search_config"`

	// bytes the set was parsed from, written back verbatim
	source []byte
}

type ModelHyperparameters struct {
	BatchSize      int `yaml:"batch_size"`
	Epochs         int `yaml:"epochs"`
	VocabularySize int `yaml:"vocabulary_size,omitempty"` // |V|+1, injected at build time

	// Encoder knobs
	EmbeddingDim int `yaml:"embedding_dim,omitempty"`
	HiddenDim    int `yaml:"hidden_dim,omitempty"`

	// Optimizer (Nadam)
	LearningRate float64 `yaml:"learning_rate,omitempty"`
	AdamBeta1    float64 `yaml:"adam_beta1,omitempty"` // default 0.9
	AdamBeta2    float64 `yaml:"adam_beta2,omitempty"` // default 0.999
	AdamEps      float64 `yaml:"adam_eps,omitempty"`   // default 1e-7
	GradClip     float64 `yaml:"grad_clip,omitempty"`  // <=0 disables

	Seed int64 `yaml:"seed,omitempty"`
	// Gradient workers per batch; <=1 computes serially.
	Workers int `yaml:"workers,omitempty"`

	// Anything else the encoder may read.
	Extra map[string]any `yaml:",inline"`
}

type BeamSearchConfig struct {
	BeamWidth       int    `yaml:"beam_width,omitempty"`
	MaxDecodeLength int    `yaml:"max_decode_length,omitempty"`
	StartToken      string `yaml:"start_token,omitempty"`
	EndToken        string `yaml:"end_token,omitempty"`

	// Score each example by its best candidate instead of the top one.
	ConsiderFullBeam bool `yaml:"consider_full_beam,omitempty"`
	// Skip examples that fail to decode instead of aborting the evaluation.
	SkipDecodeErrors bool `yaml:"skip_decode_errors,omitempty"`
	Workers          int  `yaml:"workers,omitempty"`
}

// Defaults for knobs a configuration leaves unset.
var DefaultModel = ModelHyperparameters{
	EmbeddingDim: 64,
	HiddenDim:    128,
	LearningRate: 0.002,
	AdamBeta1:    0.9,
	AdamBeta2:    0.999,
	AdamEps:      1e-7,
	GradClip:     1.0,
	Seed:         1,
}

var DefaultBeam = BeamSearchConfig{
	BeamWidth:       5,
	MaxDecodeLength: 8,
	StartToken:      "%START%",
	EndToken:        "%END%",
	Workers:         4,
}

// required keys, checked against the raw document
var requiredKeys = [][]string{
	{"model_type"},
	{"run_name"},
	{"model_hyperparameters"},
	{"model_hyperparameters", "batch_size"},
	{"model_hyperparameters", "epochs"},
}

// Parse decodes a YAML (or JSON) hyperparameter document. Missing required
// keys and non-positive sizes fail with ErrConfiguration.
func Parse(data []byte) (Hyperparameters, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Hyperparameters{}, fmt.Errorf("%w: invalid document: %v", ErrConfiguration, err)
	}
	for _, path := range requiredKeys {
		if !hasKey(raw, path) {
			return Hyperparameters{}, fmt.Errorf("%w: missing required key %q", ErrConfiguration, strings.Join(path, "."))
		}
	}

	var hp Hyperparameters
	if err := yaml.Unmarshal(data, &hp); err != nil {
		return Hyperparameters{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := hp.Validate(); err != nil {
		return Hyperparameters{}, err
	}
	hp.source = append([]byte(nil), data...)
	return hp, nil
}

// Load reads and parses a hyperparameter file.
func Load(path string) (Hyperparameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Hyperparameters{}, fmt.Errorf("reading hyperparameters %v: %w", path, err)
	}
	return Parse(data)
}

// Validate checks the fields a run cannot start without.
func (hp Hyperparameters) Validate() error {
	if hp.ModelType == "" {
		return fmt.Errorf("%w: model_type must be specified", ErrConfiguration)
	}
	if hp.RunName == "" {
		return fmt.Errorf("%w: run_name must be specified", ErrConfiguration)
	}
	if hp.ModelHyperparameters.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size must be positive, got %d", ErrConfiguration, hp.ModelHyperparameters.BatchSize)
	}
	if hp.ModelHyperparameters.Epochs <= 0 {
		return fmt.Errorf("%w: epochs must be positive, got %d", ErrConfiguration, hp.ModelHyperparameters.Epochs)
	}
	if hp.BeamSearchConfig.BeamWidth < 0 || hp.BeamSearchConfig.MaxDecodeLength < 0 {
		return fmt.Errorf("%w: beam_width and max_decode_length cannot be negative", ErrConfiguration)
	}
	return nil
}

// Marshal returns the document to persist as the run configuration: the
// parsed bytes when available, otherwise a YAML encoding of the struct.
func (hp Hyperparameters) Marshal() ([]byte, error) {
	if hp.source != nil {
		return append([]byte(nil), hp.source...), nil
	}
	return yaml.Marshal(hp)
}

// WithDefaults fills unset knobs from DefaultModel.
func (m ModelHyperparameters) WithDefaults() ModelHyperparameters {
	if m.EmbeddingDim == 0 {
		m.EmbeddingDim = DefaultModel.EmbeddingDim
	}
	if m.HiddenDim == 0 {
		m.HiddenDim = DefaultModel.HiddenDim
	}
	if m.LearningRate == 0 {
		m.LearningRate = DefaultModel.LearningRate
	}
	if m.AdamBeta1 == 0 {
		m.AdamBeta1 = DefaultModel.AdamBeta1
	}
	if m.AdamBeta2 == 0 {
		m.AdamBeta2 = DefaultModel.AdamBeta2
	}
	if m.AdamEps == 0 {
		m.AdamEps = DefaultModel.AdamEps
	}
	if m.GradClip == 0 {
		m.GradClip = DefaultModel.GradClip
	}
	if m.Seed == 0 {
		m.Seed = DefaultModel.Seed
	}
	return m
}

// WithDefaults fills unset beam knobs from DefaultBeam.
func (b BeamSearchConfig) WithDefaults() BeamSearchConfig {
	if b.BeamWidth == 0 {
		b.BeamWidth = DefaultBeam.BeamWidth
	}
	if b.MaxDecodeLength == 0 {
		b.MaxDecodeLength = DefaultBeam.MaxDecodeLength
	}
	if b.StartToken == "" {
		b.StartToken = DefaultBeam.StartToken
	}
	if b.EndToken == "" {
		b.EndToken = DefaultBeam.EndToken
	}
	if b.Workers <= 0 {
		b.Workers = DefaultBeam.Workers
	}
	return b
}

func hasKey(m map[string]any, path []string) bool {
	cur := m
	for i, k := range path {
		v, ok := cur[k]
		if !ok || v == nil {
			return false
		}
		if i == len(path)-1 {
			return true
		}
		next, ok := v.(map[string]any)
		if !ok {
			return false
		}
		cur = next
	}
	return true
}
