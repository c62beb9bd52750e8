package params

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Env holds process settings that are not part of a run's hyperparameters.
type Env struct {
	ModelsDir    string `env:"MODELS_DIR" envDefault:"trained_models"`
	RegistryPath string `env:"REGISTRY_PATH"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	EvalWorkers  int    `env:"EVAL_WORKERS" envDefault:"0"`
	ServerPort   int    `env:"SERVER_PORT" envDefault:"8000"`
	ServerURL    string `env:"SERVER_URL" envDefault:"http://127.0.0.1:8000"`
}

// LoadEnv reads the process settings, loading envFile first when given.
func LoadEnv(envFile string) (*Env, error) {
	if envFile != "" {
		slog.Info("loading env from file", "path", envFile)
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("error loading env file %v: %w", envFile, err)
		}
	}
	cfg := &Env{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

func (e *Env) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
