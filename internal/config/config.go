package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chrisconley/rfms/internal/clustering"
	"github.com/chrisconley/rfms/internal/storage"
	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable holding the config file path.
const EnvPath = "RFMS_CONFIG"

// DefaultPath is used when EnvPath is unset.
const DefaultPath = "rfms.yaml"

type Config struct {
	Data       DataConfig       `yaml:"data"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Clustering ClusteringConfig `yaml:"clustering"`
	History    HistoryConfig    `yaml:"history"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

type DataConfig struct {
	RawDir       string            `yaml:"raw_dir"`
	ProcessedDir string            `yaml:"processed_dir"`
	Files        storage.FileNames `yaml:"files"`
}

type EmbeddingConfig struct {
	NNeighbors         int     `yaml:"n_neighbors"`
	MinDist            float64 `yaml:"min_dist"`
	Spread             float64 `yaml:"spread"`
	NComponents        int     `yaml:"n_components"`
	Seed               uint64  `yaml:"seed"`
	LearningRate       float64 `yaml:"learning_rate"`
	NegativeSampleRate int     `yaml:"negative_sample_rate"`
	// Zero selects the size-dependent default.
	Epochs  int `yaml:"epochs"`
	Workers int `yaml:"workers"`
}

// ToEmbedding converts to the embedding stage configuration.
func (c EmbeddingConfig) ToEmbedding() clustering.EmbeddingConfig {
	return clustering.EmbeddingConfig{
		NNeighbors:         c.NNeighbors,
		MinDist:            c.MinDist,
		Spread:             c.Spread,
		NComponents:        c.NComponents,
		Seed:               c.Seed,
		LearningRate:       c.LearningRate,
		NegativeSampleRate: c.NegativeSampleRate,
		Epochs:             c.Epochs,
		Workers:            c.Workers,
	}
}

type ClusteringConfig struct {
	Eps        float64 `yaml:"eps"`
	MinSamples int     `yaml:"min_samples"`
	Workers    int     `yaml:"workers"`
	// Default cutoff when the command line does not set one.
	Cutoff string `yaml:"cutoff"`
}

// ToDBSCAN converts to the density clustering stage configuration.
func (c ClusteringConfig) ToDBSCAN() clustering.DBSCAN {
	return clustering.DBSCAN{Eps: c.Eps, MinSamples: c.MinSamples, Workers: c.Workers}
}

type HistoryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Output      string  `yaml:"output"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

func DefaultConfig() Config {
	embedding := clustering.DefaultEmbeddingConfig()
	dbscan := clustering.DefaultDBSCAN()
	return Config{
		Data: DataConfig{
			RawDir:       "data/raw",
			ProcessedDir: "data/processed",
			Files:        storage.DefaultFileNames(),
		},
		Embedding: EmbeddingConfig{
			NNeighbors:         embedding.NNeighbors,
			MinDist:            embedding.MinDist,
			Spread:             embedding.Spread,
			NComponents:        embedding.NComponents,
			Seed:               embedding.Seed,
			LearningRate:       embedding.LearningRate,
			NegativeSampleRate: embedding.NegativeSampleRate,
		},
		Clustering: ClusteringConfig{
			Eps:        dbscan.Eps,
			MinSamples: dbscan.MinSamples,
			Cutoff:     "2017-12",
		},
		History: HistoryConfig{
			Enabled:      true,
			DatabasePath: "data/rfms_history.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Tracing: TracingConfig{
			Output:      "stderr",
			SampleRatio: 1,
		},
	}
}

// PathFromEnv returns the config path named by RFMS_CONFIG, or DefaultPath.
func PathFromEnv() string {
	if p := strings.TrimSpace(os.Getenv(EnvPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML file at path over the defaults. A missing file yields
// the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges. Embedding parameters are validated again by
// the embedding stage itself.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Data.RawDir) == "" {
		errs = append(errs, errors.New("data.raw_dir is required"))
	}
	if strings.TrimSpace(c.Data.ProcessedDir) == "" {
		errs = append(errs, errors.New("data.processed_dir is required"))
	}
	if c.Embedding.NNeighbors < 2 {
		errs = append(errs, fmt.Errorf("embedding.n_neighbors must be at least 2, got %d", c.Embedding.NNeighbors))
	}
	if c.Embedding.NComponents < 1 {
		errs = append(errs, fmt.Errorf("embedding.n_components must be positive, got %d", c.Embedding.NComponents))
	}
	if c.Clustering.Eps <= 0 {
		errs = append(errs, fmt.Errorf("clustering.eps must be positive, got %g", c.Clustering.Eps))
	}
	if c.Clustering.MinSamples < 1 {
		errs = append(errs, fmt.Errorf("clustering.min_samples must be at least 1, got %d", c.Clustering.MinSamples))
	}
	if c.History.Enabled && strings.TrimSpace(c.History.DatabasePath) == "" {
		errs = append(errs, errors.New("history.database_path is required when history is enabled"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be in [0, 1], got %g", c.Tracing.SampleRatio))
	}
	return errors.Join(errs...)
}
