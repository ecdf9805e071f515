// Package config loads the settings shared by the trainer and the server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

const (
	PredictModeStrict = "strict"
	PredictModeLegacy = "legacy"
)

type Config struct {
	Dataset   DatasetConfig   `yaml:"dataset"`
	Training  TrainingConfig  `yaml:"training"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Database  DatabaseConfig  `yaml:"database"`
	Http      HTTPConfig      `yaml:"http"`
	Service   ServiceConfig   `yaml:"service"`
	Log       LogConfig       `yaml:"log"`
}

type DatasetConfig struct {
	URL       string `yaml:"url" env:"WINE_DATASET_URL"`
	Separator string `yaml:"separator" env:"WINE_DATASET_SEPARATOR"`
}

type TrainingConfig struct {
	TestRatio float64 `yaml:"test_ratio" env:"WINE_TEST_RATIO"`
	Seed      int64   `yaml:"seed" env:"WINE_SEED"`
	NumTrees  int     `yaml:"n_estimators" env:"WINE_N_ESTIMATORS"`
	MaxDepth  int     `yaml:"max_depth" env:"WINE_MAX_DEPTH"`
	// Workers bounds the number of trees fitted concurrently. Zero means one
	// worker per CPU.
	Workers int `yaml:"workers" env:"WINE_TRAIN_WORKERS"`
}

type ArtifactsConfig struct {
	ModelType   string `yaml:"model_type" env:"WINE_MODEL_TYPE"`
	ModelPath   string `yaml:"model_path" env:"WINE_MODEL_PATH"`
	MetricsPath string `yaml:"metrics_path" env:"WINE_METRICS_PATH"`
}

// DatabaseConfig points at the optional SQLite training ledger. An empty path
// disables it.
type DatabaseConfig struct {
	Path string `yaml:"path" env:"WINE_DB_PATH"`
}

type HTTPConfig struct {
	Port         int           `yaml:"port" env:"WINE_HTTP_PORT"`
	Timeout      time.Duration `yaml:"timeout" env:"WINE_HTTP_TIMEOUT"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" env:"WINE_HTTP_MAX_BODY_BYTES"`
	PredictMode  string        `yaml:"predict_mode" env:"WINE_PREDICT_MODE"`
	// AllowedOrigins lists browser origins answered with CORS headers. "*"
	// allows any origin; empty disables CORS.
	AllowedOrigins []string `yaml:"allowed_origins" env:"WINE_HTTP_ALLOWED_ORIGINS" envSeparator:","`
}

// ServiceConfig is the identity record echoed by / and /predict.
type ServiceConfig struct {
	Message string `yaml:"message" env:"WINE_SERVICE_MESSAGE"`
	Name    string `yaml:"name" env:"WINE_SERVICE_NAME"`
	RollNo  string `yaml:"roll_no" env:"WINE_SERVICE_ROLL_NO"`
}

type LogConfig struct {
	Level      string `yaml:"level" env:"WINE_LOG_LEVEL"`
	File       string `yaml:"file" env:"WINE_LOG_FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"WINE_LOG_MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"WINE_LOG_MAX_BACKUPS"`
}

func Default() *Config {
	return &Config{
		Dataset: DatasetConfig{
			URL:       "https://archive.ics.uci.edu/ml/machine-learning-databases/wine-quality/winequality-red.csv",
			Separator: ";",
		},
		Training: TrainingConfig{
			TestRatio: 0.2,
			Seed:      42,
			NumTrees:  200,
			MaxDepth:  20,
		},
		Artifacts: ArtifactsConfig{
			ModelType:   "random_forest",
			ModelPath:   "app/artifacts/wine_model.bin",
			MetricsPath: "app/artifacts/metrics.json",
		},
		Http: HTTPConfig{
			Port:         8000,
			Timeout:      30 * time.Second,
			MaxBodyBytes: 1 << 20,
			PredictMode:  PredictModeStrict,
		},
		Service: ServiceConfig{
			Message: "Wine Quality Prediction API",
			Name:    "Arjun Deshmukh",
			RollNo:  "2022BCS0084",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// Load reads path on top of the defaults and then applies WINE_* environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("open config: %w", err)
		default:
			defer file.Close()
			if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch url := c.Dataset.URL; {
	case url == "":
		errs = append(errs, errors.New("dataset.url is required"))
	case isRemote(url) && !govalidator.IsRequestURL(url):
		errs = append(errs, fmt.Errorf("dataset.url is not a valid URL: %q", url))
	}
	if len([]rune(c.Dataset.Separator)) != 1 {
		errs = append(errs, fmt.Errorf("dataset.separator must be a single character, got %q", c.Dataset.Separator))
	}
	if c.Training.TestRatio <= 0 || c.Training.TestRatio >= 1 {
		errs = append(errs, fmt.Errorf("training.test_ratio must be in (0, 1), got %v", c.Training.TestRatio))
	}
	if c.Training.NumTrees <= 0 {
		errs = append(errs, fmt.Errorf("training.n_estimators must be positive, got %d", c.Training.NumTrees))
	}
	if c.Training.MaxDepth <= 0 {
		errs = append(errs, fmt.Errorf("training.max_depth must be positive, got %d", c.Training.MaxDepth))
	}
	if c.Training.Workers < 0 {
		errs = append(errs, fmt.Errorf("training.workers must not be negative, got %d", c.Training.Workers))
	}
	if c.Artifacts.ModelPath == "" {
		errs = append(errs, errors.New("artifacts.model_path is required"))
	}
	if c.Artifacts.MetricsPath == "" {
		errs = append(errs, errors.New("artifacts.metrics_path is required"))
	}
	if c.Http.Port <= 0 || c.Http.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port out of range: %d", c.Http.Port))
	}
	for _, origin := range c.Http.AllowedOrigins {
		if origin != "*" && !govalidator.IsRequestURL(origin) {
			errs = append(errs, fmt.Errorf("http.allowed_origins: %q is not an origin", origin))
		}
	}
	switch c.Http.PredictMode {
	case PredictModeStrict, PredictModeLegacy:
	default:
		errs = append(errs, fmt.Errorf("http.predict_mode must be %q or %q, got %q", PredictModeStrict, PredictModeLegacy, c.Http.PredictMode))
	}
	return errors.Join(errs...)
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}
