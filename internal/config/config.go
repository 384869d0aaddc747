// Package config reads the classifier's settings from the environment.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/digit-classifier/internal/imageproc"
	"github.com/Brownie44l1/digit-classifier/internal/model"
)

type Config struct {
	ModelDir  string
	ModelName string
	ModelExt  string
	// ONNXLibrary is the onnxruntime shared library. Empty uses the
	// platform default.
	ONNXLibrary string

	NumThreads int
	Workers    int
	Resampler  imageproc.Resampler
	Invert     bool
	LogLevel   logrus.Level
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.Errorf("%s: want a non-negative integer, got %q", k, v)
	}
	return n, nil
}

func getBool(k string, def bool) (bool, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.Errorf("%s: want a boolean, got %q", k, v)
	}
	return b, nil
}

func Load() (*Config, error) {
	cfg := &Config{
		ModelDir:    getEnv("DIGIT_MODEL_DIR", "models"),
		ModelName:   getEnv("DIGIT_MODEL_NAME", "mnist"),
		ModelExt:    getEnv("DIGIT_MODEL_EXT", model.DefaultFormat()),
		ONNXLibrary: getEnv("DIGIT_ONNX_LIB", ""),
	}

	var err error
	if cfg.NumThreads, err = getInt("DIGIT_NUM_THREADS", model.DefaultNumThreads); err != nil {
		return nil, err
	}
	if cfg.NumThreads == 0 {
		return nil, errors.New("DIGIT_NUM_THREADS: must be at least 1")
	}
	if cfg.Workers, err = getInt("DIGIT_WORKERS", 0); err != nil {
		return nil, err
	}
	if cfg.Invert, err = getBool("DIGIT_INVERT", false); err != nil {
		return nil, err
	}
	if cfg.Resampler, err = imageproc.ParseResampler(getEnv("DIGIT_RESAMPLER", "")); err != nil {
		return nil, errors.Wrap(err, "DIGIT_RESAMPLER")
	}
	if cfg.LogLevel, err = logrus.ParseLevel(getEnv("DIGIT_LOG_LEVEL", "info")); err != nil {
		return nil, errors.Wrap(err, "DIGIT_LOG_LEVEL")
	}
	return cfg, nil
}

// ModelPath is <ModelDir>/<ModelName>.<ModelExt>.
func (c *Config) ModelPath() string {
	return filepath.Join(c.ModelDir, c.ModelName+"."+c.ModelExt)
}

func NewLogger(level logrus.Level) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(level)
	return log
}
