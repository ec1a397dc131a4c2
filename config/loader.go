package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Loader reads a config struct from an optional YAML file, then lets
// environment variables override it. Priority: env > YAML > defaults.
type Loader[T any] struct {
	envPrefix  string
	configPath string
}

func NewLoader[T any](envPrefix, configPath string) *Loader[T] {
	return &Loader[T]{envPrefix: envPrefix, configPath: configPath}
}

func (l *Loader[T]) Load() (*T, error) {
	var cfg T

	if l.configPath != "" {
		if err := decodeYAMLFile(l.configPath, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if err := envconfig.Process(l.envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env vars: %w", err)
	}
	return &cfg, nil
}

// decodeYAMLFile decodes path into out, rejecting unknown keys.
func decodeYAMLFile(path string, out any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return nil
}
