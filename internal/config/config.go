// Package config loads dedupscan's configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/twpayne/dedupscan/internal/fstable"
)

// A Config is dedupscan's configuration.
type Config struct {
	MaxGoroutines    int    `yaml:"maxGoroutines"`
	Threshold        int    `yaml:"threshold"`
	DigestAlgorithm  string `yaml:"digestAlgorithm"`
	DirectoryEntries bool   `yaml:"directoryEntries"`
	FileContent      bool   `yaml:"fileContent"`
	ContentTypes     bool   `yaml:"contentTypes"`
	KeepGoing        bool   `yaml:"keepGoing"`
	SnapshotPath     string `yaml:"snapshotPath"`
	Top              int    `yaml:"top"`
	LogLevel         string `yaml:"logLevel"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		MaxGoroutines:   runtime.GOMAXPROCS(0),
		Threshold:       2,
		DigestAlgorithm: string(fstable.DefaultDigestAlgorithm),
		KeepGoing:       true,
		Top:             10,
		LogLevel:        logrus.InfoLevel.String(),
	}
}

// Load returns the configuration in the file at path, with unset values taken
// from the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Validate returns an error if c is invalid.
func (c *Config) Validate() error {
	if _, err := fstable.ParseDigestAlgorithm(c.DigestAlgorithm); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch {
	case c.MaxGoroutines < 1:
		return fmt.Errorf("maxGoroutines: %d: must be at least 1", c.MaxGoroutines)
	case c.Threshold < 1:
		return fmt.Errorf("threshold: %d: must be at least 1", c.Threshold)
	case c.Top < 0:
		return fmt.Errorf("top: %d: must not be negative", c.Top)
	}
	return nil
}

// Encode writes c to w as YAML.
func (c *Config) Encode(w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(c); err != nil {
		return err
	}
	return encoder.Close()
}
