package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// mergeFile overlays the YAML file at path onto c. Keys absent from the file
// keep their current values.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
