package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// overlayFile applies the keys present in a YAML file on top of c. Keys the
// file does not mention keep their current value.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}
