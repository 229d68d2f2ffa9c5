package config

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// FlexibleStringSlice accepts either a single string or a list of strings
// in config files, so `extra_packages: "requests"` and
// `extra_packages: ["requests", "numpy"]` both parse.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*f = FlexibleStringSlice{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*f = FlexibleStringSlice(many)
	return nil
}

func (f *FlexibleStringSlice) UnmarshalYAML(value *yaml.Node) error {
	var single string
	if err := value.Decode(&single); err == nil {
		*f = FlexibleStringSlice{single}
		return nil
	}
	var many []string
	if err := value.Decode(&many); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*f = FlexibleStringSlice(many)
	return nil
}
