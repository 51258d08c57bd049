package params

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// LoadParams reads a LamletParams configuration from a YAML file and
// validates both its schema version and its structural invariants.
func LoadParams(path string) (LamletParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LamletParams{}, fmt.Errorf("params: reading %s: %w", path, err)
	}

	var p LamletParams
	if err := yaml.Unmarshal(data, &p); err != nil {
		return LamletParams{}, fmt.Errorf("params: parsing %s: %w", path, err)
	}

	if err := CheckSchemaVersion(p.SchemaVersion); err != nil {
		return LamletParams{}, err
	}
	if err := p.Validate(); err != nil {
		return LamletParams{}, err
	}

	return p, nil
}

// SaveParams writes a LamletParams configuration to a YAML file, stamping
// the current SchemaVersion if the caller left it blank.
func SaveParams(path string, p LamletParams) error {
	if p.SchemaVersion == "" {
		p.SchemaVersion = SchemaVersion
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("params: marshaling params: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("params: writing %s: %w", path, err)
	}

	return nil
}
