package auth

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// operatorsFile is the on-disk shape of the operator override list.
type operatorsFile struct {
	Operators []string `yaml:"operators"`
}

// LoadOperators reads the operator override file: player names listed
// there are granted the operator role at login regardless of their
// stored account role.
//
// Postcondition: Returns the name set, or an empty set when path is "".
func LoadOperators(path string) (map[string]bool, error) {
	ops := make(map[string]bool)
	if path == "" {
		return ops, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading operators file: %w", err)
	}

	var f operatorsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing operators file: %w", err)
	}

	for _, name := range f.Operators {
		if name == "" {
			continue
		}
		ops[name] = true
	}
	return ops, nil
}
