// Package inventory loads direct-mode targets from a YAML endpoint file.
package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"vum-unrestrict/internal/target"
)

// Provider defines the interface for target inventory sources
type Provider interface {
	// LoadTargets loads targets from the inventory source
	LoadTargets() ([]target.Target, error)
}

// EndpointFile is a YAML inventory of vCenter endpoints
type EndpointFile struct {
	path string
}

// NewEndpointFile creates a provider for the given YAML file
func NewEndpointFile(path string) *EndpointFile {
	return &EndpointFile{path: path}
}

// fileData is the on-disk structure of the endpoint file
type fileData struct {
	Defaults struct {
		Username string `yaml:"username"`
	} `yaml:"defaults"`
	Targets []struct {
		Name     string `yaml:"name"`
		Realm    string `yaml:"realm"`
		Username string `yaml:"username"`
	} `yaml:"targets"`
}

// LoadInventoryFromFile loads a provider for the file, validating its format
func LoadInventoryFromFile(path string) (Provider, error) {
	if path == "" {
		return nil, fmt.Errorf("inventory path cannot be empty")
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported inventory format '%s': expected a .yaml or .yml file", ext)
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("inventory file '%s' not accessible: %w", path, err)
	}

	return NewEndpointFile(path), nil
}

// LoadTargets parses the endpoint file into validated targets
func (f *EndpointFile) LoadTargets() ([]target.Target, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file '%s': %w", f.path, err)
	}

	var data fileData
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse inventory file '%s': %w", f.path, err)
	}

	targets := make([]target.Target, 0, len(data.Targets))
	for i, entry := range data.Targets {
		t := target.Target{
			Name:     entry.Name,
			Realm:    entry.Realm,
			Username: entry.Username,
			Original: entry.Name,
		}
		if t.Username == "" {
			t.Username = data.Defaults.Username
		}

		if err := target.ValidateTarget(t); err != nil {
			return nil, fmt.Errorf("inventory entry %d: %w", i+1, err)
		}

		targets = append(targets, t)
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("no targets found in inventory file '%s'", f.path)
	}

	return targets, nil
}
