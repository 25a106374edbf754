package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// Seed describes backend services and domain roots created at startup.
//
//	backends:
//	  - name: pdns
//	    provider: powerdns
//	    settings:
//	      api_url: http://pdns:8081
//	      api_key: ${PDNS_API_KEY}
//	      server_id: localhost
//	    roots:
//	      - zone: example.com
//	        allowed_record_types: [A, AAAA, TXT]
//	        allowed_operations: [read, update]
type Seed struct {
	Backends []SeedBackend `yaml:"backends"`
}

// SeedBackend is one backend service and the zones it serves.
type SeedBackend struct {
	Name     string            `yaml:"name"`
	Provider string            `yaml:"provider"`
	Settings map[string]string `yaml:"settings"`
	Roots    []SeedRoot        `yaml:"roots"`
}

// SeedRoot is one domain root bound to the enclosing backend.
type SeedRoot struct {
	Zone               string   `yaml:"zone"`
	Visibility         string   `yaml:"visibility"`
	MaxSubdomainDepth  int      `yaml:"max_subdomain_depth"`
	AllowedRecordTypes []string `yaml:"allowed_record_types"`
	AllowedOperations  []string `yaml:"allowed_operations"`
}

// LoadSeed reads a seed file. ${ENV_VAR} references in setting values are
// expanded so credentials can stay out of the file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading backends file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing backends file: %w", err)
	}

	for i := range seed.Backends {
		b := &seed.Backends[i]
		if b.Name == "" || b.Provider == "" {
			return nil, fmt.Errorf("backends file: entry %d: name and provider are required", i)
		}
		for k, v := range b.Settings {
			b.Settings[k] = os.ExpandEnv(v)
		}
		for j, r := range b.Roots {
			if r.Zone == "" {
				return nil, fmt.Errorf("backends file: backend %q: root %d: zone is required", b.Name, j)
			}
		}
	}
	return &seed, nil
}
