package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest describes the external tooling installed on the host.
//
//	scripts:
//	  full: backup-full.sh
//	  incremental: /opt/tools/incr.sh
//	  restore: restore-backup.sh
//	databases: [viaggi_db, gestionelogistica]
type Manifest struct {
	Scripts   map[string]string `yaml:"scripts"`
	Databases []string          `yaml:"databases"`
}

// LoadManifest reads a tooling manifest from disk.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	return &m, nil
}
