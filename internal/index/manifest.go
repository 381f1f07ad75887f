package index

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"quikbot/internal/models"
)

// Manifest records a completed ingestion. Its presence is what marks the
// persistence directory as holding a usable index.
type Manifest struct {
	Backend        string    `yaml:"backend"`
	Collection     string    `yaml:"collection"`
	EmbeddingModel string    `yaml:"embedding_model"`
	Documents      []string  `yaml:"documents"`
	Chunks         int       `yaml:"chunks"`
	Dimensions     int       `yaml:"dimensions"`
	CreatedAt      time.Time `yaml:"created_at"`
}

// ReadManifest returns nil, nil when dir has no manifest.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, models.ManifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// WriteManifest writes to a temp file and renames it into place
func WriteManifest(dir string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, models.ManifestFile)); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
