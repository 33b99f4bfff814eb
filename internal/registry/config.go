package registry

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadDir registers every task type definition found in dir. Files may be
// YAML (.yaml/.yml) or JSON (.json), one task type per file; entries with
// the same task type override earlier registrations, so a config dir can
// re-price a built-in. Malformed files are logged and skipped so one bad
// definition does not take the whole catalog down.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read task type dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Registry: skipping %s: %v", path, err)
			continue
		}

		var cfg TaskTypeConfig
		if ext == ".json" {
			err = json.Unmarshal(data, &cfg)
		} else {
			err = yaml.Unmarshal(data, &cfg)
		}
		if err != nil {
			log.Printf("Registry: skipping %s: %v", path, err)
			continue
		}

		if err := r.Register(cfg); err != nil {
			log.Printf("Registry: skipping %s: %v", path, err)
		}
	}
	return nil
}
