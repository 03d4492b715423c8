package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/SalesPipe/internal/models"
)

//go:embed seed.yaml
var defaultSeed []byte

type seedFile struct {
	Entries []models.CatalogEntry `yaml:"entries"`
}

// DefaultSeed returns the built-in product tree.
func DefaultSeed() ([]models.CatalogEntry, error) {
	return LoadSeed(bytes.NewReader(defaultSeed))
}

// LoadSeedFile reads a YAML product tree from path.
func LoadSeedFile(path string) ([]models.CatalogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog seed %s: %w", path, err)
	}
	defer f.Close()
	return LoadSeed(f)
}

// LoadSeed decodes a YAML product tree. IDs must be present and unique;
// dangling parent references are logged and kept.
func LoadSeed(r io.Reader) ([]models.CatalogEntry, error) {
	var sf seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sf); err != nil {
		return nil, fmt.Errorf("failed to decode catalog seed: %w", err)
	}

	seen := make(map[string]bool, len(sf.Entries))
	for i, e := range sf.Entries {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog seed entry %d has no id", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("catalog seed has duplicate id %q", id)
		}
		seen[id] = true
		sf.Entries[i].ID = id
	}
	for _, e := range sf.Entries {
		if e.ParentID != "" && !seen[e.ParentID] {
			slog.Warn("LoadSeed: entry references unknown parent", "id", e.ID, "parentID", e.ParentID)
		}
	}
	return sf.Entries, nil
}

// Writer is the store contract Install needs.
type Writer interface {
	UpsertCatalogEntry(e models.CatalogEntry) error
}

// Install upserts entries into the catalog store. It stops at the first
// failure.
func Install(w Writer, entries []models.CatalogEntry) error {
	for _, e := range entries {
		if err := w.UpsertCatalogEntry(e); err != nil {
			return fmt.Errorf("install catalog entry %s: %w", e.ID, err)
		}
	}
	slog.Info("catalog.Install: catalog entries installed", "count", len(entries))
	return nil
}
