package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/retrago/retrago/chunker"
	"github.com/retrago/retrago/embedding"
	"github.com/retrago/retrago/model"
	"github.com/retrago/retrago/persistence"
)

const (
	// ManifestVersion is the current manifest format version.
	ManifestVersion = 1

	// Data file names within a snapshot directory.
	ManifestFileName = "manifest.json"
	MatrixFileName   = "matrix.f32"
	IDMapFileName    = "idmap.txt"
	ChunksFileName   = "chunks.jsonl"
)

// Checksums holds the CRC32 of each snapshot data file.
type Checksums struct {
	Matrix uint32 `json:"matrix"`
	IDMap  uint32 `json:"idmap"`
	Chunks uint32 `json:"chunks"`
}

// Manifest records everything needed to open and query a snapshot: the
// backend kind, the vector dimension and count, the normalization convention,
// the chunker and provider configs the build used, caps and data checksums.
type Manifest struct {
	Version       int                 `json:"version"`
	ID            string              `json:"id"`
	Backend       model.BackendKind   `json:"backend"`
	Dimension     int                 `json:"dimension"`
	Count         int                 `json:"count"`
	Normalization model.Normalization `json:"normalization"`
	Chunker       chunker.Config      `json:"chunker"`
	Provider      embedding.Config    `json:"provider"`
	Caps          model.Caps          `json:"caps"`
	Checksums     Checksums           `json:"checksums"`
	CreatedAt     time.Time           `json:"created_at"`
}

// Validate checks manifest invariants.
func (m *Manifest) Validate() error {
	if m.Version != ManifestVersion {
		return fmt.Errorf("unsupported manifest version: %d (expected %d)", m.Version, ManifestVersion)
	}
	if m.ID == "" {
		return fmt.Errorf("manifest: empty snapshot id")
	}
	if !m.Backend.Valid() {
		return fmt.Errorf("manifest: unknown backend kind %q", m.Backend)
	}
	if !m.Normalization.Valid() {
		return fmt.Errorf("manifest: unknown normalization %q", m.Normalization)
	}
	if m.Dimension <= 0 {
		return fmt.Errorf("manifest: invalid dimension %d", m.Dimension)
	}
	if m.Count < 0 {
		return fmt.Errorf("manifest: invalid count %d", m.Count)
	}
	return nil
}

// SaveManifest atomically writes the manifest into dir.
func SaveManifest(dir string, m *Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return persistence.WriteFileAtomic(dir+"/"+ManifestFileName, data, 0o644)
}

// LoadManifest reads and validates the manifest in dir.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(dir + "/" + ManifestFileName)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
