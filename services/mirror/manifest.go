package mirror

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is the signed metadata carried inside a bundle. It lists every
// admitted artifact with its files, sizes and digests so an import can
// verify the archive before syncing a byte.
type Manifest struct {
	Version          string             `yaml:"version"`
	ID               string             `yaml:"id"`
	CreatedAt        time.Time          `yaml:"created_at"`
	Signer           string             `yaml:"signer,omitempty"`
	SigningPublicKey string             `yaml:"signing_public_key,omitempty"`
	Signature        string             `yaml:"signature,omitempty"`
	Artifacts        []ManifestArtifact `yaml:"artifacts"`
}

// SigningBytes marshals the manifest with the signature blanked, the exact
// payload that gets signed and verified.
func (m Manifest) SigningBytes() ([]byte, error) {
	clone := m
	clone.Signature = ""
	return yaml.Marshal(clone)
}

// FileCount sums the files across all artifacts.
func (m Manifest) FileCount() int {
	n := 0
	for _, art := range m.Artifacts {
		n += len(art.Files)
	}
	return n
}

// ManifestArtifact is one coordinate and its bundled files.
type ManifestArtifact struct {
	Group    string         `yaml:"group"`
	Artifact string         `yaml:"artifact"`
	Version  string         `yaml:"version"`
	Files    []ManifestFile `yaml:"files"`
}

// ManifestFile is one file of a bundled artifact. Path is relative to the
// scanned tree root, slash-separated.
type ManifestFile struct {
	Path   string `yaml:"path"`
	Suffix string `yaml:"suffix"`
	Size   int64  `yaml:"size"`
	SHA256 string `yaml:"sha256"`
}
