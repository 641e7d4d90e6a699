package mirror

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const snapshotSuffix = "-SNAPSHOT"

// Coordinate identifies an artifact by its group/artifact/version triple.
type Coordinate struct {
	GroupID    string `json:"group"`
	ArtifactID string `json:"artifact"`
	Version    string `json:"version"`
}

func (c Coordinate) String() string {
	return c.GroupID + ":" + c.ArtifactID + ":" + c.Version
}

// IsSnapshot reports whether the version routes to the snapshot repository.
func (c Coordinate) IsSnapshot() bool {
	return strings.HasSuffix(c.Version, snapshotSuffix)
}

// GroupPath returns the group in repository path form, dots replaced by
// slashes.
func (c Coordinate) GroupPath() string {
	return strings.ReplaceAll(c.GroupID, ".", "/")
}

// File is one uploadable file of a resolved artifact. RemoteSuffix is the
// file name tail after "<artifactId>-<version>" and one separator byte, e.g.
// "pom", "jar", "sources.jar".
type File struct {
	LocalPath    string
	RemoteSuffix string
}

// Artifact is a fully resolved upload unit: a coordinate plus its files,
// descriptor first. It is owned by the worker that dequeues it.
type Artifact struct {
	Coordinate Coordinate
	Files      []File
}

// Resolution failures. Both mean the descriptor is skipped, never that the
// run aborts.
var (
	ErrNotUnderRoot = errors.New("descriptor is not under the scan root")
	ErrTooShallow   = errors.New("descriptor path too shallow for a group/artifact/version layout")
)

// Strategy selects how a descriptor's associated files are discovered.
type Strategy string

const (
	// StrategyPrefix lists the descriptor's directory and takes every file
	// sharing the artifactId-version prefix. Catches classifier builds
	// (sources, javadoc) and checksum companions.
	StrategyPrefix Strategy = "prefix"
	// StrategyPackaging reads <packaging> from the descriptor and probes a
	// fixed extension candidate list for the single binary. Catches exotic
	// packaging types that break the prefix heuristic.
	StrategyPackaging Strategy = "packaging"
)

// ParseStrategy validates a strategy name from flags or environment.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.TrimSpace(s)) {
	case StrategyPrefix, "":
		return StrategyPrefix, nil
	case StrategyPackaging:
		return StrategyPackaging, nil
	default:
		return "", fmt.Errorf("unknown resolver strategy %q (want %q or %q)", s, StrategyPrefix, StrategyPackaging)
	}
}

// Resolver turns descriptor paths into resolved artifacts.
type Resolver struct {
	Root     string
	Strategy Strategy
}

// Resolve maps a descriptor path to its coordinate and file set. The layout
// requires at least group/artifactId/version/descriptor below the root;
// version is the second-to-last path segment, artifactId the third-to-last,
// and every leading segment joins into the dotted group.
func (r *Resolver) Resolve(descriptor string) (Artifact, error) {
	coord, err := r.coordinate(descriptor)
	if err != nil {
		return Artifact{}, err
	}

	var files []File
	switch r.Strategy {
	case StrategyPackaging:
		files = r.packagingFiles(descriptor, coord)
	default:
		files = r.prefixFiles(descriptor, coord)
	}

	return Artifact{Coordinate: coord, Files: files}, nil
}

func (r *Resolver) coordinate(descriptor string) (Coordinate, error) {
	rel, err := filepath.Rel(r.Root, descriptor)
	if err != nil {
		return Coordinate{}, ErrNotUnderRoot
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return Coordinate{}, ErrNotUnderRoot
	}

	parts := strings.Split(rel, "/")
	if len(parts) < 4 {
		return Coordinate{}, ErrTooShallow
	}

	return Coordinate{
		GroupID:    strings.Join(parts[:len(parts)-3], "."),
		ArtifactID: parts[len(parts)-3],
		Version:    parts[len(parts)-2],
	}, nil
}

// prefixFiles lists the descriptor's directory for files named
// "<artifactId>-<version>*", skipping repository marker files. The descriptor
// itself always rides along with suffix "pom" even when it is a bare pom.xml
// the prefix match would miss.
func (r *Resolver) prefixFiles(descriptor string, coord Coordinate) []File {
	files := []File{{LocalPath: descriptor, RemoteSuffix: "pom"}}

	dir := filepath.Dir(descriptor)
	prefix := coord.ArtifactID + "-" + coord.Version

	entries, err := os.ReadDir(dir)
	if err != nil {
		return files
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || len(name) <= len(prefix)+1 {
			continue
		}
		if strings.Contains(name, "_remote.repositories") || strings.HasSuffix(name, ".lastUpdated") {
			continue
		}
		path := filepath.Join(dir, name)
		if path == descriptor {
			continue
		}
		files = append(files, File{LocalPath: path, RemoteSuffix: name[len(prefix)+1:]})
	}

	return files
}

// packagingFiles probes for the single binary named by the descriptor's
// packaging, falling back through the common binary extensions.
func (r *Resolver) packagingFiles(descriptor string, coord Coordinate) []File {
	files := []File{{LocalPath: descriptor, RemoteSuffix: "pom"}}

	dir := filepath.Dir(descriptor)
	stem := coord.ArtifactID + "-" + coord.Version

	candidates := []string{"jar", "war", "aar", "tar.gz"}
	if pkg := descriptorPackaging(descriptor); pkg != "" && pkg != "jar" {
		candidates = append([]string{pkg}, candidates...)
	}

	for _, ext := range candidates {
		path := filepath.Join(dir, stem+"."+ext)
		if path == descriptor {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, File{LocalPath: path, RemoteSuffix: ext})
		break
	}

	return files
}

// descriptorPackaging extracts <packaging> from a descriptor, defaulting to
// "jar" when the element is absent or the file does not parse.
func descriptorPackaging(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "jar"
	}

	var doc struct {
		Packaging string `xml:"packaging"`
	}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return "jar"
	}
	if pkg := strings.TrimSpace(doc.Packaging); pkg != "" {
		return pkg
	}
	return "jar"
}
