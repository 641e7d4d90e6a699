package mirror

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Filter decides whether a resolved artifact may be uploaded. A rejection
// always covers the whole artifact, descriptor included; partial uploads of
// an excluded artifact would leave orphaned metadata in the repository.
type Filter struct {
	// Exclude holds substrings matched case-sensitively against the group
	// and artifact IDs.
	Exclude []string
	// MaxSizeMiB rejects artifacts whose jar or war exceeds this size.
	MaxSizeMiB int64
}

// Admit reports whether art passes the filter. When it does not, reason
// names what matched.
func (f *Filter) Admit(art Artifact) (reason string, ok bool) {
	coord := art.Coordinate
	for _, keyword := range f.Exclude {
		if keyword == "" {
			continue
		}
		if strings.Contains(coord.GroupID, keyword) || strings.Contains(coord.ArtifactID, keyword) {
			return fmt.Sprintf("matches exclusion %q", keyword), false
		}
	}

	if f.MaxSizeMiB > 0 {
		for _, file := range art.Files {
			if file.RemoteSuffix != "jar" && file.RemoteSuffix != "war" {
				continue
			}
			info, err := os.Stat(file.LocalPath)
			if err != nil {
				continue
			}
			if info.Size()/1024/1024 > f.MaxSizeMiB {
				return fmt.Sprintf("%s exceeds %d MiB", filepath.Base(file.LocalPath), f.MaxSizeMiB), false
			}
		}
	}

	return "", true
}
