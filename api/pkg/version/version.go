// Package version holds the API and schema version identifiers that are
// stamped onto every HTTP response and every emitted artifact.
package version

import (
	"os"
	"strings"
)

const (
	// APIVersion is the REST surface contract version.
	APIVersion = "1"

	// ArtifactSchemaVersion covers session manifests, segment manifests
	// and the on-disk session layout.
	ArtifactSchemaVersion = "1.0"

	// EventSchemaVersion covers every JSONL event line (trace, lifecycle
	// and recorder events).
	EventSchemaVersion = "1.0"
)

const versionFile = "/VERSION"

// BuildVersion returns the build version baked into the container image,
// falling back to a dev marker when the VERSION file is absent.
func BuildVersion() string {
	data, err := os.ReadFile(versionFile)
	if err != nil {
		return "v0.9.0-dev"
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "v0.9.0-dev"
	}
	return v
}
