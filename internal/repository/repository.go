// Package repository provides the artifact repository client used by the sync
// engine.
//
// The engine only depends on the narrow ArtifactRepository interface: list the
// versions known upstream for a coordinate pair, and fetch the metadata of one
// version. The concrete implementation speaks the Maven repository layout over
// HTTP; everything beyond that surface (artifact contents, checksums, upload)
// is out of scope.
package repository

import (
	"context"
	"errors"

	"github.com/depot-io/depot/internal/versions"
)

// ErrRepository wraps every upstream lookup failure: unreachable repository,
// rejected coordinates, malformed metadata. Callers treat it as a recoverable,
// per-scope condition.
var ErrRepository = errors.New("artifact repository error")

// VersionMetadata is the upstream metadata for one artifact version: its
// identity and its direct dependency declarations.
type VersionMetadata struct {
	Key          versions.Key
	Dependencies []versions.Key
}

// ArtifactRepository is the upstream collaborator contract.
type ArtifactRepository interface {
	// FindVersions returns the version ids known upstream for group/artifact,
	// in repository order. Fails with an error wrapping ErrRepository when the
	// coordinates are unreachable or malformed.
	FindVersions(ctx context.Context, groupID, artifactID string) ([]string, error)

	// FindVersion returns the metadata of one version, or nil when the
	// version does not exist upstream. Fails with an error wrapping
	// ErrRepository on lookup failure.
	FindVersion(ctx context.Context, groupID, artifactID, versionID string) (*VersionMetadata, error)
}
